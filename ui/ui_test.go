package ui

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/krau/leafclassifier/client"
	"github.com/krau/leafclassifier/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUploadLimit = 10 << 20

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAPI struct {
	healthErr  error
	predictErr error
	predicted  int
}

func (f *fakeAPI) URL() string { return "http://backend:8080" }

func (f *fakeAPI) Health(context.Context) (*service.Health, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &service.Health{Status: "ok", InputSize: service.Size{Height: 256, Width: 256}, PreprocessMode: "resnetv2"}, nil
}

func (f *fakeAPI) Predict(_ context.Context, filename, contentType string, data []byte) (*service.Prediction, error) {
	f.predicted++
	if f.predictErr != nil {
		return nil, f.predictErr
	}
	return &service.Prediction{
		PredictedClass: "EarlyBlight",
		Confidence:     0.7,
		Probabilities:  map[string]float32{"Healthy": 0.1, "EarlyBlight": 0.7, "LateBlight": 0.2},
	}, nil
}

func upload(t *testing.T, filename, contentType string, data []byte) *http.Request {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestIndexShowsHealth(t *testing.T) {
	rr := serve(New(&fakeAPI{}, testUploadLimit), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Backend connected  http://backend:8080  | input: [256, 256]")
	assert.Contains(t, body, `class="banner success"`)
	assert.NotContains(t, body, "disabled")
}

func TestIndexBackendDown(t *testing.T) {
	rr := serve(New(&fakeAPI{healthErr: errors.New("connection refused")}, testUploadLimit), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Backend not reachable: http://backend:8080")
	assert.Contains(t, body, "disabled")

	rr = serve(New(&fakeAPI{healthErr: &client.APIError{StatusCode: 503}}, testUploadLimit), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rr.Body.String(), "Backend responded but not OK")
	assert.Contains(t, rr.Body.String(), `class="banner warning"`)
}

func TestPredictRendersResult(t *testing.T) {
	api := &fakeAPI{}
	rr := serve(New(api, testUploadLimit), upload(t, "leaf.png", "image/png", []byte("png-bytes")))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()

	assert.Equal(t, 1, api.predicted)
	assert.Contains(t, body, "<strong>Prediction:</strong> EarlyBlight")
	assert.Contains(t, body, "<strong>Confidence:</strong> 0.7000")
	assert.Contains(t, body, "data:image/png;base64,")
	// bars are ordered by probability
	early := bytes.Index(rr.Body.Bytes(), []byte("<span>EarlyBlight</span>"))
	late := bytes.Index(rr.Body.Bytes(), []byte("<span>LateBlight</span>"))
	healthy := bytes.Index(rr.Body.Bytes(), []byte("<span>Healthy</span>"))
	assert.True(t, early > 0 && early < late && late < healthy)
}

func TestPredictRejectsUnsupportedFile(t *testing.T) {
	api := &fakeAPI{}
	rr := serve(New(api, testUploadLimit), upload(t, "notes.txt", "text/plain", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Unsupported file type")
	assert.Zero(t, api.predicted)

	rr = serve(New(api, testUploadLimit), httptest.NewRequest(http.MethodPost, "/predict", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPredictUsesConfiguredLimit(t *testing.T) {
	api := &fakeAPI{}
	r := New(api, 16)

	rr := serve(r, upload(t, "leaf.png", "image/png", bytes.Repeat([]byte{1}, 17)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Contains(t, rr.Body.String(), "Image is larger than 16 bytes")
	assert.Zero(t, api.predicted)

	rr = serve(r, upload(t, "leaf.png", "image/png", bytes.Repeat([]byte{1}, 16)))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, api.predicted)

	assert.Equal(t, "10 MB", humanBytes(10<<20))
}

func TestPredictShowsBackendError(t *testing.T) {
	api := &fakeAPI{predictErr: &client.APIError{StatusCode: 400, Body: `{"error":"failed to decode image"}`}}
	rr := serve(New(api, testUploadLimit), upload(t, "fake.jpg", "image/jpeg", []byte("text renamed")))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "Error 400: {&#34;error&#34;:&#34;failed to decode image&#34;}")
}

func TestPredictDisabledWhenBackendDown(t *testing.T) {
	api := &fakeAPI{healthErr: errors.New("dial tcp: refused")}
	rr := serve(New(api, testUploadLimit), upload(t, "leaf.jpg", "image/jpeg", []byte("jpeg")))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Zero(t, api.predicted)
	assert.Contains(t, rr.Body.String(), "Backend not reachable")
}

func TestAgainstBackend(t *testing.T) {
	es := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status":"ok","input_size":[224,224],"preprocess_mode":"none"}`))
		case "/predict":
			w.Write([]byte(`{"predicted_class":"Healthy","confidence":0.55,"probabilities":{"Healthy":0.55,"EarlyBlight":0.25,"LateBlight":0.2}}`))
		}
	}))
	defer es.Close()
	c, err := client.NewClient(es.URL, es.Client())
	require.NoError(t, err)

	r := New(c, testUploadLimit)
	rr := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rr.Body.String(), "input: [224, 224]")

	rr = serve(r, upload(t, "leaf.JPEG", "image/jpeg", []byte("jpeg")))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<strong>Confidence:</strong> 0.5500")
}

func TestBars(t *testing.T) {
	out := bars(map[string]float32{"b": 0.25, "a": 0.25, "c": 0.5})
	require.Len(t, out, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{out[0].Label, out[1].Label, out[2].Label})
	assert.InDelta(t, 50.0, out[0].Percent, 1e-6)
}
