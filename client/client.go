package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/krau/leafclassifier/service"
)

// APIError is a non-2xx answer from the inference service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Error %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	httpclient *http.Client
	url        *url.URL
}

func NewClient(hostport string, httpclient *http.Client) (*Client, error) {
	u, err := url.Parse(hostport)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hostport [%s]: %w", hostport, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("hostport [%s] must be an absolute URL", hostport)
	}
	if httpclient == nil {
		httpclient = http.DefaultClient
	}
	return &Client{
		url:        u,
		httpclient: httpclient,
	}, nil
}

func (c Client) URL() string {
	return c.url.String()
}

func (c Client) endpoint(path string) string {
	u := *c.url
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

func (c Client) do(req *http.Request) ([]byte, error) {
	response, err := c.httpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server error: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read server response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &APIError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func (c Client) Health(ctx context.Context) (*service.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health"), nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var health service.Health
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("invalid health response: %w", err)
	}
	return &health, nil
}

// Predict uploads one image as multipart field "file".
func (c Client) Predict(ctx context.Context, filename, contentType string, data []byte) (*service.Prediction, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/predict"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var prediction service.Prediction
	if err := json.Unmarshal(body, &prediction); err != nil {
		return nil, fmt.Errorf("invalid prediction response: %w", err)
	}
	return &prediction, nil
}
