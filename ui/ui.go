package ui

import (
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/krau/leafclassifier/client"
	"github.com/krau/leafclassifier/service"
	"github.com/samber/lo"
)

//go:embed templates/*.tmpl
var templates embed.FS

const (
	title          = "Potato Disease Detection"
	healthTimeout  = 5 * time.Second
	predictTimeout = 60 * time.Second
)

var allowedExtensions = []string{".jpg", ".jpeg", ".png"}

type status struct {
	Level   string
	Message string
}

type bar struct {
	Label       string
	Probability float32
	Percent     float64
}

type page struct {
	Title    string
	Status   status
	Ready    bool
	Filename string
	Preview  template.URL
	Result   *service.Prediction
	Bars     []bar
	Error    string
}

// API is the part of the inference client the UI needs.
type API interface {
	URL() string
	Health(ctx context.Context) (*service.Health, error)
	Predict(ctx context.Context, filename, contentType string, data []byte) (*service.Prediction, error)
}

var _ API = (*client.Client)(nil)

type server struct {
	api            API
	maxUploadBytes int64
}

// New builds the UI router. Every page render re-checks the backend health.
// maxUploadBytes should match the API's upload limit.
func New(api API, maxUploadBytes int64) *gin.Engine {
	s := server{api: api, maxUploadBytes: maxUploadBytes}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), gzip.Gzip(gzip.DefaultCompression))
	r.MaxMultipartMemory = maxUploadBytes
	r.SetHTMLTemplate(template.Must(template.New("").ParseFS(templates, "templates/*.tmpl")))

	r.GET("/", s.Index)
	r.POST("/predict", s.Predict)
	return r
}

func (s server) checkHealth(ctx context.Context) (status, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	health, err := s.api.Health(ctx)
	var apiErr *client.APIError
	switch {
	case err == nil:
		return status{
			Level: "success",
			Message: fmt.Sprintf("Backend connected  %s  | input: [%d, %d]",
				s.api.URL(), health.InputSize.Height, health.InputSize.Width),
		}, true
	case errors.As(err, &apiErr):
		return status{Level: "warning", Message: "Backend responded but not OK"}, false
	default:
		slog.Warn("Backend health check failed", slog.String("url", s.api.URL()), slog.String("error", err.Error()))
		return status{Level: "error", Message: "Backend not reachable: " + s.api.URL()}, false
	}
}

func (s server) newPage(ctx context.Context) page {
	st, ready := s.checkHealth(ctx)
	return page{Title: title, Status: st, Ready: ready}
}

func (s server) Index(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.HTML(http.StatusOK, "index.tmpl", s.newPage(c.Request.Context()))
}

func (s server) Predict(c *gin.Context) {
	p := s.newPage(c.Request.Context())
	render := func(code int) {
		c.HTML(code, "index.tmpl", p)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		p.Error = "Choose an image to upload"
		render(http.StatusBadRequest)
		return
	}
	p.Filename = fileHeader.Filename
	if !lo.Contains(allowedExtensions, strings.ToLower(filepath.Ext(fileHeader.Filename))) {
		p.Error = "Unsupported file type, upload a jpg, jpeg or png image"
		render(http.StatusBadRequest)
		return
	}
	if fileHeader.Size > s.maxUploadBytes {
		p.Error = fmt.Sprintf("Image is larger than %s", humanBytes(s.maxUploadBytes))
		render(http.StatusRequestEntityTooLarge)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		p.Error = "Failed to open uploaded file"
		render(http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		p.Error = "Failed to read uploaded file"
		render(http.StatusBadRequest)
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "image/") {
		p.Preview = template.URL("data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data))
	}

	if !p.Ready {
		p.Error = "Prediction is unavailable while the backend is unhealthy"
		render(http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), predictTimeout)
	defer cancel()
	result, err := s.api.Predict(ctx, fileHeader.Filename, contentType, data)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			p.Error = apiErr.Error()
		} else {
			p.Error = "Backend not reachable: " + s.api.URL()
			slog.Error("Prediction request failed", slog.String("error", err.Error()))
		}
		render(http.StatusBadGateway)
		return
	}

	p.Result = result
	p.Bars = bars(result.Probabilities)
	render(http.StatusOK)
}

func humanBytes(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}

// bars orders probabilities from most to least likely.
func bars(probs map[string]float32) []bar {
	out := lo.MapToSlice(probs, func(label string, p float32) bar {
		return bar{Label: label, Probability: p, Percent: float64(p) * 100}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].Label < out[j].Label
	})
	return out
}
