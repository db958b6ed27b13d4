package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/krau/leafclassifier/service"
)

// multipartEnvelope is the room allowed on top of the file limit for the
// multipart boundaries and part headers.
const multipartEnvelope = 64 << 10

var (
	errUnauthorized = errors.New("unauthorized")
)

// Predictor is the serving side of service.Engine.
type Predictor interface {
	Health() service.Health
	Predict(ctx context.Context, data []byte) (*service.Prediction, error)
}

type Handler struct {
	predictor      Predictor
	token          string
	maxUploadBytes int64
}

func NewHandler(predictor Predictor, token string, maxUploadBytes int64) *Handler {
	return &Handler{
		predictor:      predictor,
		token:          token,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) authenticate(c *gin.Context) error {
	if h.token == "" {
		return nil
	}
	auth := c.GetHeader("Authorization")
	providedToken := ""
	if len(auth) > 7 && auth[:7] == "Bearer " {
		providedToken = auth[7:]
	}
	if subtle.ConstantTimeCompare([]byte(providedToken), []byte(h.token)) != 1 {
		return errUnauthorized
	}
	return nil
}

func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.predictor.Health())
}

func (h *Handler) PredictHandler(c *gin.Context) {
	if err := h.authenticate(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}

	bodyLimit := h.maxUploadBytes + multipartEnvelope
	if c.Request.ContentLength > bodyLimit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded, use multipart field 'file'"})
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open uploaded file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
		return
	}

	resp, err := h.predictor.Predict(c.Request.Context(), data)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			slog.Info("Rejected upload",
				slog.String("filename", fileHeader.Filename),
				slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Prediction failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}
