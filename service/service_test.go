package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var potatoLabels = Labels{"Healthy", "EarlyBlight", "LateBlight"}

// constModel always returns the same scores and records the inputs it saw.
type constModel struct {
	size   Size
	layout Layout
	scores []float32
	err    error

	mu     sync.Mutex
	inputs [][]float32
}

func (m *constModel) InputSize() Size { return m.size }
func (m *constModel) Layout() Layout  { return m.layout }

func (m *constModel) Forward(_ context.Context, input []float32) ([]float32, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]float32(nil), m.scores...), nil
}

func newConstModel() *constModel {
	return &constModel{size: Size{Height: 4, Width: 6}, scores: []float32{0.1, 0.7, 0.2}}
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 200, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestPredictConstantModel(t *testing.T) {
	model := newConstModel()
	engine, err := NewEngine(model, potatoLabels, Options{})
	require.NoError(t, err)

	for name, data := range map[string][]byte{
		"png":  encodePNG(t, gradient(20, 10)),
		"jpeg": encodeJPEG(t, gradient(20, 10)),
		"gray": encodePNG(t, image.NewGray(image.Rect(0, 0, 3, 3))),
	} {
		t.Run(name, func(t *testing.T) {
			res, err := engine.Predict(context.Background(), data)
			require.NoError(t, err)
			assert.Equal(t, "EarlyBlight", res.PredictedClass)
			assert.InDelta(t, 0.7, res.Confidence, 1e-6)
			assert.Equal(t, map[string]float32{"Healthy": 0.1, "EarlyBlight": 0.7, "LateBlight": 0.2}, res.Probabilities)

			var sum float32
			for _, p := range res.Probabilities {
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-5)
		})
	}

	// every forward pass got a 1x4x6x3 tensor
	for _, in := range model.inputs {
		assert.Len(t, in, 4*6*3)
	}
}

func TestPredictRejectsMalformedUpload(t *testing.T) {
	model := newConstModel()
	engine, err := NewEngine(model, potatoLabels, Options{})
	require.NoError(t, err)

	for _, data := range [][]byte{nil, []byte("this is a text file renamed to .jpg"), encodePNG(t, gradient(4, 4))[:20]} {
		_, err := engine.Predict(context.Background(), data)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidInput))
		var decodeErr *DecodeError
		assert.True(t, errors.As(err, &decodeErr))
	}
	assert.Empty(t, model.inputs)
}

func TestPredictRejectsOversizedImage(t *testing.T) {
	model := newConstModel()
	engine, err := NewEngine(model, potatoLabels, Options{})
	require.NoError(t, err)

	_, err = engine.Predict(context.Background(), pngHeader(60000, 60000))
	assert.ErrorIs(t, err, ErrInvalidInput)

	small, err := NewEngine(model, potatoLabels, Options{MaxPixels: 100})
	require.NoError(t, err)
	_, err = small.Predict(context.Background(), encodePNG(t, gradient(20, 10)))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = small.Predict(context.Background(), encodePNG(t, gradient(10, 10)))
	assert.NoError(t, err)

	assert.Len(t, model.inputs, 1)
}

func TestPredictModelFailures(t *testing.T) {
	model := newConstModel()
	model.err = errors.New("session run failed")
	engine, err := NewEngine(model, potatoLabels, Options{})
	require.NoError(t, err)

	_, err = engine.Predict(context.Background(), encodePNG(t, gradient(4, 4)))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidInput))

	model.err = nil
	model.scores = []float32{0.5, 0.5}
	_, err = engine.Predict(context.Background(), encodePNG(t, gradient(4, 4)))
	assert.ErrorIs(t, err, ErrLabelMismatch)
}

func TestPreprocessModeDoesNotChangePredictions(t *testing.T) {
	data := encodePNG(t, gradient(9, 7))
	var results []*Prediction
	var inputs [][]float32
	for _, mode := range []string{"resnetv2", "mobilenetv2", "efficientnet", "none", "custom"} {
		model := newConstModel()
		engine, err := NewEngine(model, potatoLabels, Options{PreprocessMode: mode})
		require.NoError(t, err)
		assert.Equal(t, PreprocessMode(mode), engine.Health().PreprocessMode)

		res, err := engine.Predict(context.Background(), data)
		require.NoError(t, err)
		results = append(results, res)
		inputs = append(inputs, model.inputs[0])
	}
	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0], results[i])
		assert.Equal(t, inputs[0], inputs[i])
	}
}

func TestHealthIsStable(t *testing.T) {
	engine, err := NewEngine(newConstModel(), potatoLabels, Options{})
	require.NoError(t, err)

	first := engine.Health()
	assert.Equal(t, Health{Status: "ok", InputSize: Size{Height: 4, Width: 6}, PreprocessMode: ModeResNetV2}, first)
	for i := 0; i < 5; i++ {
		_, _ = engine.Predict(context.Background(), encodePNG(t, gradient(3, 3)))
		assert.Equal(t, first, engine.Health())
	}
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(nil, potatoLabels, Options{})
	assert.Error(t, err)

	_, err = NewEngine(newConstModel(), Labels{}, Options{})
	assert.ErrorIs(t, err, ErrEmptyLabels)

	_, err = NewEngine(newConstModel(), Labels{"a", "a"}, Options{})
	assert.Error(t, err)

	_, err = NewEngine(&constModel{}, potatoLabels, Options{})
	assert.Error(t, err)

	_, err = NewEngine(newConstModel(), potatoLabels, Options{ResizeFilter: "sinc"})
	assert.Error(t, err)
}

func TestNewPredictionTiesPickFirst(t *testing.T) {
	res, err := newPrediction(Labels{"a", "b", "c"}, []float32{0.4, 0.4, 0.2})
	require.NoError(t, err)
	assert.Equal(t, "a", res.PredictedClass)
	assert.Equal(t, float32(0.4), res.Confidence)
}

func TestPredictConcurrent(t *testing.T) {
	engine, err := NewEngine(newConstModel(), potatoLabels, Options{})
	require.NoError(t, err)
	data := encodePNG(t, gradient(8, 8))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Predict(context.Background(), data)
			if assert.NoError(t, err) {
				assert.Equal(t, "EarlyBlight", res.PredictedClass)
			}
		}()
	}
	wg.Wait()
}
