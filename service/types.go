package service

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultSize is used when the model does not declare its spatial input size.
var DefaultSize = Size{Height: 256, Width: 256}

// Size is the spatial input size of the model. It serializes as [H, W].
type Size struct {
	Height int
	Width  int
}

func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{s.Height, s.Width})
}

func (s *Size) UnmarshalJSON(data []byte) error {
	var hw [2]int
	if err := json.Unmarshal(data, &hw); err != nil {
		return fmt.Errorf("input size must be [height, width]: %w", err)
	}
	s.Height, s.Width = hw[0], hw[1]
	return nil
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Height, s.Width)
}

// Layout is the memory order of the input tensor.
type Layout int

const (
	// NHWC is the Keras/TensorFlow export layout.
	NHWC Layout = iota
	NCHW
)

func (l Layout) String() string {
	if l == NCHW {
		return "NCHW"
	}
	return "NHWC"
}

// Model is a loaded classifier. Implementations must be safe for concurrent
// use and must not change their reported size or layout after construction.
type Model interface {
	InputSize() Size
	Layout() Layout
	// Forward runs a single forward pass over one image laid out as Layout()
	// with values in 0..255 and returns one probability per class.
	Forward(ctx context.Context, input []float32) ([]float32, error)
}

type Health struct {
	Status         string         `json:"status"`
	InputSize      Size           `json:"input_size"`
	PreprocessMode PreprocessMode `json:"preprocess_mode"`
}

type Prediction struct {
	PredictedClass string             `json:"predicted_class"`
	Confidence     float32            `json:"confidence"`
	Probabilities  map[string]float32 `json:"probabilities"`
}
