package service

import (
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

type Options struct {
	PreprocessMode string
	ResizeFilter   string
	// MaxPixels caps width*height of a decoded upload. 0 means DefaultMaxPixels.
	MaxPixels int
}

// Engine is the immutable serving context built once at startup: the model,
// its label list and the input size resolved at load time. It is safe for
// concurrent use.
type Engine struct {
	model  Model
	labels Labels
	size   Size
	layout Layout
	mode   PreprocessMode
	filter imaging.ResampleFilter

	maxPixels int
}

func NewEngine(model Model, labels Labels, opts Options) (*Engine, error) {
	if model == nil {
		return nil, errors.New("model is nil")
	}
	if err := labels.Validate(); err != nil {
		return nil, err
	}
	size := model.InputSize()
	if size.Height <= 0 || size.Width <= 0 {
		return nil, fmt.Errorf("model reports invalid input size %s", size)
	}
	filter, err := ParseFilter(opts.ResizeFilter)
	if err != nil {
		return nil, err
	}
	mode := PreprocessMode(opts.PreprocessMode)
	if mode == "" {
		mode = ModeResNetV2
	}
	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Engine{
		model:     model,
		labels:    append(Labels(nil), labels...),
		size:      size,
		layout:    model.Layout(),
		mode:      mode,
		filter:    filter,
		maxPixels: maxPixels,
	}, nil
}

func (e *Engine) Health() Health {
	return Health{
		Status:         "ok",
		InputSize:      e.size,
		PreprocessMode: e.mode,
	}
}

func (e *Engine) InputSize() Size {
	return e.size
}

func (e *Engine) Mode() PreprocessMode {
	return e.mode
}

// Labels returns a copy of the label list.
func (e *Engine) Labels() Labels {
	return append(Labels(nil), e.labels...)
}
