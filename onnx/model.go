package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/krau/leafclassifier/service"
	ort "github.com/yalue/onnxruntime_go"
)

type Options struct {
	// Sessions is the number of sessions that may run concurrently.
	Sessions int
	// Threads caps intra-op threads per session; 0 keeps the runtime default.
	Threads int
	// NumClasses is the label count, used when the model output is dynamic.
	NumClasses int
}

type session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *session) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// Model is an ONNX classifier backed by a pool of sessions. Each session owns
// its bound input and output tensors, so a forward pass holds one session
// exclusively.
type Model struct {
	pool     chan *session
	sessions []*session
	size     service.Size
	layout   service.Layout
	classes  int

	closeOnce sync.Once
}

var _ service.Model = (*Model)(nil)

// Load opens path and resolves the input size once from the model's declared
// input shape, falling back to service.DefaultSize.
func Load(path string, opts Options) (*Model, error) {
	if opts.Sessions < 1 {
		opts.Sessions = 1
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("expected one input and at least one output, got %d and %d", len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	if in.DataType != ort.TensorElementDataTypeFloat || out.DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("only float32 models are supported, got input %v and output %v", in.DataType, out.DataType)
	}

	layout := service.DetectLayout(in.Dimensions)
	size, declared := service.InferInputSize(in.Dimensions, layout).Get()
	if !declared {
		size = service.DefaultSize
		slog.Warn("Model does not declare its input size, using default",
			slog.Any("shape", []int64(in.Dimensions)), slog.String("size", size.String()))
	}
	classes, err := outputClasses(out.Dimensions, opts.NumClasses)
	if err != nil {
		return nil, err
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer so.Destroy()
	if opts.Threads > 0 {
		if err := so.SetIntraOpNumThreads(opts.Threads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	m := &Model{
		pool:    make(chan *session, opts.Sessions),
		size:    size,
		layout:  layout,
		classes: classes,
	}
	for range opts.Sessions {
		s, err := newSession(path, in.Name, out.Name, inputShape(layout, size), ort.NewShape(1, int64(classes)), so)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.sessions = append(m.sessions, s)
		m.pool <- s
	}

	slog.Info("Loaded model",
		slog.String("path", path),
		slog.String("input", in.Name),
		slog.String("output", out.Name),
		slog.String("size", size.String()),
		slog.String("layout", layout.String()),
		slog.Int("classes", classes),
		slog.Int("sessions", opts.Sessions))
	return m, nil
}

func newSession(path, inputName, outputName string, inShape, outShape ort.Shape, so *ort.SessionOptions) (*session, error) {
	s := &session{}
	var err error
	s.input, err = ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	s.output, err = ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	s.session, err = ort.NewAdvancedSession(path,
		[]string{inputName}, []string{outputName},
		[]ort.Value{s.input}, []ort.Value{s.output},
		so)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}
	return s, nil
}

// inputShape is the batch-of-one tensor shape for layout.
func inputShape(layout service.Layout, size service.Size) ort.Shape {
	h, w := int64(size.Height), int64(size.Width)
	if layout == service.NCHW {
		return ort.NewShape(1, 3, h, w)
	}
	return ort.NewShape(1, h, w, 3)
}

// outputClasses reads the class count from the declared output shape. A
// dynamic class dimension defers to the label count.
func outputClasses(dims ort.Shape, labels int) (int, error) {
	if len(dims) == 0 {
		return 0, errors.New("model output has no dimensions")
	}
	declared := int(dims[len(dims)-1])
	switch {
	case declared <= 0 && labels <= 0:
		return 0, errors.New("model output size is dynamic and no label count was given")
	case declared <= 0:
		return labels, nil
	case labels > 0 && declared != labels:
		return 0, fmt.Errorf("%w: model has %d outputs, label list has %d", service.ErrLabelMismatch, declared, labels)
	default:
		return declared, nil
	}
}

func (m *Model) InputSize() service.Size {
	return m.size
}

func (m *Model) Layout() service.Layout {
	return m.layout
}

func (m *Model) Forward(ctx context.Context, input []float32) ([]float32, error) {
	var s *session
	select {
	case s = <-m.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { m.pool <- s }()

	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input), len(dst))
	}
	copy(dst, input)
	if err := s.session.Run(); err != nil {
		return nil, err
	}

	probs := make([]float32, m.classes)
	copy(probs, s.output.GetData())
	return probs, nil
}

// Close waits for in-flight forward passes and releases every session.
func (m *Model) Close() {
	m.closeOnce.Do(func() {
		for range m.sessions {
			(<-m.pool).destroy()
		}
	})
}
