package service

import (
	"context"
	"fmt"

	"github.com/krau/leafclassifier/tracer"
)

// Predict decodes one uploaded image, resizes it to the model input size and
// runs a single forward pass. Undecodable bytes return a *DecodeError.
func (e *Engine) Predict(ctx context.Context, data []byte) (*Prediction, error) {
	span := tracer.StartSpan(ctx, "engine.predict")
	defer span.End()
	span.SetIntAttribute("upload_bytes", len(data))

	t := startStage("decode")
	img, err := Decode(data, e.maxPixels)
	t.ObserveDuration()
	if err != nil {
		rejectedInputs.Inc()
		span.RecordError(err)
		return nil, err
	}

	t = startStage("resize")
	input := ToTensor(Resize(img, e.size, e.filter), e.layout)
	t.ObserveDuration()

	t = startStage("forward")
	probs, err := e.model.Forward(span.Context(), input)
	t.ObserveDuration()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	result, err := newPrediction(e.labels, probs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetStringAttribute("predicted_class", result.PredictedClass)
	predictions.WithLabelValues(result.PredictedClass).Inc()
	return result, nil
}

// newPrediction pairs every score with its label. Ties resolve to the lowest
// index.
func newPrediction(labels Labels, probs []float32) (*Prediction, error) {
	if len(probs) != len(labels) {
		return nil, fmt.Errorf("%w: %d scores for %d labels", ErrLabelMismatch, len(probs), len(labels))
	}

	maxIdx := 0
	scores := make(map[string]float32, len(labels))
	for i, p := range probs {
		scores[labels[i]] = p
		if p > probs[maxIdx] {
			maxIdx = i
		}
	}

	return &Prediction{
		PredictedClass: labels[maxIdx],
		Confidence:     probs[maxIdx],
		Probabilities:  scores,
	}, nil
}
