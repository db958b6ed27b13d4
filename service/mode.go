package service

import "github.com/samber/lo"

// PreprocessMode names the normalization the model was trained with. It is
// reported by the health endpoint only; the exported model graph carries its
// own preprocessing, so inputs are always fed as raw 0..255 values.
type PreprocessMode string

const (
	ModeResNetV2     PreprocessMode = "resnetv2"
	ModeMobileNetV2  PreprocessMode = "mobilenetv2"
	ModeEfficientNet PreprocessMode = "efficientnet"
	ModeNone         PreprocessMode = "none"
)

var knownModes = []PreprocessMode{ModeResNetV2, ModeMobileNetV2, ModeEfficientNet, ModeNone}

func (m PreprocessMode) Known() bool {
	return lo.Contains(knownModes, m)
}
