package server

import (
	"fmt"
	"log/slog"

	"github.com/krau/leafclassifier/config"
	"github.com/krau/leafclassifier/onnx"
	"github.com/krau/leafclassifier/service"
)

// Init loads the label list and the model and builds the serving engine. The
// returned func releases the model's sessions. The ONNX Runtime environment
// must already be initialized.
func Init(cfg config.Config) (*service.Engine, func(), error) {
	labels, err := service.LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read labels: %w", err)
	}

	model, err := onnx.Load(cfg.ModelPath, onnx.Options{
		Sessions:   cfg.Sessions,
		Threads:    cfg.Threads,
		NumClasses: len(labels),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load model: %w", err)
	}

	engine, err := service.NewEngine(model, labels, service.Options{
		PreprocessMode: cfg.PreprocessMode,
		ResizeFilter:   cfg.ResizeFilter,
		MaxPixels:      cfg.MaxPixels,
	})
	if err != nil {
		model.Close()
		return nil, nil, err
	}

	if mode := engine.Mode(); !mode.Known() {
		slog.Warn("Unknown preprocess mode, reporting it as configured", slog.String("mode", string(mode)))
	}
	slog.Info("Engine ready",
		slog.Any("labels", engine.Labels()),
		slog.String("input_size", engine.InputSize().String()),
		slog.String("preprocess_mode", string(engine.Mode())))
	return engine, model.Close, nil
}
