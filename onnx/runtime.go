package onnx

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// EnvLibPath overrides the shared library location when no path is configured.
const EnvLibPath = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// LibPath picks the ONNX Runtime shared library: the configured path first,
// then $ONNXRUNTIME_SHARED_LIBRARY_PATH, then the first existing candidate for
// this OS. It returns "" when nothing is found.
func LibPath(configured string) string {
	if configured != "" {
		return configured
	}
	if p := os.Getenv(EnvLibPath); p != "" {
		return p
	}
	for _, p := range candidates(runtime.GOOS) {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func candidates(goos string) []string {
	switch goos {
	case "linux":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime.so"),
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		}
	case "darwin":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime.dylib"),
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{filepath.Join("onnxlibs", "onnxruntime.dll"), "onnxruntime.dll"}
	default:
		return nil
	}
}

// Init loads the shared library and initializes the global ONNX Runtime
// environment. Call Destroy once every Model is closed.
func Init(configured string) error {
	path := LibPath(configured)
	if path == "" {
		return fmt.Errorf("ONNX Runtime library not found for %s; set libonnx or %s", runtime.GOOS, EnvLibPath)
	}
	slog.Info("Using ONNX Runtime library", slog.String("path", path))
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
	}
	return nil
}

func Destroy() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Error("Failed to destroy ONNX Runtime environment", slog.String("error", err.Error()))
	}
}
