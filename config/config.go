package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/alexflint/go-arg"
	"github.com/pelletier/go-toml/v2"
)

const DefaultPath = "config.toml"

// Config is read from config.toml and then overridden by the environment
// variables named in the env: tags.
type Config struct {
	Token   string `toml:"token" mapstructure:"token" arg:"--token,env:API_TOKEN"`
	Host    string `toml:"host" mapstructure:"host" arg:"--host,env:HOST"`
	Port    string `toml:"port" mapstructure:"port" arg:"--port,env:PORT"`
	Libonnx string `toml:"libonnx" mapstructure:"libonnx" arg:"--libonnx,env:LIBONNX"`

	ModelPath      string `toml:"model_path" mapstructure:"model_path" arg:"--model-path,env:MODEL_PATH"`
	LabelsPath     string `toml:"labels_path" mapstructure:"labels_path" arg:"--labels-path,env:LABELS_PATH"`
	PreprocessMode string `toml:"preprocess_mode" mapstructure:"preprocess_mode" arg:"--preprocess-mode,env:PREPROCESS_MODE"`
	ResizeFilter   string `toml:"resize_filter" mapstructure:"resize_filter" arg:"--resize-filter,env:RESIZE_FILTER"`
	Sessions       int    `toml:"sessions" mapstructure:"sessions" arg:"--sessions,env:SESSIONS"`
	Threads        int    `toml:"threads" mapstructure:"threads" arg:"--threads,env:THREADS"`
	MaxUploadMB    int64  `toml:"max_upload_mb" mapstructure:"max_upload_mb" arg:"--max-upload-mb,env:MAX_UPLOAD_MB"`
	MaxPixels      int    `toml:"max_pixels" mapstructure:"max_pixels" arg:"--max-pixels,env:MAX_PIXELS"`
	CORSOrigin     string `toml:"cors_origin" mapstructure:"cors_origin" arg:"--cors-origin,env:CORS_ORIGIN"`

	MetricsPort  uint    `toml:"metrics_port" mapstructure:"metrics_port" arg:"--metrics-port,env:METRICS_PORT"`
	OtlpEndpoint string  `toml:"otlp_endpoint" mapstructure:"otlp_endpoint" arg:"--otlp-endpoint,env:OTLP_ENDPOINT"`
	WatchdogMB   uint64  `toml:"watchdog_limit_mb" mapstructure:"watchdog_limit_mb" arg:"--watchdog-limit-mb,env:WATCHDOG_LIMIT_MB"`
	WatchdogGC   float64 `toml:"watchdog_factor" mapstructure:"watchdog_factor" arg:"--watchdog-factor,env:WATCHDOG_FACTOR"`
	LogLevel     string  `toml:"log_level" mapstructure:"log_level" arg:"--log-level,env:LOG_LEVEL"`
	LogFormat    string  `toml:"log_format" mapstructure:"log_format" arg:"--log-format,env:LOG_FORMAT"`

	UI UIConfig `toml:"ui" mapstructure:"ui" arg:"-"`
}

// UIConfig configures the browser front end served by the ui subcommand.
type UIConfig struct {
	Host   string `toml:"host" mapstructure:"host" arg:"--ui-host,env:UI_HOST"`
	Port   string `toml:"port" mapstructure:"port" arg:"--ui-port,env:UI_PORT"`
	APIURL string `toml:"api_url" mapstructure:"api_url" arg:"--api-url,env:API_URL"`
}

func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           "8080",
		ModelPath:      "deploy/model.onnx",
		LabelsPath:     "deploy/class_names.json",
		PreprocessMode: "resnetv2",
		ResizeFilter:   "linear",
		Sessions:       1,
		MaxUploadMB:    10,
		MaxPixels:      40_000_000,
		CORSOrigin:     "*",
		MetricsPort:    2112,
		WatchdogGC:     0.5,
		LogLevel:       "info",
		LogFormat:      "text",
		UI: UIConfig{
			Host:   "0.0.0.0",
			Port:   "8501",
			APIURL: "http://localhost:8080",
		},
	}
}

var (
	cfg      = Default()
	loadOnce sync.Once
	loadErr  error
)

// Init loads the process configuration from path. Only the first call has
// any effect.
func Init(path string) error {
	loadOnce.Do(func() {
		cfg, loadErr = Load(path)
	})
	return loadErr
}

func C() Config {
	loadOnce.Do(func() {
		cfg, loadErr = Load(DefaultPath)
		if loadErr != nil {
			panic(loadErr)
		}
	})
	return cfg
}

// Load reads path on top of the defaults and then applies environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return c, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := applyEnv(&c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// applyEnv overrides c with the environment variables bound in the env: tags.
// The command line is not consulted. Unset variables keep the loaded values.
func applyEnv(c *Config) error {
	p, err := arg.NewParser(arg.Config{Program: "leafclassifier"}, c, &c.UI)
	if err != nil {
		return fmt.Errorf("failed to bind environment: %w", err)
	}
	if err := p.Parse(nil); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.Sessions < 1 {
		return fmt.Errorf("sessions must be >= 1, got %d", c.Sessions)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be > 0, got %d", c.MaxUploadMB)
	}
	if c.MaxPixels <= 0 {
		return fmt.Errorf("max_pixels must be > 0, got %d", c.MaxPixels)
	}
	if c.WatchdogMB > 0 && (c.WatchdogGC <= 0 || c.WatchdogGC >= 1) {
		return fmt.Errorf("watchdog_factor should be in (0.0, 1.0), got %v", c.WatchdogGC)
	}
	return nil
}

func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
