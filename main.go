package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/gin-gonic/gin"
	"github.com/krau/leafclassifier/client"
	"github.com/krau/leafclassifier/config"
	"github.com/krau/leafclassifier/onnx"
	"github.com/krau/leafclassifier/server"
	"github.com/krau/leafclassifier/tracer"
	"github.com/krau/leafclassifier/ui"
	"github.com/raulk/go-watchdog"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

type serveCmd struct{}

type uiCmd struct{}

type args struct {
	Config string    `arg:"--config,env:CONFIG_PATH" default:"config.toml" help:"path to config.toml"`
	Serve  *serveCmd `arg:"subcommand:serve" help:"run the inference API"`
	UI     *uiCmd    `arg:"subcommand:ui" help:"run the browser UI"`
}

func (args) Description() string {
	return "leafclassifier serves an image classifier over HTTP and a small UI to try it"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand: serve or ui")
	}

	if err := config.Init(a.Config); err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(config.C())
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case a.Serve != nil:
		err = runServe(ctx, config.C(), logger)
	case a.UI != nil:
		err = runUI(ctx, config.C())
	}
	if err != nil {
		slog.Error("Exiting", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	slog.Info("Starting leafclassifier API")

	if cfg.OtlpEndpoint != "" {
		shutdown, err := tracer.InitProvider(ctx, cfg.OtlpEndpoint, logger)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("Failed to flush traces", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.WatchdogMB > 0 {
		err, stop := watchdog.SystemDriven(cfg.WatchdogMB<<20, time.Minute, watchdog.NewAdaptivePolicy(cfg.WatchdogGC))
		if err != nil {
			return fmt.Errorf("failed to start memory watchdog: %w", err)
		}
		defer stop()
	}

	if err := onnx.Init(cfg.Libonnx); err != nil {
		return err
	}
	defer onnx.Destroy()

	engine, closeModel, err := server.Init(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	defer closeModel()

	handler := server.NewHandler(engine, cfg.Token, cfg.MaxUploadBytes())
	api := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.NewRouter(handler, cfg.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serving := atomic.NewBool(false)
	ops := server.NewOpsServer(fmt.Sprintf(":%d", cfg.MetricsPort), serving)

	return serveAll(ctx, serving, api, ops)
}

func runUI(ctx context.Context, cfg config.Config) error {
	c, err := client.NewClient(cfg.UI.APIURL, &http.Client{})
	if err != nil {
		return err
	}
	slog.Info("Starting UI", slog.String("api_url", c.URL()))
	srv := &http.Server{
		Addr:              cfg.UI.Host + ":" + cfg.UI.Port,
		Handler:           ui.New(c, cfg.MaxUploadBytes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serveAll(ctx, atomic.NewBool(false), srv)
}

// serveAll binds every server, marks the process as serving and runs until
// ctx is done or one server fails, then shuts all of them down.
func serveAll(ctx context.Context, serving *atomic.Bool, servers ...*http.Server) error {
	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		listeners = append(listeners, ln)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		srv, ln := srv, listeners[i]
		g.Go(func() error {
			slog.Info("Listening on", slog.String("address", ln.Addr().String()))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	serving.Store(true)

	g.Go(func() error {
		<-gctx.Done()
		serving.Store(false)
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(sctx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
