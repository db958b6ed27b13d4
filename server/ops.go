package server

import (
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

const maxGoroutines = 10000

var errNotServing = errors.New("api is not serving traffic")

// NewOpsServer exposes /metrics, /live, /ready and pprof on addr. /ready
// fails while serving is false.
func NewOpsServer(addr string, serving *atomic.Bool) *http.Server {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	health.AddReadinessCheck("api", func() error {
		if !serving.Load() {
			return errNotServing
		}
		return nil
	})

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/live", health)
	router.Handle("/ready", health)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
