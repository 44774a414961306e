// Package monitoring exposes reader statistics to Prometheus and serves
// metrics and pprof over HTTP.
package monitoring

import (
	"context"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CVDpl/go-live-geoip/internal/common"
)

// NewMux returns a mux serving /metrics from gatherer and the pprof handlers.
func NewMux(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// StartServer starts an HTTP server on addr (for example ":9100") and
// returns it so callers can shut it down.
func StartServer(addr string, gatherer prometheus.Gatherer, logger common.Logger) *http.Server {
	logger = common.LoggerOrNull(logger)
	srv := &http.Server{
		Addr:    addr,
		Handler: NewMux(gatherer),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("monitoring server error", "addr", addr, "error", err.Error())
		}
	}()

	return srv
}

// StopServer gracefully shuts down srv.
func StopServer(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
