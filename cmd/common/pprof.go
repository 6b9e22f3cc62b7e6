package common

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/oasisprotocol/vaulthub/config"
	"github.com/oasisprotocol/vaulthub/log"
)

// DefaultProfileWindow bounds profile and trace requests when the config
// leaves pprof_window unset.
const DefaultProfileWindow = 30 * time.Second

// Profiler serves runtime profiles on its own listener.
type Profiler struct {
	listener net.Listener
	server   *http.Server
	logger   *log.Logger
}

// NewProfiler binds the pprof endpoint of cfg. Requests for a CPU profile
// or trace longer than the configured window are rejected by the
// handlers, since the window also bounds the server write timeout.
func NewProfiler(cfg *config.MetricsConfig, logger *log.Logger) (*Profiler, error) {
	window := cfg.PprofWindow
	if window == 0 {
		window = DefaultProfileWindow
	}
	listener, err := net.Listen("tcp", cfg.PprofEndpoint)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &Profiler{
		listener: listener,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      window + 5*time.Second,
		},
		logger: logger.WithModule("pprof"),
	}, nil
}

// Addr is the bound listener address.
func (p *Profiler) Addr() string {
	return p.listener.Addr().String()
}

// Run serves until ctx is done.
func (p *Profiler) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		p.logger.Info("serving pprof", "endpoint", p.Addr())
		errCh <- p.server.Serve(p.listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Close releases the listener of a profiler that never ran.
func (p *Profiler) Close() {
	_ = p.listener.Close()
}
