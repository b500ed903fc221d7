package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/contentops/jobcore/config"
	httpx "github.com/contentops/jobcore/internal/http"
)

const httpShutdownGrace = 10 * time.Second

// HTTPServerConfig groups the inputs for ServeHTTP.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// ServeHTTP runs the API server until the context is cancelled, then shuts
// down gracefully. The listener is capped at HTTP_MAX_CONNS concurrent
// connections.
func ServeHTTP(ctx context.Context, cfg HTTPServerConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := httpx.NewRouter(httpx.RouterServices{
		Store:     cfg.Services.Store,
		Triggerer: cfg.Services.Scheduler,
		Canceller: cfg.Services.Cancellation,
		Registry:  cfg.Services.Registry,
		Logger:    logger,
	})

	listener, err := net.Listen("tcp", cfg.Config.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Config.HTTP.Addr, err)
	}
	listener = netutil.LimitListener(listener, cfg.Config.HTTP.MaxConns)

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	logger.InfoContext(ctx, "http server listening",
		"addr", listener.Addr().String(),
		"max_conns", cfg.Config.HTTP.MaxConns)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	<-serveErr
	return nil
}
