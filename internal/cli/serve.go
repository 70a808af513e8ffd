package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/hs2pool"
	"github.com/aretw0/hs2pool/internal/config"
	"github.com/aretw0/hs2pool/internal/logging"
	adminhttp "github.com/aretw0/hs2pool/pkg/adapters/http"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long in-flight admin requests may take on exit.
const ShutdownTimeout = 5 * time.Second

// Serve runs the admin API on ln until ctx is done. When configPath is set,
// edits to the file change the log level without a restart.
func Serve(ctx context.Context, rt *Runtime, ln net.Listener, configPath string) error {
	handler := adminhttp.NewHandler(rt.Manager,
		adminhttp.WithGatherer(rt.Registry),
		adminhttp.WithVersion(hs2pool.Version),
		adminhttp.WithLogger(rt.Logger),
	)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.Logger.Info("Starting admin server", "addr", ln.Addr().String(), "backend", rt.Config.Store.Backend)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.Logger.Warn("Graceful shutdown did not complete", "timeout", ShutdownTimeout, "err", err)
			return srv.Close()
		}
		rt.Logger.Info("Admin server stopped")
		return nil
	})
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, configPath, rt.Logger, func(cfg *config.Config) {
				rt.applyLogLevel(cfg)
			})
		})
	}
	return g.Wait()
}

func (rt *Runtime) applyLogLevel(cfg *config.Config) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return
	}
	if rt.Level.Level() != level {
		rt.Logger.Info("Log level changed", "from", rt.Level.Level().String(), "to", level.String())
		rt.Level.Set(level)
	}
	if cfg.Pool != rt.Config.Pool || cfg.Store.Backend != rt.Config.Store.Backend {
		rt.Logger.Warn("Pool and store settings apply on restart")
	}
}
