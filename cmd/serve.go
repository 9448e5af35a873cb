package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/slot-ingest/internal/api"
	"github.com/sells-group/slot-ingest/internal/monitoring"
	"github.com/sells-group/slot-ingest/internal/store"
)

const (
	shutdownGrace = 15 * time.Second
	pruneInterval = time.Hour
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: api.NewHandler(api.Deps{
				Pipeline:    env.Pipeline,
				Limiter:     env.Repo,
				Token:       cfg.Server.AuthToken,
				CORSOrigins: cfg.Server.CORSOrigins,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		tasks := []func(context.Context) error{
			func(ctx context.Context) error { return pruneLoop(ctx, env.Repo, pruneInterval) },
		}
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Tasks),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			tasks = append(tasks, checker.Run)
		}

		return runServer(ctx, srv, shutdownGrace, tasks...)
	},
}

// runServer serves until ctx is cancelled or the listener fails, then shuts
// srv down within grace. Each extra task runs alongside and gets the group
// context.
func runServer(ctx context.Context, srv *http.Server, grace time.Duration, extra ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return eris.Wrap(err, "server shutdown")
		}
		return nil
	})

	for _, fn := range extra {
		g.Go(func() error { return fn(gctx) })
	}

	return g.Wait()
}

// pruneLoop removes expired cache rows and stale rate windows every interval.
func pruneLoop(ctx context.Context, repo *store.Repository, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cacheRows, windowRows, err := repo.PruneExpired(ctx)
			if err != nil {
				zap.L().Warn("prune failed", zap.Error(err))
				continue
			}
			zap.L().Debug("pruned expired rows",
				zap.Int("cache_rows", cacheRows),
				zap.Int("rate_window_rows", windowRows),
			)
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
