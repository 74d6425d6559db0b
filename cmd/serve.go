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

	"github.com/sells-group/risk-engine/internal/analysis"
	"github.com/sells-group/risk-engine/internal/api"
	"github.com/sells-group/risk-engine/internal/events"
	"github.com/sells-group/risk-engine/internal/notify"
	"github.com/sells-group/risk-engine/internal/recompute"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, recompute scheduler, periodic sweep and change-event subscriber",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().With(zap.String("command", "serve"))

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		an, err := analysis.New(*cfg)
		if err != nil {
			return err
		}

		rdb := newRedisClient(cfg.Redis)
		if rdb != nil {
			defer rdb.Close() //nolint:errcheck
		}

		g, gctx := errgroup.WithContext(ctx)

		pipe := recompute.NewPipeline(st, an, notify.FromConfig(*cfg, rdb), *cfg)
		sched := recompute.NewScheduler(gctx, pipe, cfg.Pipeline.MaxConcurrent, pipe.Stats())
		sweeper := recompute.NewSweeper(st, sched, cfg.Pipeline)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.New(st, sched, pipe.Stats()).Handler(cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Info("starting server", zap.Int("port", port), zap.String("model_version", an.ModelVersion()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})

		if rdb != nil && cfg.Redis.EventChannel != "" {
			sub := events.NewRedisSubscriber(rdb, cfg.Redis.EventChannel, sched)
			g.Go(func() error { return sub.Run(gctx) })
		}

		err = g.Wait()
		sched.Wait()
		log.Info("server stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
