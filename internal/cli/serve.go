package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rewardline/entitle/internal/api"
	"github.com/rewardline/entitle/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic maintenance sweep",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, d)
}

func serve(ctx context.Context, d *daemon.Daemon) error {
	cfg := d.Config
	logger := d.Logger

	srv := api.NewServer(d, d.DB, logger)
	srv.SetHub(d.Hub)
	if cfg.Metrics.Enabled {
		srv.EnableMetrics()
	}
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	interval, err := cfg.SweepInterval()
	if err != nil {
		return err
	}

	dispatchEvery, err := cfg.DispatchInterval()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if cfg.Scheduler.Enabled {
		sched := daemon.NewScheduler(d, interval, logger)
		g.Go(func() error {
			sched.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		d.Outbox.Run(ctx, dispatchEvery)
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
