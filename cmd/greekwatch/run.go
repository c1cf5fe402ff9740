package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/greekwatch/internal/config"
	"github.com/rewired-gh/greekwatch/internal/feed"
	"github.com/rewired-gh/greekwatch/internal/logger"
	"github.com/rewired-gh/greekwatch/internal/telegram"
)

// checkpointEvery is the number of cycles between IV history checkpoints.
const checkpointEvery = 20

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the snapshot gateway and alert on threshold crossings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	source := feed.NewClient(cfg.Feed.BaseURL, cfg.Feed.Timeout, feed.ClientConfig{
		MaxRetries:          cfg.Feed.MaxRetries,
		RetryDelayBase:      cfg.Feed.RetryDelayBase,
		BreakerFailures:     cfg.Feed.BreakerFailures,
		BreakerTimeout:      cfg.Feed.BreakerTimeout,
		MaxIdleConns:        cfg.Feed.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Feed.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Feed.IdleConnTimeout,
	})

	if cfg.Metrics.Enabled {
		serveMetrics(ctx, cfg.Metrics.ListenAddr, a)
	}

	if a.tg != nil {
		a.tg.ListenForCommands(ctx, telegram.Commands{
			Rearm:  a.mon.Rearm,
			Status: a.status,
			Alerts: a.recentAlerts,
		})
	}

	logger.Info("Starting monitoring service (symbol: %s, interval: %v, band: %v-%v, delta: %v, strikes: %v)",
		cfg.Underlying.Symbol,
		cfg.Feed.PollInterval,
		cfg.Alerts.LowThreshold,
		cfg.Alerts.HighThreshold,
		cfg.Alerts.DeltaThreshold,
		cfg.Alerts.WatchedStrikes,
	)

	ticker := time.NewTicker(cfg.Feed.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	checkpoints := checkpointSchedule{every: checkpointEvery}

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 && a.notify != nil {
				if sendErr := a.notify.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && a.notify != nil {
				if sendErr := a.notify.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	cycle := func() {
		start := time.Now()
		err := runMonitoringCycle(ctx, source, a)
		a.recorder.RecordCycle(time.Since(start), a.mon.History().Len(), err)
		handleCycleResult(err)
		if checkpoints.due(err) {
			a.checkpoint()
		}
	}

	logger.Debug("Running initial monitoring cycle")
	cycle()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, cleaning up...")
			a.checkpoint()
			logger.Info("Service stopped")
			return nil
		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			cycle()
		}
	}
}

// checkpointSchedule fires after every `every` successful cycles. Failed cycles neither
// count nor trigger a checkpoint.
type checkpointSchedule struct {
	every     int
	succeeded int
}

func (c *checkpointSchedule) due(cycleErr error) bool {
	if cycleErr != nil {
		return false
	}
	c.succeeded++
	if c.succeeded < c.every {
		return false
	}
	c.succeeded = 0
	return true
}

func runMonitoringCycle(ctx context.Context, source feed.Source, a *app) error {
	startTime := time.Now()

	ticks, err := source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	logger.Debug("Fetched %d option ticks", len(ticks))

	alerts := a.handleCycle(ctx, ticks)
	if len(alerts) == 0 {
		logger.Debug("No threshold crossings this cycle")
	}

	logger.Info("Monitoring cycle completed in %v (%d ticks, %d alerts)", time.Since(startTime), len(ticks), len(alerts))
	return nil
}

// serveMetrics exposes /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, a *app) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.recorder.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
