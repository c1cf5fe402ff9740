package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/greekwatch/internal/alert"
	"github.com/rewired-gh/greekwatch/internal/config"
	"github.com/rewired-gh/greekwatch/internal/export"
	"github.com/rewired-gh/greekwatch/internal/inventory"
	"github.com/rewired-gh/greekwatch/internal/kafka"
	"github.com/rewired-gh/greekwatch/internal/logger"
	"github.com/rewired-gh/greekwatch/internal/metrics"
	"github.com/rewired-gh/greekwatch/internal/models"
	"github.com/rewired-gh/greekwatch/internal/monitor"
	"github.com/rewired-gh/greekwatch/internal/storage"
	"github.com/rewired-gh/greekwatch/internal/telegram"
)

// maxRedelivery caps how many undelivered alerts are sent in one cycle.
const maxRedelivery = 50

// notifier delivers alerts and loop health notices. *telegram.Client satisfies it.
type notifier interface {
	SendAlerts(ctx context.Context, alerts []models.Alert) error
	SendError(cycleErr error) error
	SendRecovery(failureCount int) error
}

// app owns the monitor and every configured sink.
type app struct {
	cfg       *config.Config
	mon       *monitor.Monitor
	recorder  *metrics.Recorder
	store     *storage.Storage
	csv       *export.Writer
	publisher *kafka.Publisher
	tg        *telegram.Client
	notify    notifier

	cycles    atomic.Int64
	lastCycle atomic.Int64 // unix nanos
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		HistorySize: cfg.Monitor.HistorySize,
		Underlying:  cfg.Underlying.Symbol,
		Thresholds: alert.OptionThresholds{
			Delta:          cfg.Alerts.DeltaThreshold,
			Gamma:          cfg.Alerts.GammaThreshold,
			Theta:          cfg.Alerts.ThetaThreshold,
			WatchedStrikes: cfg.Alerts.WatchedStrikes,
		},
		Low:  cfg.Alerts.LowThreshold,
		High: cfg.Alerts.HighThreshold,
	}
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, recorder: metrics.New(nil)}

	book, err := inventory.Load(cfg.Inventory.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	if cfg.Inventory.File != "" {
		logger.Info("Loaded %d inventory positions from %s", book.Len(), cfg.Inventory.File)
		for _, p := range book.Positions() {
			logger.Debug("Holding %+d %s (%s)", p.Quantity, p.Key(), p.Strategy)
		}
	}

	a.mon = monitor.NewFromConfig(monitorConfig(cfg), book, a.recorder)

	if cfg.Storage.Enabled {
		a.store, err = storage.New(cfg.Storage.MaxSnapshots, cfg.Storage.DBPath)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if err := a.mon.Restore(a.store); err != nil {
			logger.Warn("Failed to restore IV histories: %v", err)
		}
	}

	if cfg.Export.CSVPath != "" {
		a.csv, err = export.Create(cfg.Export.CSVPath)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create CSV export: %w", err)
		}
	}

	if cfg.Kafka.Enabled {
		a.publisher, err = kafka.NewPublisher(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			AlertsTopic:    cfg.Kafka.AlertsTopic,
			SnapshotsTopic: cfg.Kafka.SnapshotsTopic,
			Compression:    cfg.Kafka.Compression,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize Kafka publisher: %w", err)
		}
	}

	if cfg.Telegram.Enabled {
		a.tg, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase, cfg.Telegram.RatePerSecond)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		a.notify = a.tg
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	return a, nil
}

// handleCycle runs one batch through the monitor and fans the output out to the sinks.
// Sink failures are logged and never fail the cycle.
func (a *app) handleCycle(ctx context.Context, ticks []models.Tick) []models.Alert {
	records, alerts := a.mon.ProcessCycle(ticks)
	a.cycles.Add(1)
	a.lastCycle.Store(time.Now().UnixNano())

	for _, al := range alerts {
		logger.Warn("%s", al.Message)
	}

	if a.store != nil {
		if err := a.store.AddSnapshots(records); err != nil {
			logger.Warn("Failed to store snapshots: %v", err)
		}
		for i := range alerts {
			if err := a.store.AddAlert(&alerts[i], false); err != nil {
				logger.Warn("Failed to store alert %s: %v", alerts[i].ID, err)
			}
		}
	}

	if a.csv != nil {
		if err := a.csv.Write(records); err != nil {
			logger.Warn("Failed to write CSV rows: %v", err)
		}
	}

	if a.publisher != nil {
		if err := a.publisher.PublishSnapshots(ctx, records); err != nil {
			logger.Warn("%v", err)
		}
		if err := a.publisher.PublishAlerts(ctx, alerts); err != nil {
			logger.Warn("%v", err)
		}
	}

	if a.notify != nil {
		a.deliver(ctx, alerts)
	}

	return alerts
}

// deliver sends alerts to Telegram. With storage enabled it sends every stored alert still
// pending delivery, so alerts from a failed send go out with the next cycle.
func (a *app) deliver(ctx context.Context, alerts []models.Alert) {
	pending := alerts
	if a.store != nil {
		stored, err := a.store.GetUnnotifiedAlerts(maxRedelivery)
		if err != nil {
			logger.Warn("Failed to load undelivered alerts: %v", err)
		} else {
			pending = stored
		}
	}
	if len(pending) == 0 {
		return
	}

	if err := a.notify.SendAlerts(ctx, pending); err != nil {
		logger.Error("Failed to send Telegram notification: %v", err)
		return
	}
	logger.Info("Sent Telegram notification with %d alerts", len(pending))

	if a.store == nil {
		return
	}
	ids := make([]uuid.UUID, len(pending))
	for i, al := range pending {
		ids[i] = al.ID
	}
	if err := a.store.MarkNotified(ids); err != nil {
		logger.Warn("Failed to mark alerts notified: %v", err)
	}
}

// status renders the /status reply.
func (a *app) status() string {
	last := "never"
	if ns := a.lastCycle.Load(); ns != 0 {
		last = time.Unix(0, ns).Format("2006-01-02 15:04:05")
	}
	history := a.mon.History()
	text := fmt.Sprintf("%s: %d cycles, last %s\nTracking %d IV series (window %d), %d alert conditions fired",
		a.cfg.Underlying.Symbol, a.cycles.Load(), last,
		history.Len(), history.Capacity(), a.mon.Registry().Len())

	if a.store != nil {
		snapshots, err := a.store.CountSnapshots()
		if err != nil {
			logger.Warn("%v", err)
		}
		pending, err := a.store.CountUnnotified()
		if err != nil {
			logger.Warn("%v", err)
		}
		text += fmt.Sprintf("\nStored %d snapshots, %d alerts pending delivery", snapshots, pending)
	}
	return text
}

// recentAlerts renders the /alerts reply.
func (a *app) recentAlerts() string {
	if a.store == nil {
		return "Alert history requires storage"
	}
	alerts, err := a.store.GetRecentAlerts(10)
	if err != nil {
		logger.Warn("%v", err)
		return "Failed to load alerts"
	}
	if len(alerts) == 0 {
		return "No alerts yet"
	}
	var b strings.Builder
	for _, al := range alerts {
		fmt.Fprintf(&b, "%s %s\n", al.DetectedAt.Format("01-02 15:04:05"), al.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *app) checkpoint() {
	if a.store == nil {
		return
	}
	a.mon.Checkpoint(a.store)
	if err := a.store.RotateSnapshots(); err != nil {
		logger.Warn("Failed to rotate snapshots: %v", err)
	}
}

// close releases every sink. Safe on a partially built app.
func (a *app) close() {
	if a.csv != nil {
		if err := a.csv.Close(); err != nil {
			logger.Error("Failed to close CSV export: %v", err)
		} else {
			logger.Info("Wrote %d snapshot rows to %s", a.csv.Rows(), a.cfg.Export.CSVPath)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.Error("Failed to close Kafka publisher: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}
}
