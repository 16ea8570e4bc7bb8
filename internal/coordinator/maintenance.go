package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/lagom/internal/store"
)

// MaintenanceConfig schedules ledger pruning.
type MaintenanceConfig struct {
	// Schedule is a cron spec; "@daily" by default.
	Schedule string
	// Retention keeps bookings committed within this window. Zero disables pruning.
	Retention time.Duration
}

func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Schedule:  "@daily",
		Retention: 90 * 24 * time.Hour,
	}
}

// Maintenance prunes old bookings on a cron schedule. Retention must exceed
// one week or the quota count would lose bookings it still needs.
type Maintenance struct {
	ledger store.Ledger
	cfg    MaintenanceConfig
	now    func() time.Time
	cron   *cron.Cron
}

func NewMaintenance(ledger store.Ledger, cfg MaintenanceConfig) (*Maintenance, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if cfg.Retention > 0 && cfg.Retention < 7*24*time.Hour {
		return nil, fmt.Errorf("coordinator: retention %s shorter than one quota week", cfg.Retention)
	}
	m := &Maintenance{
		ledger: ledger,
		cfg:    cfg,
		now:    time.Now,
		cron:   cron.New(),
	}
	if _, err := m.cron.AddFunc(cfg.Schedule, func() {
		if _, err := m.RunOnce(context.Background()); err != nil {
			log.Error().Err(err).Msg("ledger_prune_failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("coordinator: schedule %q: %w", cfg.Schedule, err)
	}
	return m, nil
}

// RunOnce prunes bookings older than the retention window.
func (m *Maintenance) RunOnce(ctx context.Context) (int, error) {
	if m.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.cfg.Retention)
	removed, err := m.ledger.Prune(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	log.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("ledger_pruned")
	return removed, nil
}

func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop halts scheduling and waits for a running prune or ctx.
func (m *Maintenance) Stop(ctx context.Context) {
	done := m.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
