package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// KeyInventory is the read side of CredentialStore used by maintenance.
type KeyInventory interface {
	GetKeyStats(ctx context.Context) (model.KeyStats, error)
	GetExpiredKeys(ctx context.Context) ([]model.CredentialInfo, error)
	GetKeysDueForRotation(ctx context.Context) ([]model.CredentialInfo, error)
}

// MaintenanceService periodically reports expired credentials and
// credentials due for rotation. It never mutates anything: expiry is
// enforced at resolution time and rotation is an operator action.
type MaintenanceService struct {
	inventory KeyInventory
	metrics   driven.ResolutionMetrics
	logger    *slog.Logger
}

// NewMaintenanceService creates a MaintenanceService. metrics may be nil.
func NewMaintenanceService(inventory KeyInventory, metrics driven.ResolutionMetrics, logger *slog.Logger) *MaintenanceService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &MaintenanceService{
		inventory: inventory,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start runs Sweep on the given cron schedule until ctx is cancelled.
// An invalid schedule is returned as an error and nothing is started.
func (s *MaintenanceService) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("maintenance sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}

	c.Start()
	s.logger.Info("maintenance scheduled", "schedule", schedule)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		s.logger.Info("maintenance stopped")
	}()
	return nil
}

// Sweep runs one maintenance pass: it publishes inventory gauges and logs a
// warning for each expired or due credential, identified by hint only.
func (s *MaintenanceService) Sweep(ctx context.Context) error {
	stats, err := s.inventory.GetKeyStats(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	s.metrics.ObserveKeyStats(stats)

	expired, err := s.inventory.GetExpiredKeys(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	for _, k := range expired {
		s.logger.Warn("credential expired",
			"id", k.ID,
			"provider", k.Provider,
			"environment", k.Environment,
			"hint", k.Hint,
			"expires_at", k.ExpiresAt,
		)
	}

	due, err := s.inventory.GetKeysDueForRotation(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	for _, k := range due {
		s.logger.Warn("credential due for rotation",
			"id", k.ID,
			"provider", k.Provider,
			"environment", k.Environment,
			"hint", k.Hint,
			"rotation_due", k.RotationDue,
		)
	}

	s.logger.Info("maintenance sweep complete",
		"total", stats.Total,
		"active", stats.Active,
		"expired", len(expired),
		"due_for_rotation", len(due),
	)
	return nil
}
