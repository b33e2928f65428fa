// Package scheduler submits a named preset on a cron cadence, skipping
// triggers that land while a run is still active.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cursus/internal/interfaces"
	"github.com/ternarybob/cursus/internal/models"
)

// PresetSource resolves named request presets for scheduled submissions
type PresetSource interface {
	Get(name string) (models.JobRequest, bool)
}

// Service implements cron-driven preset re-submission
type Service struct {
	orch    interfaces.RunOrchestrator
	presets PresetSource
	cron    *cron.Cron
	logger  arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates a new scheduler service
func NewService(orch interfaces.RunOrchestrator, presets PresetSource, logger arbor.ILogger) *Service {
	return &Service{
		orch:    orch,
		presets: presets,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start registers the preset submission under the given cron expression
// and starts the scheduler.
func (s *Service) Start(cronExpr, preset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if cronExpr == "" {
		return fmt.Errorf("cron expression is required")
	}
	if preset == "" {
		return fmt.Errorf("preset name is required")
	}

	_, err := s.cron.AddFunc(cronExpr, func() {
		s.submit(preset)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron_expr", cronExpr).
		Str("preset", preset).
		Msg("Scheduled preset submission enabled")

	return nil
}

// Stop halts the scheduler. Triggers already in flight finish on their own.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
}

// submit fires one scheduled submission. A trigger that lands while a
// run is still active is skipped, never queued.
func (s *Service) submit(preset string) {
	if s.orch.Phase().IsActive() {
		s.logger.Warn().
			Str("preset", preset).
			Str("phase", s.orch.Phase().String()).
			Msg("Skipping scheduled submission, a run is still active")
		return
	}

	req := models.NewPresetRequest(preset)
	if s.presets != nil {
		if resolved, ok := s.presets.Get(preset); ok {
			req = resolved
		}
	}

	if err := s.orch.Start(context.Background(), req); err != nil {
		s.logger.Error().
			Err(err).
			Str("preset", preset).
			Msg("Scheduled submission failed")
	}
}
