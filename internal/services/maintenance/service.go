// -----------------------------------------------------------------------
// Maintenance - Periodic cleanup of orphaned progress snapshots
// -----------------------------------------------------------------------

package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/interfaces"
	"github.com/ternarybob/gero/internal/jobs"
)

// Service sweeps the store for progress snapshots whose owning job has
// ended or disappeared. Progress keys are the only bookkeeping entries
// the lifecycle core can leak (a node may die between its job ending and
// the snapshot removal), so this is the whole maintenance surface.
type Service struct {
	store      interfaces.KeyValueStore
	controller *jobs.Controller
	cron       *cron.Cron
	logger     arbor.ILogger
	mu         sync.Mutex
	running    bool
}

// NewService creates a maintenance service over the given store and
// controller
func NewService(store interfaces.KeyValueStore, controller *jobs.Controller, logger arbor.ILogger) *Service {
	return &Service{
		store:      store,
		controller: controller,
		cron:       cron.New(),
		logger:     logger,
	}
}

// Start begins sweeping on the given cron schedule
func (s *Service) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("maintenance service already running")
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("Progress sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", schedule).Msg("Maintenance service started")
	return nil
}

// Stop halts the sweeper. A sweep already in flight runs to completion.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info().Msg("Maintenance service stopped")
}

// Sweep removes every progress snapshot whose owning job is ended or no
// longer registered. Running jobs keep their snapshots.
func (s *Service) Sweep(ctx context.Context) error {
	keys, err := s.store.Keys(ctx, jobs.ProgressKeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to list progress snapshots: %w", err)
	}

	removed := 0
	for _, key := range keys {
		destination, ok := destinationFromKey(key)
		if !ok {
			continue
		}

		job, err := s.controller.Registry().FindByDestination(ctx, destination)
		if err == nil && !s.ended(ctx, job) {
			continue
		}

		if err := s.store.Remove(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to remove orphaned progress snapshot")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Swept orphaned progress snapshots")
	}
	return nil
}

func (s *Service) ended(ctx context.Context, job *jobs.Job) bool {
	return s.controller.IsEnded(ctx, job.ID)
}

// destinationFromKey recovers the destination from a progress key of the
// form progress/<destination>/<node-salt>
func destinationFromKey(key string) (string, bool) {
	rest := strings.TrimPrefix(key, jobs.ProgressKeyPrefix)
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 {
		return "", false
	}
	return rest[:idx], true
}
