package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pet-tracker/internal/models"
	"pet-tracker/internal/state"
	"pet-tracker/internal/window"
)

// SweeperService periodically demotes tags whose last fix is too old.
// FRESH -> STALE is one-way: only a new estimate brings a tag back.
type SweeperService struct {
	store  *state.Store
	window *window.Window
	logger *zap.Logger
	now    func() time.Time

	interval          time.Duration
	staleThreshold    time.Duration
	maxObservationAge time.Duration
}

// SweeperServiceConfig holds configuration for sweeper service
type SweeperServiceConfig struct {
	SweepInterval     time.Duration
	StaleThreshold    time.Duration
	MaxObservationAge time.Duration // window entries older than this are pruned
}

// DefaultSweeperServiceConfig returns default configuration
func DefaultSweeperServiceConfig() SweeperServiceConfig {
	return SweeperServiceConfig{
		SweepInterval:     5 * time.Second,
		StaleThreshold:    30 * time.Second,
		MaxObservationAge: 10 * time.Second,
	}
}

// NewSweeperService creates a new sweeper service
func NewSweeperService(store *state.Store, win *window.Window, config SweeperServiceConfig, logger *zap.Logger) *SweeperService {
	def := DefaultSweeperServiceConfig()
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = def.StaleThreshold
	}
	if config.MaxObservationAge <= 0 {
		config.MaxObservationAge = def.MaxObservationAge
	}
	return &SweeperService{
		store:             store,
		window:            win,
		logger:            logger,
		now:               time.Now,
		interval:          config.SweepInterval,
		staleThreshold:    config.StaleThreshold,
		maxObservationAge: config.MaxObservationAge,
	}
}

// Start sweeps once immediately and then every interval until the context
// is cancelled
func (s *SweeperService) Start(ctx context.Context) {
	s.logger.Info("SweeperService: starting",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_threshold", s.staleThreshold))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(s.now())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SweeperService: shutting down")
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Sweep marks every fresh tag whose last fix is older than the stale
// threshold and prunes aged observations. It returns the number of tags
// marked.
func (s *SweeperService) Sweep(now time.Time) int {
	expired := func(e models.PositionEstimate) bool {
		return now.Sub(e.ComputedAt) > s.staleThreshold
	}

	marked := 0
	for _, est := range s.store.AllCurrent() {
		if est.Stale || !expired(est) {
			continue
		}
		if s.store.MarkStaleIf(est.TagID, now, expired) {
			marked++
			s.logger.Info("Tag went stale",
				zap.String("tag_id", est.TagID),
				zap.Time("last_seen", est.ComputedAt))
		}
	}

	if removed := s.window.Prune(now, s.maxObservationAge); removed > 0 {
		s.logger.Debug("Pruned idle tags from window", zap.Int("tags", removed))
	}
	return marked
}
