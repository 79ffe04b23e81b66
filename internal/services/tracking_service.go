package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pet-tracker/internal/models"
	"pet-tracker/internal/state"
	"pet-tracker/internal/window"
)

// Estimator computes the current position of a tag
type Estimator interface {
	Estimate(tagID string, now time.Time) models.PositionEstimate
}

// Estimation modes
const (
	ModePush = "push"
	ModePull = "pull"
)

// TrackingService inserts observations into the window and keeps the store
// up to date with fresh estimates
type TrackingService struct {
	window    *window.Window
	estimator Estimator
	store     *state.Store
	logger    *zap.Logger
	now       func() time.Time

	mode     string
	interval time.Duration

	// Input channel from the MQTT subscriber
	ObservationChan chan models.Observation
}

// TrackingServiceConfig holds configuration for tracking service
type TrackingServiceConfig struct {
	Mode              string        // ModePush or ModePull
	EstimateInterval  time.Duration // pull mode tick
	ObservationBuffer int
}

// DefaultTrackingServiceConfig returns default configuration
func DefaultTrackingServiceConfig() TrackingServiceConfig {
	return TrackingServiceConfig{
		Mode:              ModePush,
		EstimateInterval:  time.Second,
		ObservationBuffer: 256,
	}
}

// NewTrackingService creates a new tracking service
func NewTrackingService(
	win *window.Window,
	estimator Estimator,
	store *state.Store,
	config TrackingServiceConfig,
	logger *zap.Logger,
) *TrackingService {
	if config.Mode != ModePull {
		config.Mode = ModePush
	}
	if config.EstimateInterval <= 0 {
		config.EstimateInterval = DefaultTrackingServiceConfig().EstimateInterval
	}
	if config.ObservationBuffer < 1 {
		config.ObservationBuffer = DefaultTrackingServiceConfig().ObservationBuffer
	}
	return &TrackingService{
		window:          win,
		estimator:       estimator,
		store:           store,
		logger:          logger,
		now:             time.Now,
		mode:            config.Mode,
		interval:        config.EstimateInterval,
		ObservationChan: make(chan models.Observation, config.ObservationBuffer),
	}
}

// Start consumes observations until the context is cancelled or the channel
// is closed. In pull mode it also estimates every tracked tag on each tick.
func (s *TrackingService) Start(ctx context.Context) {
	s.logger.Info("TrackingService: starting", zap.String("mode", s.mode))

	var tick <-chan time.Time
	if s.mode == ModePull {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("TrackingService: shutting down")
			return

		case obs, ok := <-s.ObservationChan:
			if !ok {
				s.logger.Info("TrackingService: observation channel closed, shutting down")
				return
			}
			s.processObservation(obs)

		case <-tick:
			s.EstimateAll(s.now())
		}
	}
}

// processObservation inserts one observation and, in push mode, refreshes
// the tag's estimate
func (s *TrackingService) processObservation(obs models.Observation) {
	if !s.window.Insert(obs) {
		s.logger.Debug("Ignoring duplicate or out-of-order observation",
			zap.String("tag_id", obs.TagID),
			zap.String("anchor_id", obs.AnchorID),
			zap.Time("received_at", obs.ReceivedAt))
		return
	}
	if s.mode == ModePush {
		s.estimate(obs.TagID, s.now())
	}
}

// EstimateAll refreshes the estimate of every tag with buffered observations
func (s *TrackingService) EstimateAll(now time.Time) {
	for _, tagID := range s.window.Tags() {
		s.estimate(tagID, now)
	}
}

// estimate stores a fresh estimate for tagID. An unknown result never
// overwrites a known one; decay of known tags is the sweeper's job.
func (s *TrackingService) estimate(tagID string, now time.Time) {
	est := s.estimator.Estimate(tagID, now)
	if est.Known() {
		s.store.Update(est)
		s.logger.Debug("Position updated",
			zap.String("tag_id", tagID),
			zap.String("room", est.Room),
			zap.Float64("confidence", est.Confidence),
			zap.Int("anchors", est.SourceAnchorCount))
		return
	}
	s.store.UpdateIf(est, func(cur *models.PositionEstimate) bool { return cur == nil })
}
