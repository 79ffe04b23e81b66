package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pet-tracker/internal/database"
	"pet-tracker/internal/models"
)

// TrailService batches store changes into the trail recorder
type TrailService struct {
	recorder database.Recorder
	logger   *zap.Logger

	batchSize     int
	flushInterval time.Duration

	// Input channel, fed by the state store
	PositionChan <-chan models.PositionEstimate
}

// TrailServiceConfig holds configuration for trail service
type TrailServiceConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultTrailServiceConfig returns default configuration
func DefaultTrailServiceConfig() TrailServiceConfig {
	return TrailServiceConfig{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
	}
}

// NewTrailService creates a new trail service
func NewTrailService(
	recorder database.Recorder,
	positionChan <-chan models.PositionEstimate,
	config TrailServiceConfig,
	logger *zap.Logger,
) *TrailService {
	def := DefaultTrailServiceConfig()
	if config.BatchSize < 1 {
		config.BatchSize = def.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}
	return &TrailService{
		recorder:      recorder,
		logger:        logger,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		PositionChan:  positionChan,
	}
}

// Start records changes until the context is cancelled or the channel is
// closed, flushing whatever is pending on the way out
func (s *TrailService) Start(ctx context.Context) {
	s.logger.Info("TrailService: starting")

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	pending := make([]models.PositionEstimate, 0, s.batchSize)
	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		if err := s.recorder.SavePositions(ctx, pending); err != nil {
			s.logger.Warn("Error saving position trail", zap.Int("rows", len(pending)), zap.Error(err))
		}
		pending = pending[:0]
	}
	final := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		flush(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			final()
			s.logger.Info("TrailService: shutting down")
			return

		case est, ok := <-s.PositionChan:
			if !ok {
				final()
				s.logger.Info("TrailService: position channel closed, shutting down")
				return
			}
			pending = append(pending, est)
			if len(pending) >= s.batchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}
