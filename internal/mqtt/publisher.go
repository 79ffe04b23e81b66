package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"pet-tracker/internal/models"
)

// Publisher republishes position changes read from a channel
type Publisher struct {
	client mqtt.Client
	logger *zap.Logger

	// Input channel (read by publisher, fed by the state store)
	PositionChan <-chan models.PositionEstimate

	// Topic pattern
	positionTopic string // e.g., "pettrack/positions/{tag_id}"
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	PositionTopic string // e.g., "pettrack/positions/{tag_id}"
}

// NewPublisher creates a new MQTT publisher reading from positionChan
func NewPublisher(
	client mqtt.Client,
	config PublisherConfig,
	positionChan <-chan models.PositionEstimate,
	logger *zap.Logger,
) *Publisher {
	return &Publisher{
		client:        client,
		logger:        logger,
		PositionChan:  positionChan,
		positionTopic: config.PositionTopic,
	}
}

// Start begins publishing position changes from the channel
// Runs until context is cancelled or channel is closed
func (p *Publisher) Start(ctx context.Context) {
	p.logger.Info("MQTT Publisher: starting", zap.String("topic", p.positionTopic))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("MQTT Publisher: context cancelled, shutting down")
			return

		case est, ok := <-p.PositionChan:
			if !ok {
				p.logger.Info("MQTT Publisher: position channel closed, shutting down")
				return
			}

			if err := p.publishPosition(est); err != nil {
				p.logger.Warn("Error publishing position", zap.String("tag_id", est.TagID), zap.Error(err))
			}
		}
	}
}

// publishPosition publishes one estimate to the tag's topic
func (p *Publisher) publishPosition(est models.PositionEstimate) error {
	payload, err := json.Marshal(est)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	topic := formatTopic(p.positionTopic, est.TagID)

	token := p.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish position: %w", token.Error())
	}

	p.logger.Debug("Published position", zap.String("tag_id", est.TagID), zap.String("topic", topic))
	return nil
}

// formatTopic replaces the {tag_id} placeholder with the tag id
func formatTopic(topicPattern, tagID string) string {
	return strings.ReplaceAll(topicPattern, "{tag_id}", tagID)
}
