package mqtt

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"pet-tracker/internal/ingest"
	"pet-tracker/internal/models"
)

// Subscriber handles the observation subscription and writes decoded
// observations to a channel
type Subscriber struct {
	client  mqtt.Client
	decoder *ingest.Decoder
	logger  *zap.Logger
	now     func() time.Time

	// Output channel (written by subscriber, read by the tracking service)
	ObservationChan chan models.Observation

	// Topic pattern, e.g. "pettrack/tags/+/observations"
	observationTopic string
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	ObservationTopic string
}

// NewSubscriber creates a new MQTT subscriber writing to observationChan
func NewSubscriber(
	client mqtt.Client,
	config SubscriberConfig,
	decoder *ingest.Decoder,
	observationChan chan models.Observation,
	logger *zap.Logger,
) *Subscriber {
	return &Subscriber{
		client:           client,
		decoder:          decoder,
		logger:           logger,
		now:              time.Now,
		ObservationChan:  observationChan,
		observationTopic: config.ObservationTopic,
	}
}

// Subscribe subscribes to the observation topic
func (s *Subscriber) Subscribe() error {
	if err := s.subscribeToTopic(s.observationTopic, s.handleObservation); err != nil {
		return fmt.Errorf("failed to subscribe to observation topic: %w", err)
	}
	s.logger.Info("Subscribed to observation topic", zap.String("topic", s.observationTopic))
	return nil
}

// Unsubscribe stops delivery from the observation topic
func (s *Subscriber) Unsubscribe() error {
	token := s.client.Unsubscribe(s.observationTopic)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe from observation topic: %w", token.Error())
	}
	s.logger.Info("Unsubscribed from observation topic", zap.String("topic", s.observationTopic))
	return nil
}

// subscribeToTopic is a helper function to subscribe to a topic with a handler
func (s *Subscriber) subscribeToTopic(topic string, handler mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// handleObservation decodes one message and hands it to the channel. It runs
// on paho's delivery goroutine and never blocks it.
func (s *Subscriber) handleObservation(_ mqtt.Client, msg mqtt.Message) {
	obs, err := s.decoder.Decode(msg.Topic(), msg.Payload(), s.now())
	if err != nil {
		if errors.Is(err, ingest.ErrUnknownAnchor) {
			s.logger.Warn("Dropping observation from unknown anchor", zap.String("topic", msg.Topic()), zap.Error(err))
		} else {
			s.logger.Debug("Dropping malformed observation", zap.String("topic", msg.Topic()), zap.Error(err))
		}
		return
	}

	select {
	case s.ObservationChan <- obs:
	default:
		s.decoder.Stats().CountDropped()
		s.logger.Warn("Observation channel full, dropping message",
			zap.String("tag_id", obs.TagID),
			zap.String("anchor_id", obs.AnchorID))
	}
}
