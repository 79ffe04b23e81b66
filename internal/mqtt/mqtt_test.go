package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pet-tracker/internal/floorplan"
	"pet-tracker/internal/ingest"
	"pet-tracker/internal/models"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements the paho calls used by Subscriber and Publisher
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	subscribed   map[string]mqtt.MessageHandler
	unsubscribed []string
	published    []published
	publishErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{subscribed: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[topic] = handler
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &fakeToken{}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, qos, retained, payload.([]byte)})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) publishedCopy() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

const observationTopic = "pettrack/tags/+/observations"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSubscriber(t *testing.T, buffer int) (*Subscriber, *fakeClient, *ingest.Decoder) {
	t.Helper()
	plan, err := floorplan.Parse([]byte(`
anchors:
  - {id: A, point: [0, 0]}
  - {id: B, point: [10, 0]}
`))
	require.NoError(t, err)
	dec, err := ingest.NewDecoder(plan, observationTopic)
	require.NoError(t, err)

	client := newFakeClient()
	sub := NewSubscriber(client, SubscriberConfig{ObservationTopic: observationTopic}, dec,
		make(chan models.Observation, buffer), zaptest.NewLogger(t))
	sub.now = func() time.Time { return now }
	return sub, client, dec
}

func deliver(s *Subscriber, topic, payload string) {
	s.handleObservation(nil, &fakeMessage{topic: topic, payload: []byte(payload)})
}

func TestSubscriber_SubscribeAndUnsubscribe(t *testing.T) {
	sub, client, _ := newSubscriber(t, 1)

	require.NoError(t, sub.Subscribe())
	assert.Contains(t, client.subscribed, observationTopic)

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, []string{observationTopic}, client.unsubscribed)
}

func TestSubscriber_MalformedMessagesDoNotStopIngestion(t *testing.T) {
	sub, _, dec := newSubscriber(t, 8)

	deliver(sub, "pettrack/tags/whiskers/observations", `{"anchor":"A","distance":1}`)
	deliver(sub, "pettrack/tags/whiskers/observations", `not json`)
	deliver(sub, "pettrack/tags/whiskers/observations", `{"anchor":"Q","distance":1}`)
	deliver(sub, "pettrack/tags/whiskers/observations", `{"anchor":"B","distance":9}`)

	require.Len(t, sub.ObservationChan, 2)
	first := <-sub.ObservationChan
	second := <-sub.ObservationChan
	assert.Equal(t, "A", first.AnchorID)
	assert.Equal(t, "B", second.AnchorID)
	assert.Equal(t, now, second.ReceivedAt)

	stats := dec.Stats().Snapshot()
	assert.Equal(t, ingest.StatsSnapshot{Decoded: 2, Malformed: 1, UnknownAnchor: 1}, stats)
}

func TestSubscriber_FullChannelDrops(t *testing.T) {
	sub, _, dec := newSubscriber(t, 1)

	done := make(chan struct{})
	go func() {
		deliver(sub, "pettrack/tags/whiskers/observations", `{"anchor":"A","distance":1}`)
		deliver(sub, "pettrack/tags/whiskers/observations", `{"anchor":"B","distance":2}`)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked on a full channel")
	}
	assert.Equal(t, uint64(1), dec.Stats().Snapshot().Dropped)
}

func TestPublisher_RepublishesPositions(t *testing.T) {
	client := newFakeClient()
	positions := make(chan models.PositionEstimate, 2)
	pub := NewPublisher(client, PublisherConfig{PositionTopic: "pettrack/positions/{tag_id}"}, positions, zaptest.NewLogger(t))

	positions <- models.PositionEstimate{TagID: "whiskers", Coordinate: &models.Coordinate{X: 1}, Room: "kitchen", Confidence: 0.6, ComputedAt: now}
	positions <- models.UnknownPosition("rex", now)
	close(positions)

	pub.Start(context.Background())

	out := client.publishedCopy()
	require.Len(t, out, 2)
	assert.Equal(t, "pettrack/positions/whiskers", out[0].topic)
	assert.Equal(t, byte(1), out[0].qos)
	assert.False(t, out[0].retained)
	assert.Equal(t, "pettrack/positions/rex", out[1].topic)

	var decoded models.PositionEstimate
	require.NoError(t, json.Unmarshal(out[0].payload, &decoded))
	assert.Equal(t, "kitchen", decoded.Room)
	assert.Equal(t, 0.6, decoded.Confidence)
}

func TestPublisher_ErrorsDoNotStopLoop(t *testing.T) {
	client := newFakeClient()
	client.publishErr = errors.New("broker gone")
	positions := make(chan models.PositionEstimate, 2)
	pub := NewPublisher(client, PublisherConfig{PositionTopic: "p/{tag_id}"}, positions, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Start(ctx)
		close(done)
	}()

	positions <- models.UnknownPosition("a", now)
	positions <- models.UnknownPosition("b", now)
	assert.Eventually(t, func() bool { return len(client.publishedCopy()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
