package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/retry"
)

// Manager owns the tier-based queues and publishes envelopes with
// broker-acknowledged delivery.
type Manager interface {
	// SetupQueues is idempotent: it ensures one durable queue per
	// (step, tier) exists at broker start.
	SetupQueues(ctx context.Context) error
	PublishExtractionJob(ctx context.Context, tier models.Tier, msg *Message) error
	PublishTransformJob(ctx context.Context, tier models.Tier, msg *Message) error
	PublishEmbeddingJob(ctx context.Context, tier models.Tier, msg *Message) error
	// GetSingleMessage polls one message from a (step, tier) queue with
	// manual ack. Returns ErrNoMessage when the queue is empty within the
	// timeout.
	GetSingleMessage(ctx context.Context, step Step, tier models.Tier, timeout time.Duration) (Delivery, error)
	Close()
}

// Delivery is one consumed message plus its broker acknowledgement handle.
type Delivery interface {
	Message() *Message
	Ack() error
	Nak() error
}

// ErrNoMessage is returned by GetSingleMessage when the queue is empty.
var ErrNoMessage = fmt.Errorf("no message available")

type jetStreamManager struct {
	nc             *nats.Conn
	js             jetstream.JetStream
	publishRetries int
	consumers      map[string]jetstream.Consumer
	logger         *zap.Logger
}

var _ Manager = (*jetStreamManager)(nil)

// NewManager connects to the broker and returns a JetStream-backed queue
// manager.
func NewManager(url string, publishRetries int, logger *zap.Logger) (Manager, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	if publishRetries <= 0 {
		publishRetries = 3
	}

	return &jetStreamManager{
		nc:             nc,
		js:             js,
		publishRetries: publishRetries,
		consumers:      make(map[string]jetstream.Consumer),
		logger:         logger.Named("queue-manager"),
	}, nil
}

func (m *jetStreamManager) SetupQueues(ctx context.Context) error {
	for _, step := range AllSteps() {
		stream, err := m.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      StreamName(step),
			Subjects:  []string{string(step) + ".*"},
			Retention: jetstream.WorkQueuePolicy,
			Storage:   jetstream.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", StreamName(step), err)
		}

		for _, tier := range models.AllTiers() {
			name := QueueName(step, tier)
			cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
				Durable:       name,
				FilterSubject: Subject(step, tier),
				AckPolicy:     jetstream.AckExplicitPolicy,
				AckWait:       5 * time.Minute,
				// Redelivery is handled by the retry middleware, which
				// republishes with retry_count incremented.
				MaxDeliver: 1,
			})
			if err != nil {
				return fmt.Errorf("failed to create consumer %s: %w", name, err)
			}
			m.consumers[name] = cons
		}
	}

	m.logger.Info("Queues ready",
		zap.Int("streams", len(AllSteps())),
		zap.Int("queues", len(m.consumers)))
	return nil
}

func (m *jetStreamManager) PublishExtractionJob(ctx context.Context, tier models.Tier, msg *Message) error {
	return m.publish(ctx, StepExtraction, tier, msg)
}

func (m *jetStreamManager) PublishTransformJob(ctx context.Context, tier models.Tier, msg *Message) error {
	return m.publish(ctx, StepTransform, tier, msg)
}

func (m *jetStreamManager) PublishEmbeddingJob(ctx context.Context, tier models.Tier, msg *Message) error {
	return m.publish(ctx, StepEmbedding, tier, msg)
}

// publish serializes the envelope and publishes it with publisher-confirm
// semantics, retrying with backoff. Terminal failure is surfaced to the
// caller, which records a dead-letter row.
func (m *jetStreamManager) publish(ctx context.Context, step Step, tier models.Tier, msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	subject := Subject(step, tier)
	cfg := &retry.Config{
		MaxRetries:   m.publishRetries - 1,
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}

	err = retry.Do(ctx, cfg, func() error {
		_, pubErr := m.js.Publish(ctx, subject, data)
		return pubErr
	})
	if err != nil {
		m.logger.Error("Publish failed after retries",
			zap.String("subject", subject),
			zap.String("type", msg.Type),
			zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (m *jetStreamManager) GetSingleMessage(ctx context.Context, step Step, tier models.Tier, timeout time.Duration) (Delivery, error) {
	cons, ok := m.consumers[QueueName(step, tier)]
	if !ok {
		return nil, fmt.Errorf("queue %s not set up", QueueName(step, tier))
	}

	batch, err := cons.Fetch(1, jetstream.FetchMaxWait(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from %s: %w", QueueName(step, tier), err)
	}

	for raw := range batch.Messages() {
		msg, decodeErr := Decode(raw.Data())
		if decodeErr != nil {
			// Undecodable envelopes are terminal: ack and drop.
			_ = raw.Ack()
			return nil, decodeErr
		}
		return &jsDelivery{raw: raw, msg: msg}, nil
	}
	if batch.Error() != nil {
		return nil, batch.Error()
	}
	return nil, ErrNoMessage
}

func (m *jetStreamManager) Close() {
	m.nc.Close()
}

type jsDelivery struct {
	raw jetstream.Msg
	msg *Message
}

func (d *jsDelivery) Message() *Message { return d.msg }
func (d *jsDelivery) Ack() error        { return d.raw.Ack() }
func (d *jsDelivery) Nak() error        { return d.raw.Nak() }
