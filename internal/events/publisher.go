// Package events fans sync status changes out to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/kinexsync/internal/syncengine"
)

// messageWriter is satisfied by the *kafka.Writer from NewStatusWriter.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(ctx context.Context, subject string, schema string) (int, error)
}

// SyncStatusChanged is the event written for every distinct status snapshot.
type SyncStatusChanged struct {
	DeviceID     string    `json:"device_id"`
	State        string    `json:"state"`
	Message      string    `json:"message,omitempty"`
	PendingCount int       `json:"pending_count"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// PublisherOption configures the StatusPublisher.
type PublisherOption func(*StatusPublisher)

// WithSchemaRegistry frames payloads with the schema id registered for the topic's value subject.
func WithSchemaRegistry(registry schemaRegistrar) PublisherOption {
	return func(p *StatusPublisher) {
		p.registry = registry
	}
}

// WithPublisherLogger overrides the logger.
func WithPublisherLogger(logger *log.Logger) PublisherOption {
	return func(p *StatusPublisher) {
		p.logger = logger
	}
}

// WithPublisherClock overrides the time source used for occurred_at.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *StatusPublisher) {
		p.now = now
	}
}

// StatusPublisher buffers engine snapshots and writes them to Kafka from a single goroutine.
// Snapshots arriving while the buffer is full are dropped.
type StatusPublisher struct {
	writer   messageWriter
	registry schemaRegistrar
	topic    string
	deviceID string
	logger   *log.Logger
	now      func() time.Time

	queue chan SyncStatusChanged

	mu   sync.Mutex
	last *syncengine.Snapshot

	schemaID         int
	shutdownComplete chan struct{}
}

// NewStatusPublisher constructs a publisher with room for buffer pending events. topic
// must be the topic writer is bound to; it names the schema registry subject.
func NewStatusPublisher(writer messageWriter, topic, deviceID string, buffer int, opts ...PublisherOption) *StatusPublisher {
	if buffer <= 0 {
		buffer = 1
	}
	p := &StatusPublisher{
		writer:           writer,
		topic:            topic,
		deviceID:         deviceID,
		logger:           log.New(log.Writer(), "[events] ", log.LstdFlags|log.Lshortfile),
		now:              time.Now,
		queue:            make(chan SyncStatusChanged, buffer),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe queues snap for publishing. It never blocks and skips a snapshot identical to
// the previous one.
func (p *StatusPublisher) Observe(snap syncengine.Snapshot) {
	p.mu.Lock()
	if p.last != nil && *p.last == snap {
		p.mu.Unlock()
		return
	}
	p.last = &snap
	p.mu.Unlock()

	event := SyncStatusChanged{
		DeviceID:     p.deviceID,
		State:        string(snap.Status.State),
		Message:      snap.Status.Message,
		PendingCount: snap.PendingCount,
		OccurredAt:   p.now().UTC(),
	}
	select {
	case p.queue <- event:
	default:
		droppedCounter.Inc()
	}
}

// Start runs the publish loop until ctx is cancelled. Events still buffered at that
// point are flushed with a short grace period.
func (p *StatusPublisher) Start(ctx context.Context) {
	go func() {
		defer close(p.shutdownComplete)

		if p.registry != nil {
			id, err := p.registry.EnsureSchema(ctx, p.subject(), statusChangedSchema)
			if err != nil {
				p.logger.Printf("ensure schema for %s: %v", p.subject(), err)
			} else {
				p.schemaID = id
			}
		}

		for {
			select {
			case <-ctx.Done():
				p.flush()
				return
			case event := <-p.queue:
				p.publish(ctx, event)
			}
		}
	}()
}

// Wait blocks until the publish loop has stopped.
func (p *StatusPublisher) Wait() {
	<-p.shutdownComplete
}

func (p *StatusPublisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-p.queue:
			p.publish(ctx, event)
		default:
			return
		}
	}
}

func (p *StatusPublisher) publish(ctx context.Context, event SyncStatusChanged) {
	msg, err := p.message(event)
	if err != nil {
		publishFailedCounter.Inc()
		p.logger.Printf("encode status event: %v", err)
		return
	}
	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	publishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		publishFailedCounter.Inc()
		p.logger.Printf("write status event to %s: %v", p.topic, err)
		return
	}
	publishedCounter.Inc()
}

func (p *StatusPublisher) message(event SyncStatusChanged) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal: %w", err)
	}
	if p.schemaID != 0 {
		payload = encodeWireFormat(p.schemaID, payload)
	}
	return kafka.Message{
		Key:   []byte(p.deviceID),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeStatusChanged)},
		},
	}, nil
}

func (p *StatusPublisher) subject() string {
	return p.topic + "-value"
}
