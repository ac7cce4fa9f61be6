package events

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewStatusWriter returns a writer for the status topic. Messages are keyed by device id,
// and the hash balancer keeps each device on one partition so its events stay ordered.
func NewStatusWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
		BatchTimeout: 50 * time.Millisecond,
	}
}
