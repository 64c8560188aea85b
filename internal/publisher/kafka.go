// Package publisher streams enriched rides to Kafka, one JSON message per
// ride keyed by its grouping key.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/stuartshay/ride-window-worker/internal/metrics"
	"github.com/stuartshay/ride-window-worker/internal/pipeline"
)

// batchSize bounds how many messages are handed to the writer per call
const batchSize = 500

// Message is the wire form of an enriched ride
type Message struct {
	OrderID   string    `json:"order_id"`
	Key       string    `json:"key"`
	KeyField  string    `json:"key_field"`
	Timestamp time.Time `json:"timestamp"`

	LastTotalDistance float64 `json:"last_total_distance"`
	LastTotalDuration float64 `json:"last_total_duration"`
	LastTotalCount    int     `json:"last_total_count"`
	TotalDistance     float64 `json:"total_distance"`
	TotalDuration     float64 `json:"total_duration"`
	TotalCount        int     `json:"total_count"`
}

// NewMessage converts an enriched ride to its wire form
func NewMessage(keyField string, r pipeline.EnrichedRide) Message {
	return Message{
		OrderID:           r.OrderID,
		Key:               r.Key,
		KeyField:          keyField,
		Timestamp:         r.Timestamp,
		LastTotalDistance: r.Aggregates.LastTotalDistance,
		LastTotalDuration: r.Aggregates.LastTotalDuration,
		LastTotalCount:    r.Aggregates.LastTotalCount,
		TotalDistance:     r.Aggregates.TotalDistance,
		TotalDuration:     r.Aggregates.TotalDuration,
		TotalCount:        r.Aggregates.TotalCount,
	}
}

// Encode builds Kafka messages for rides. Messages of one key share a
// partition, so consumers see each key's records in timestamp order.
func Encode(keyField string, rides []pipeline.EnrichedRide) ([]kafka.Message, error) {
	out := make([]kafka.Message, len(rides))
	for i, r := range rides {
		b, err := json.Marshal(NewMessage(keyField, r))
		if err != nil {
			return nil, fmt.Errorf("failed to encode order %s: %w", r.OrderID, err)
		}
		out[i] = kafka.Message{Key: []byte(r.Key), Value: b}
	}
	return out, nil
}

// messageWriter is the subset of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes enriched rides to a topic
type Kafka struct {
	writer messageWriter
	topic  string
}

// NewKafka returns a publisher writing to topic on brokers
func NewKafka(brokers []string, topic string) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Kafka{writer: w, topic: topic}
}

// Publish writes rides in batches, stopping at the first failed batch
func (k *Kafka) Publish(ctx context.Context, keyField string, rides []pipeline.EnrichedRide) error {
	msgs, err := Encode(keyField, rides)
	if err != nil {
		return err
	}

	for start := 0; start < len(msgs); start += batchSize {
		end := min(start+batchSize, len(msgs))
		if err := k.writer.WriteMessages(ctx, msgs[start:end]...); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", k.topic, err)
		}
		metrics.PublishedRecords.Add(float64(end - start))
	}
	return nil
}

// Close flushes and closes the underlying writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
