package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"journey-detector/internal/detection"
)

const sinkKafka = "kafka"

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes lifecycle events to one topic keyed by device id,
// so a device's events stay ordered within a partition.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	metrics PublisherMetrics
	logger  *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, m PublisherMetrics, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}
	return newKafkaPublisher(w, topic, m, logger)
}

func newKafkaPublisher(w messageWriter, topic string, m PublisherMetrics, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, topic: topic, metrics: m, logger: logger}
}

// Emit implements detection.Sink.
func (p *KafkaPublisher) Emit(ctx context.Context, ev detection.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.DeviceID),
		Value: payload,
		Time:  ev.OccurredAt.UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "device_id", Value: []byte(ev.DeviceID)},
		},
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.PublishErrInc(sinkKafka)
		} else {
			p.metrics.PublishedInc(sinkKafka)
		}
	}
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
