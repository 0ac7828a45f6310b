package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each evaluation run as one JSON message keyed by tenant.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// Record is the message value written to Kafka.
type Record struct {
	Run      *domain.EvaluationRun `json:"run"`
	APICalls []domain.APICallLog   `json:"apiCalls"`
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

// SaveEvaluationRun publishes the run and its call logs.
func (s *KafkaSink) SaveEvaluationRun(ctx context.Context, run *domain.EvaluationRun, logs []domain.APICallLog) error {
	value, err := json.Marshal(Record{Run: run, APICalls: logs})
	if err != nil {
		return fmt.Errorf("marshal evaluation run: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.topic,
		Key:   []byte(domain.TenantKey(run.TenantID)),
		Value: value,
		Time:  run.CreatedAt,
		Headers: []kafka.Header{
			{Key: "request_id", Value: []byte(run.RequestID)},
		},
	})
}

// Close flushes pending messages.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
