package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// KafkaSink writes lifecycle events to a Kafka topic. With no brokers or an
// empty topic every call is a no-op.
type KafkaSink struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaSink creates a sink for the given brokers and topic.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	if len(brokers) == 0 || topic == "" {
		return &KafkaSink{logger: logger}
	}
	return &KafkaSink{
		logger: logger,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Publish(ev protocol.LifecycleEvent) {
	if s.writer == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal lifecycle event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.CorrelationID),
		Value: body,
	}); err != nil {
		s.logger.Warn("kafka publish failed", "type", ev.Type, "error", err)
	}
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// ParseBrokers splits "host1:9092,host2:9092" into a slice.
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
