package transport

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

var _ ResultSink = (*KafkaResultLog)(nil)

// KafkaResultLog appends results to a per-instrument keyed topic. Retention
// is a topic setting on the broker.
type KafkaResultLog struct {
	writer *kafka.Writer
}

func NewKafkaResultLog(cfg KafkaConfig) (*KafkaResultLog, error) {
	if !cfg.Enabled() || cfg.ResultTopic == "" {
		return nil, errors.New("kafka result log needs brokers and result topic")
	}
	return &KafkaResultLog{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.ResultTopic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}, nil
}

func (l *KafkaResultLog) Publish(ctx context.Context, result model.SignalResult) error {
	value, err := sonic.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "encode result").With("instrument", result.InstrumentKey)
	}
	err = l.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(result.InstrumentKey),
		Value: value,
		Time:  result.ComputedAt,
	})
	if err != nil {
		return errors.Wrap(err, "append result").With("instrument", result.InstrumentKey)
	}
	return nil
}

func (l *KafkaResultLog) Close() error {
	return l.writer.Close()
}
