package transport

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

// KafkaTickWriter produces ticks keyed by instrument, so every tick of an
// instrument lands on the same partition in order.
type KafkaTickWriter struct {
	writer *kafka.Writer
}

func NewKafkaTickWriter(cfg KafkaConfig) (*KafkaTickWriter, error) {
	if !cfg.Enabled() || cfg.TickTopic == "" {
		return nil, errors.New("kafka tick writer needs brokers and tick topic")
	}
	return &KafkaTickWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TickTopic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 5 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}, nil
}

func (w *KafkaTickWriter) Write(ctx context.Context, ticks ...model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(ticks))
	for _, t := range ticks {
		value, err := model.EncodeTick(t)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(t.InstrumentKey), Value: value, Time: t.EventTime()})
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write ticks").With("count", len(ticks))
	}
	return nil
}

func (w *KafkaTickWriter) Close() error {
	return w.writer.Close()
}
