package transport

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	defaultPollWait = time.Second
	defaultMaxBytes = 10e6
)

var _ TickSource = (*KafkaTickSource)(nil)

// KafkaConfig names the brokers and topics the pod uses.
type KafkaConfig struct {
	Brokers     []string      `json:"brokers"`
	TickTopic   string        `json:"tickTopic"`
	GroupPrefix string        `json:"groupPrefix"`
	ResultTopic string        `json:"resultTopic"`
	PollWait    time.Duration `json:"pollWait"`
}

// GroupFor returns the consumer group of one pod. Each pod reads the whole
// tick stream through its own group and keeps only the instruments it owns.
func (c KafkaConfig) GroupFor(podID string) string {
	return c.GroupPrefix + "-" + podID
}

// Enabled reports whether brokers are configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// KafkaTickSource reads ticks as a member of a consumer group. Offsets are
// committed explicitly, never on read.
type KafkaTickSource struct {
	reader   *kafka.Reader
	pollWait time.Duration
}

// NewKafkaTickSource joins the pod's own consumer group for the tick topic.
func NewKafkaTickSource(cfg KafkaConfig, podID string) (*KafkaTickSource, error) {
	if !cfg.Enabled() || cfg.TickTopic == "" || cfg.GroupPrefix == "" || podID == "" {
		return nil, errors.New("kafka tick source needs brokers, tick topic, group prefix and pod id")
	}
	group := cfg.GroupFor(podID)
	wait := cfg.PollWait
	if wait <= 0 {
		wait = defaultPollWait
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  group,
		Topic:    cfg.TickTopic,
		MinBytes: 1,
		MaxBytes: defaultMaxBytes,
		MaxWait:  wait,
	})
	logs.Infof("kafka tick source joined, topic: %s, group: %s, brokers: %v", cfg.TickTopic, group, cfg.Brokers)
	return &KafkaTickSource{reader: reader, pollWait: wait}, nil
}

func (s *KafkaTickSource) Fetch(ctx context.Context) (Delivery, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.pollWait)
	defer cancel()

	msg, err := s.reader.FetchMessage(pollCtx)
	if err != nil {
		if ctx.Err() == nil && pollCtx.Err() != nil {
			return Delivery{}, ErrNoMessage
		}
		return Delivery{}, errors.Wrap(err, "fetch tick").With("topic", s.reader.Config().Topic)
	}
	return Delivery{
		Key:        string(msg.Key),
		Value:      msg.Value,
		Partition:  msg.Partition,
		Offset:     msg.Offset,
		ReceivedAt: time.Now().UTC(),
		handle:     msg,
	}, nil
}

func (s *KafkaTickSource) Commit(ctx context.Context, deliveries ...Delivery) error {
	msgs := make([]kafka.Message, 0, len(deliveries))
	for _, d := range deliveries {
		if msg, ok := d.handle.(kafka.Message); ok {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "commit ticks").With("count", len(msgs))
	}
	return nil
}

func (s *KafkaTickSource) Close() error {
	return s.reader.Close()
}
