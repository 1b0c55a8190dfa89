package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tickerflow/internal/model"
	"tickerflow/internal/model/enum"
	"tickerflow/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
)

const (
	DefaultKucoinTopic  = "kucoin_raw_data"
	DefaultBinanceTopic = "binance_raw_data"

	defaultKafkaMaxAttempts  = 5
	defaultKafkaBatchTimeout = 10 * time.Millisecond
	defaultKafkaWriteTimeout = 10 * time.Second
)

// DefaultTopics maps every source to its raw data topic.
func DefaultTopics() map[enum.Source]string {
	return map[enum.Source]string{
		enum.SourceKucoin:  DefaultKucoinTopic,
		enum.SourceBinance: DefaultBinanceTopic,
	}
}

type KafkaConfig struct {
	Brokers []string
	// Topics overrides DefaultTopics per source.
	Topics       map[enum.Source]string
	MaxAttempts  int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one message per batch. Retries happen inside the writer.
type Kafka struct {
	writer messageWriter
	topics map[enum.Source]string
	now    func() time.Time
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "kafka: no broker")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultKafkaMaxAttempts
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultKafkaBatchTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultKafkaWriteTimeout
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxAttempts,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return newKafka(w, cfg.Topics), nil
}

func newKafka(w messageWriter, topics map[enum.Source]string) *Kafka {
	merged := DefaultTopics()
	for source, topic := range topics {
		if topic != "" {
			merged[source] = topic
		}
	}
	return &Kafka{writer: w, topics: merged, now: time.Now}
}

// Publish sends batch to the topic of source.
func (k *Kafka) Publish(ctx context.Context, source enum.Source, batch []model.RawRecord) error {
	msg, err := k.buildMessage(source, batch)
	if err != nil {
		return err
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write kafka message").With("topic", msg.Topic).With("records", len(batch))
	}
	return nil
}

// buildMessage keys the message by source and stamps it with the event
// time of the first record.
func (k *Kafka) buildMessage(source enum.Source, batch []model.RawRecord) (kafka.Message, error) {
	if len(batch) == 0 {
		return kafka.Message{}, exception.ErrEmptyBatch
	}
	topic, ok := k.topics[source]
	if !ok {
		return kafka.Message{}, fmt.Errorf("%w: %s", exception.ErrUnknownTopic, source)
	}

	value, err := sonic.ConfigFastest.Marshal(model.FieldsOf(batch))
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal batch")
	}

	ts := batch[0].EventTime
	if ts.IsZero() {
		ts = k.now()
	}

	return kafka.Message{
		Topic: topic,
		Key:   []byte(source.String()),
		Value: value,
		Time:  ts.UTC(),
	}, nil
}

func (k *Kafka) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
