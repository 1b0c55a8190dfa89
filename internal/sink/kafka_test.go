package sink

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tickerflow/internal/model"
	"tickerflow/internal/model/enum"
	"tickerflow/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

var _json = sonic.Config{UseNumber: true}.Froze()

// tickers decodes fields the way the extractors do, numbers kept verbatim.
func tickers(t *testing.T, eventTime time.Time, symbols ...string) []model.RawRecord {
	t.Helper()
	out := make([]model.RawRecord, len(symbols))
	for i, s := range symbols {
		var fields map[string]any
		require.NoError(t, _json.UnmarshalFromString(fmt.Sprintf(`{"s":%q,"c":87000.10}`, s), &fields))
		out[i] = model.RawRecord{
			Source:    enum.SourceBinance,
			Fields:    fields,
			EventTime: eventTime,
		}
	}
	return out
}

func TestKafkaBuildMessage(t *testing.T) {
	k := newKafka(&fakeWriter{}, map[enum.Source]string{enum.SourceKucoin: "kucoin_custom"})
	eventTime := time.UnixMilli(1743064920774)

	msg, err := k.buildMessage(enum.SourceBinance, tickers(t, eventTime, "BTCUSDT", "ETHUSDT"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBinanceTopic, msg.Topic)
	assert.Equal(t, "binance", string(msg.Key))
	assert.Equal(t, eventTime.UTC(), msg.Time)
	assert.JSONEq(t, `[{"s":"BTCUSDT","c":87000.10},{"s":"ETHUSDT","c":87000.10}]`, string(msg.Value))

	msg, err = k.buildMessage(enum.SourceKucoin, tickers(t, eventTime, "BTC-USDT"))
	require.NoError(t, err)
	assert.Equal(t, "kucoin_custom", msg.Topic)
}

func TestKafkaBuildMessageFallsBackToNow(t *testing.T) {
	now := time.Date(2025, 5, 23, 0, 0, 0, 0, time.UTC)
	k := newKafka(&fakeWriter{}, nil)
	k.now = func() time.Time { return now }

	msg, err := k.buildMessage(enum.SourceBinance, tickers(t, time.Time{}, "BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, now, msg.Time)
}

func TestKafkaBuildMessageRejects(t *testing.T) {
	k := newKafka(&fakeWriter{}, nil)

	_, err := k.buildMessage(enum.SourceBinance, nil)
	require.ErrorIs(t, err, exception.ErrEmptyBatch)

	k.topics = map[enum.Source]string{}
	_, err = k.buildMessage(enum.SourceBinance, tickers(t, time.Now(), "BTCUSDT"))
	require.ErrorIs(t, err, exception.ErrUnknownTopic)
}

func TestKafkaPublish(t *testing.T) {
	w := &fakeWriter{}
	k := newKafka(w, nil)

	require.NoError(t, k.Publish(context.Background(), enum.SourceBinance, tickers(t, time.Now(), "BTCUSDT")))
	require.Len(t, w.msgs, 1)

	w.err = errors.New("leader not available")
	require.Error(t, k.Publish(context.Background(), enum.SourceBinance, tickers(t, time.Now(), "BTCUSDT")))

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaNeedsBroker(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Brokers: []string{" ", ""}})
	require.ErrorIs(t, err, exception.ErrInvalidArgument)

	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	require.NoError(t, k.Close())
}
