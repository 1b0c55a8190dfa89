package extract

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"tickerflow/internal/model"
	"tickerflow/internal/model/enum"
	"tickerflow/pkg/exception"
	"tickerflow/pkg/websocket"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
)

const _kucoinTickerTopic = "/market/ticker:all"

// KucoinConfig configures the KuCoin all-ticker stream.
type KucoinConfig struct {
	Config

	// BootstrapURL overrides the public token endpoint.
	BootstrapURL string
	HTTPClient   *http.Client
	// Topic overrides the subscription topic.
	Topic string
}

// KucoinExtractor yields one record per KuCoin ticker message.
type KucoinExtractor struct {
	*stream
}

// NewKucoinExtractor builds an extractor that bootstraps through the bullet
// endpoint on every connect.
func NewKucoinExtractor(cfg KucoinConfig) *KucoinExtractor {
	topic := cfg.Topic
	if topic == "" {
		topic = _kucoinTickerTopic
	}
	proto := &kucoinProtocol{
		bootstrap: newBootstrapClient(cfg.BootstrapURL, cfg.HTTPClient),
		topic:     topic,
	}
	return &KucoinExtractor{stream: newStream(enum.SourceKucoin, proto, cfg.Config)}
}

type kucoinProtocol struct {
	bootstrap *bootstrapClient
	topic     string
}

type kucoinControl struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Topic    string `json:"topic,omitempty"`
	Response bool   `json:"response,omitempty"`
}

func (p *kucoinProtocol) resolve(ctx context.Context) (endpoint, error) {
	b, err := p.bootstrap.fetch(ctx)
	if err != nil {
		return endpoint{}, err
	}

	u, err := url.Parse(b.Endpoint)
	if err != nil {
		return endpoint{}, errors.Wrap(exception.ErrBootstrap, err.Error()).With("endpoint", b.Endpoint)
	}
	q := u.Query()
	q.Set("token", b.Token)
	q.Set("connectId", uuid.NewString())
	u.RawQuery = q.Encode()

	return endpoint{url: u.String(), pingInterval: b.PingInterval}, nil
}

func (p *kucoinProtocol) onConnect(ctx context.Context, conn websocket.Conn) error {
	payload, err := sonic.ConfigFastest.Marshal(kucoinControl{
		ID:       uuid.NewString(),
		Type:     "subscribe",
		Topic:    p.topic,
		Response: true,
	})
	if err != nil {
		return errors.Wrap(err, "marshal subscribe")
	}

	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return errors.Wrap(err, "write subscribe payload").With("topic", p.topic)
	}

	return nil
}

func (p *kucoinProtocol) ping() []byte {
	payload, err := sonic.ConfigFastest.Marshal(kucoinControl{ID: uuid.NewString(), Type: "ping"})
	if err != nil {
		return nil
	}
	return payload
}

// kucoinTicker is the typed view used to reject malformed ticker frames.
type kucoinTicker struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Subject string `json:"subject"`
	Data    *struct {
		BestAsk     decimal.Decimal `json:"bestAsk"`
		BestAskSize decimal.Decimal `json:"bestAskSize"`
		BestBid     decimal.Decimal `json:"bestBid"`
		BestBidSize decimal.Decimal `json:"bestBidSize"`
		Price       decimal.Decimal `json:"price"`
		Size        decimal.Decimal `json:"size"`
		Sequence    string          `json:"sequence"`
		Time        int64           `json:"time"`
	} `json:"data"`
}

func (p *kucoinProtocol) decode(payload []byte) ([]model.RawRecord, error) {
	return decodeKucoin(payload)
}

// decodeKucoin filters welcome, ack and pong frames and keeps the raw message
// of every ticker.
func decodeKucoin(payload []byte) ([]model.RawRecord, error) {
	var fields map[string]any
	if err := _json.Unmarshal(payload, &fields); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedFrame, err.Error())
	}

	if msgType, _ := fields["type"].(string); msgType == "error" {
		return nil, errors.Wrap(exception.ErrInResponseError, "kucoin").With("frame", string(payload))
	}

	_, hasSubject := fields["subject"]
	_, hasData := fields["data"]
	if !hasSubject || !hasData {
		return nil, nil
	}

	var ticker kucoinTicker
	if err := _json.Unmarshal(payload, &ticker); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedFrame, err.Error())
	}
	if ticker.Subject == "" || ticker.Data == nil || ticker.Data.Time <= 0 || ticker.Data.Price == "" {
		return nil, errors.Wrap(exception.ErrMalformedFrame, "kucoin ticker missing subject, price or time")
	}
	d := ticker.Data
	if err := checkDecimals(d.Price, d.Size, d.BestAsk, d.BestAskSize, d.BestBid, d.BestBidSize); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedFrame, err.Error()).With("subject", ticker.Subject)
	}

	return []model.RawRecord{{
		Source:    enum.SourceKucoin,
		Fields:    fields,
		EventTime: time.UnixMilli(ticker.Data.Time).UTC(),
	}}, nil
}
