package extract

import (
	"context"
	"time"

	"tickerflow/internal/model"
	"tickerflow/internal/model/enum"
	"tickerflow/pkg/exception"
	"tickerflow/pkg/websocket"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
)

const DefaultBinanceURL = "wss://stream.binance.com:9443/ws/!ticker@arr"

// numbers are kept as json.Number so prices survive untouched.
var _json = sonic.Config{UseNumber: true}.Froze()

// BinanceConfig configures the Binance all-market ticker stream.
type BinanceConfig struct {
	Config

	URL string
}

// BinanceExtractor yields the whole ticker array of every frame.
type BinanceExtractor struct {
	*stream
}

func NewBinanceExtractor(cfg BinanceConfig) *BinanceExtractor {
	u := cfg.URL
	if u == "" {
		u = DefaultBinanceURL
	}
	return &BinanceExtractor{stream: newStream(enum.SourceBinance, &binanceProtocol{url: u}, cfg.Config)}
}

type binanceProtocol struct {
	url string
}

func (p *binanceProtocol) resolve(context.Context) (endpoint, error) {
	return endpoint{url: p.url}, nil
}

// The stream name in the URL is the subscription.
func (p *binanceProtocol) onConnect(context.Context, websocket.Conn) error {
	return nil
}

// Binance pings from the server side and the gorilla conn answers.
func (p *binanceProtocol) ping() []byte {
	return nil
}

// binanceTicker is the typed view of one 24hr rolling window ticker.
type binanceTicker struct {
	EventType   string          `json:"e"`
	EventTime   int64           `json:"E"`
	Symbol      string          `json:"s"`
	Close       decimal.Decimal `json:"c"`
	Open        decimal.Decimal `json:"o"`
	High        decimal.Decimal `json:"h"`
	Low         decimal.Decimal `json:"l"`
	Volume      decimal.Decimal `json:"v"`
	QuoteVolume decimal.Decimal `json:"q"`
}

func (p *binanceProtocol) decode(payload []byte) ([]model.RawRecord, error) {
	return decodeBinance(payload)
}

// decodeBinance rejects the whole frame when any element is malformed.
func decodeBinance(payload []byte) ([]model.RawRecord, error) {
	var fields []map[string]any
	if err := _json.Unmarshal(payload, &fields); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedFrame, err.Error())
	}

	var tickers []binanceTicker
	if err := _json.Unmarshal(payload, &tickers); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedFrame, err.Error())
	}

	records := make([]model.RawRecord, 0, len(tickers))
	for i, t := range tickers {
		if t.EventType == "" || t.Symbol == "" || t.EventTime <= 0 || t.Close == "" {
			return nil, errors.Wrap(exception.ErrMalformedFrame, "binance ticker missing e, s, E or c").With("index", i)
		}
		if err := checkDecimals(t.Close, t.Open, t.High, t.Low, t.Volume, t.QuoteVolume); err != nil {
			return nil, errors.Wrap(exception.ErrMalformedFrame, err.Error()).With("symbol", t.Symbol)
		}
		records = append(records, model.RawRecord{
			Source:    enum.SourceBinance,
			Fields:    fields[i],
			EventTime: time.UnixMilli(t.EventTime).UTC(),
		})
	}

	return records, nil
}

// checkDecimals fails on the first value that is not a number. Absent fields
// decode as empty and pass.
func checkDecimals(values ...decimal.Decimal) error {
	for _, v := range values {
		if _, err := decimal.New(string(v)); err != nil {
			return err
		}
	}
	return nil
}
