package extract

import (
	"context"
	"io"
	"net/http"
	"time"

	"tickerflow/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

const (
	DefaultKucoinBootstrapURL = "https://api.kucoin.com/api/v1/bullet-public"

	_kucoinSuccessCode = "200000"
	_bootstrapTimeout  = 10 * time.Second
)

type bulletResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			Protocol     string `json:"protocol"`
			Encrypt      bool   `json:"encrypt"`
			PingInterval int64  `json:"pingInterval"`
			PingTimeout  int64  `json:"pingTimeout"`
		} `json:"instanceServers"`
	} `json:"data"`
}

// bullet is the connection detail KuCoin hands out for public channels.
type bullet struct {
	Endpoint     string
	Token        string
	PingInterval time.Duration
}

// bootstrapClient fetches a public websocket token.
type bootstrapClient struct {
	url    string
	client *http.Client
}

func newBootstrapClient(url string, client *http.Client) *bootstrapClient {
	if url == "" {
		url = DefaultKucoinBootstrapURL
	}
	if client == nil {
		client = &http.Client{Timeout: _bootstrapTimeout}
	}
	return &bootstrapClient{url: url, client: client}
}

func (c *bootstrapClient) fetch(ctx context.Context) (bullet, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, nil)
	if err != nil {
		return bullet{}, errors.Wrap(exception.ErrBootstrap, err.Error())
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(r)
	if err != nil {
		return bullet{}, errors.Wrap(exception.ErrBootstrap, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return bullet{}, errors.Wrap(exception.ErrBootstrap, "unexpected status").With("status", resp.StatusCode)
	}

	var data bulletResponse
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&data); err != nil {
		return bullet{}, errors.Wrap(exception.ErrBootstrap, err.Error())
	}

	if data.Code != _kucoinSuccessCode {
		return bullet{}, errors.Wrap(exception.ErrBootstrap, "unexpected code").With("code", data.Code)
	}
	if data.Data.Token == "" {
		return bullet{}, errors.Wrap(exception.ErrBootstrap, "empty token")
	}
	if len(data.Data.InstanceServers) == 0 || data.Data.InstanceServers[0].Endpoint == "" {
		return bullet{}, errors.Wrap(exception.ErrBootstrap, "no instance server")
	}

	server := data.Data.InstanceServers[0]
	return bullet{
		Endpoint:     server.Endpoint,
		Token:        data.Data.Token,
		PingInterval: time.Duration(server.PingInterval) * time.Millisecond,
	}, nil
}
