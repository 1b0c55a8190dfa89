package main

import (
	"context"

	"tickerflow/internal/archive"
	"tickerflow/internal/dispatch"
	"tickerflow/internal/extract"
	"tickerflow/internal/obs"
	"tickerflow/internal/ops"
	"tickerflow/internal/sink"
	"tickerflow/pkg/conn"
	"tickerflow/pkg/exception"
	"tickerflow/pkg/websocket"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

func buildSources(cfg *ops.Config, metrics *obs.Metrics) []dispatch.Source {
	dialer := websocket.NewDialer(websocket.DialerOption{})
	extractConfig := func(c ops.StreamConfig) extract.Config {
		return extract.Config{
			ConnectAttempts:  c.ConnectAttempts,
			ConnectDelay:     c.ConnectDelay,
			ReconnectBackoff: websocket.FixedBackoff(c.ReconnectBackoff),
			Dialer:           dialer,
			Metrics:          metrics,
		}
	}

	var sources []dispatch.Source
	if kc := cfg.Sources.Kucoin; kc.IsEnabled() {
		sources = append(sources, dispatch.Source{
			Extractor: extract.NewKucoinExtractor(extract.KucoinConfig{
				Config:       extractConfig(kc.StreamConfig),
				BootstrapURL: kc.BootstrapURL,
			}),
			MaxBatchSize: kc.MaxBatchSize,
			MaxBatchAge:  kc.MaxBatchAge,
		})
	}
	if bc := cfg.Sources.Binance; bc.IsEnabled() {
		sources = append(sources, dispatch.Source{
			Extractor: extract.NewBinanceExtractor(extract.BinanceConfig{
				Config: extractConfig(bc.StreamConfig),
				URL:    bc.URL,
			}),
			MaxBatchSize: bc.MaxBatchSize,
			MaxBatchAge:  bc.MaxBatchAge,
		})
	}
	return sources
}

func buildStore(ctx context.Context, cfg *ops.Config) (archive.ObjectWriter, error) {
	var store archive.ObjectWriter
	switch cfg.Storage.Driver {
	case ops.StorageMinio:
		m := cfg.Storage.Minio
		s, err := sink.NewMinioStore(ctx, sink.MinioConfig{
			Endpoint:     m.Endpoint,
			AccessKey:    m.AccessKey,
			SecretKey:    m.SecretKey,
			Bucket:       m.Bucket,
			Region:       m.Region,
			UseSSL:       m.UseSSL,
			CreateBucket: m.CreateBucket,
		})
		if err != nil {
			return nil, err
		}
		store = s
	case ops.StorageFile:
		s, err := sink.NewFileStore(cfg.Storage.File.Dir)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, errors.Wrap(exception.ErrUnsupportedStorage, cfg.Storage.Driver)
	}

	if cfg.Archive.Gzip {
		store = sink.NewGzip(store, cfg.Archive.GzipLevel)
	}
	return store, nil
}

// buildCatalog returns a nil Recorder when no database is configured.
func buildCatalog(ctx context.Context, cfg *ops.Config) (archive.Recorder, func(), error) {
	noop := func() {}
	if !cfg.Catalog.Enabled() {
		return nil, noop, nil
	}

	c := cfg.Catalog
	client, err := conn.New(ctx, conn.Option{
		Host:       c.Host,
		Port:       c.Port,
		User:       c.User,
		Password:   c.Password,
		Database:   c.Database,
		SSLMode:    c.SSLMode,
		ConnString: c.DSN,
		Params:     map[string]string{"application_name": "tickerflow"},
	})
	if err != nil {
		return nil, noop, err
	}
	closer := func() {
		if err := client.Close(); err != nil {
			logs.Errorf("close catalog db, err: %+v", err)
		}
	}

	catalog := sink.NewCatalog(client.DB())
	if c.Migrate {
		if err := catalog.Migrate(ctx); err != nil {
			closer()
			return nil, noop, err
		}
	}
	return catalog, closer, nil
}
