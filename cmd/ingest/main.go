package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"tickerflow/internal/archive"
	"tickerflow/internal/bus"
	"tickerflow/internal/dispatch"
	"tickerflow/internal/obs"
	"tickerflow/internal/ops"
	"tickerflow/internal/sink"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/spf13/pflag"
	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("ingest: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", "config.yaml", "YAML config path")
	envFiles := pflag.StringSlice("env-file", nil, "env files loaded before the config (default: ./.env when present)")
	pflag.Parse()

	cfg, err := ops.Load(*configPath, *envFiles...)
	if err != nil {
		return yerrors.Wrap(err, "load config").With("path", *configPath)
	}

	if cfg.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.ApplicationName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          profilerLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return yerrors.Wrap(err, "start profiler")
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx := context.Background()
	metrics := obs.NewMetrics()
	stopMetrics := serveMetrics(cfg.Metrics.Addr, metrics)
	defer stopMetrics()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	catalog, closeCatalog, err := buildCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCatalog()

	publisher, err := sink.NewKafka(sink.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topics:       cfg.Kafka.SourceTopics(),
		MaxAttempts:  cfg.Kafka.MaxAttempts,
		WriteTimeout: cfg.Kafka.WriteTimeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logs.Errorf("close kafka writer, err: %+v", err)
		}
	}()

	overflow, _ := bus.ParseOverflowPolicy(cfg.Queue.Overflow)
	queue := bus.NewQueue(cfg.Queue.Capacity, overflow)

	worker, err := archive.NewWorker(queue, store, archive.WorkerConfig{
		MaxBatchSize: cfg.Archive.MaxBatchSize,
		MaxBatchAge:  cfg.Archive.MaxBatchAge,
		PollTimeout:  cfg.Archive.PollTimeout,
		WriteTimeout: cfg.Archive.WriteTimeout,
		Catalog:      catalog,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(publisher, queue, dispatch.Options{
		FlushInterval: cfg.Dispatch.FlushInterval,
		ChannelSize:   cfg.Dispatch.ChannelSize,
		Metrics:       metrics,
	}, buildSources(cfg, metrics)...)
	if err != nil {
		return err
	}

	worker.Start()
	done := make(chan error, 1)
	go func() {
		done <- dispatcher.Start(ctx)
	}()
	logs.Infof("ingest started, metrics on %s", cfg.Metrics.Addr)

	var runErr error
	select {
	case <-sys.Shutdown():
		logs.Info("shutdown signal received, stopping extractors")
		dispatcher.Stop()
		runErr = <-done
	case runErr = <-done:
	}

	queue.Close()
	worker.Stop()
	worker.Join()
	logs.Info("archive worker joined")

	return runErr
}

func serveMetrics(addr string, metrics *obs.Metrics) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("metrics server, err: %+v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

type profilerLogger struct{}

func (profilerLogger) Infof(string, ...interface{})  {}
func (profilerLogger) Debugf(string, ...interface{}) {}
func (profilerLogger) Errorf(format string, args ...interface{}) {
	logs.Errorf("pyroscope: "+format, args...)
}
