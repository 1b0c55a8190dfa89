package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"tickerflow/internal/archive"
	"tickerflow/internal/model/enum"
	"tickerflow/internal/ops"
	"tickerflow/internal/sink"
	"tickerflow/pkg/conn"
	"tickerflow/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("explore: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	driver := pflag.String("driver", ops.StorageMinio, "object store: minio or file")
	dir := pflag.String("dir", "", "archive directory for the file driver")
	endpoint := pflag.String("endpoint", os.Getenv("MINIO_ENDPOINT"), "minio endpoint")
	bucket := pflag.String("bucket", sink.DefaultBucket, "minio bucket")
	useSSL := pflag.Bool("ssl", false, "use TLS for minio")
	sourceName := pflag.StringP("source", "s", "", "kucoin or binance")
	startFlag := pflag.String("start", "", "range start, RFC3339")
	endFlag := pflag.String("end", "", "range end, RFC3339 (default: now)")
	listOnly := pflag.BoolP("list", "l", false, "print keys instead of records")
	outPath := pflag.StringP("out", "o", "", "write records to this file instead of stdout")
	catalogDSN := pflag.String("catalog", "", "postgres dsn: list catalog rows instead of reading the store")
	pflag.Parse()

	_ = godotenv.Load()
	if *catalogDSN == "" {
		*catalogDSN = os.Getenv("CATALOG_DSN")
	}

	source, ok := enum.ParseSource(*sourceName)
	if !ok {
		return fmt.Errorf("%w: %q", exception.ErrUnknownSource, *sourceName)
	}
	start, end, err := parseRange(*startFlag, *endFlag)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if *catalogDSN != "" {
		return listCatalog(ctx, *catalogDSN, source, start, end)
	}

	var store archive.ObjectReader
	switch *driver {
	case ops.StorageFile:
		if store, err = sink.NewFileStore(*dir); err != nil {
			return err
		}
	case ops.StorageMinio:
		if *endpoint == "" {
			*endpoint = os.Getenv("MINIO_ENDPOINT")
		}
		if store, err = sink.NewMinioStore(ctx, sink.MinioConfig{
			Endpoint:  *endpoint,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    *bucket,
			UseSSL:    *useSSL,
		}); err != nil {
			return err
		}
	default:
		return errors.Wrap(exception.ErrUnsupportedStorage, *driver)
	}

	explorer := archive.NewExplorer(store)
	if *listOnly {
		keys, err := explorer.List(ctx, source, start, end)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	}

	records, err := explorer.Download(ctx, source, start, end)
	if err != nil {
		return err
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return errors.Wrap(err, "create output").With("path", *outPath)
		}
		defer f.Close()
		out = f
	}

	if err := sonic.ConfigStd.NewEncoder(out).Encode(records); err != nil {
		return errors.Wrap(err, "encode records")
	}
	logs.Infof("%d %s records between %s and %s", len(records), source, start.Format(time.RFC3339), end.Format(time.RFC3339))
	return nil
}

// listCatalog prints the catalog rows of source in range, one per line.
func listCatalog(ctx context.Context, dsn string, source enum.Source, start, end time.Time) error {
	client, err := conn.New(ctx, conn.Option{ConnString: dsn})
	if err != nil {
		return err
	}
	defer client.Close()

	rows, err := sink.NewCatalog(client.DB()).Range(ctx, source, start, end)
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Printf("%s\t%d records\t%d bytes\t%s\n", row.ObjectKey, row.Records, row.Bytes, row.FirstIngestedAt.UTC().Format(time.RFC3339))
	}
	logs.Infof("%d %s objects between %s and %s", len(rows), source, start.Format(time.RFC3339), end.Format(time.RFC3339))
	return nil
}

func parseRange(startValue, endValue string) (time.Time, time.Time, error) {
	if strings.TrimSpace(startValue) == "" {
		return time.Time{}, time.Time{}, errors.Wrap(exception.ErrInvalidArgument, "--start is required")
	}
	start, err := time.Parse(time.RFC3339, startValue)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrap(err, "parse --start")
	}

	end := time.Now().UTC()
	if strings.TrimSpace(endValue) != "" {
		if end, err = time.Parse(time.RFC3339, endValue); err != nil {
			return time.Time{}, time.Time{}, errors.Wrap(err, "parse --end")
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.Wrap(exception.ErrInvalidArgument, "--end is before --start")
	}
	return start, end, nil
}
