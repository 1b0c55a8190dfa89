package sink

import (
	"bytes"
	"context"
	"io"
	"strings"

	"tickerflow/pkg/exception"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/yanun0323/errors"
)

const (
	DefaultBucket = "cryptopricesrt"

	contentTypeJSON = "application/json"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// CreateBucket makes the bucket when it does not exist yet.
	CreateBucket bool
}

// MinioStore keeps archived batches in an S3 compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "minio: empty endpoint")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new minio client").With("endpoint", cfg.Endpoint)
	}

	if cfg.CreateBucket {
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, errors.Wrap(err, "check bucket").With("bucket", cfg.Bucket)
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, errors.Wrap(err, "make bucket").With("bucket", cfg.Bucket)
			}
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) WriteObject(ctx context.Context, key string, payload []byte) (string, error) {
	opts := minio.PutObjectOptions{ContentType: contentTypeJSON}
	if strings.HasSuffix(key, gzipExt) {
		opts.ContentEncoding = "gzip"
	}

	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), opts); err != nil {
		return "", errors.Wrap(err, "put object").With("bucket", s.bucket).With("key", key)
	}
	return key, nil
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, "list objects").With("prefix", prefix)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *MinioStore) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "get object").With("key", key)
	}
	defer obj.Close()

	payload, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrap(err, "read object").With("key", key)
	}
	return payload, nil
}
