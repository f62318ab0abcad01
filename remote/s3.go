package remote

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"bristolhouse/ml"
)

// Config locates the artifact in an S3-compatible bucket. When Key is empty
// it is derived from the md5 in PointerPath.
type Config struct {
	Endpoint    string `yaml:"endpoint"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	UseSSL      bool   `yaml:"use_ssl"`
	Key         string `yaml:"key"`
	PointerPath string `yaml:"pointer_path"`
	// MaxBytes caps the download size; zero means 256 MiB.
	MaxBytes int64 `yaml:"max_bytes"`
}

func (c Config) Enabled() bool { return c.Endpoint != "" && c.Bucket != "" }

// ObjectStore is the subset of the S3 API the fetcher needs.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type minioStore struct {
	client *minio.Client
}

func (s *minioStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return obj, nil
}

// S3Fetcher downloads the artifact and verifies its md5 against the pointer.
type S3Fetcher struct {
	cfg    Config
	store  ObjectStore
	logger *zap.Logger
}

func NewS3Fetcher(cfg Config, logger *zap.Logger) (*S3Fetcher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("remote is not configured")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return NewS3FetcherWithStore(cfg, &minioStore{client: client}, logger), nil
}

func NewS3FetcherWithStore(cfg Config, store ObjectStore, logger *zap.Logger) *S3Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 256 << 20
	}
	return &S3Fetcher{cfg: cfg, store: store, logger: logger}
}

// resolve returns the object key and the expected md5, which is empty when
// an explicit key is configured without a pointer.
func (f *S3Fetcher) resolve() (key, sum string, err error) {
	if f.cfg.PointerPath != "" {
		pointer, perr := ReadPointer(f.cfg.PointerPath)
		if perr != nil && f.cfg.Key == "" {
			return "", "", fmt.Errorf("read pointer %s: %w", f.cfg.PointerPath, perr)
		}
		if perr == nil {
			sum = pointer.MD5()
		}
	}
	switch {
	case f.cfg.Key != "":
		return f.cfg.Key, sum, nil
	case sum != "":
		return ObjectKey(f.cfg.Prefix, sum), sum, nil
	default:
		return "", "", errors.New("no object key or dvc pointer configured")
	}
}

// Fetch writes the artifact to dest atomically.
func (f *S3Fetcher) Fetch(ctx context.Context, dest string) error {
	key, want, err := f.resolve()
	if err != nil {
		return err
	}
	f.logger.Info("fetching model artifact", zap.String("bucket", f.cfg.Bucket), zap.String("key", key))

	body, err := f.store.GetObject(ctx, f.cfg.Bucket, key)
	if err != nil {
		return err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, f.cfg.MaxBytes+1))
	if err != nil {
		return fmt.Errorf("read object %s: %w", key, err)
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return fmt.Errorf("object %s exceeds %d bytes", key, f.cfg.MaxBytes)
	}
	if want != "" {
		sum := md5.Sum(data)
		if got := hex.EncodeToString(sum[:]); got != want {
			return fmt.Errorf("object %s md5 mismatch: got %s, want %s", key, got, want)
		}
	}

	if err := ml.WriteFileAtomic(dest, data); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	f.logger.Info("model artifact fetched", zap.String("dest", dest), zap.Int("bytes", len(data)))
	return nil
}
