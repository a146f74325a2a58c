package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/types"
)

// MinIOConfig configures the MinIO archive.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // host:port, without scheme
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
}

// DefaultMinIOConfig returns the configuration of a local development MinIO.
func DefaultMinIOConfig() MinIOConfig {
	return MinIOConfig{
		Endpoint: "localhost:9000",
		Region:   "us-east-1",
		Bucket:   "peerpair-allocations",
	}
}

// Validate checks the configuration.
func (c MinIOConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return errors.New("archive endpoint is required")
	case strings.Contains(c.Endpoint, "://"):
		return fmt.Errorf("archive endpoint must not include scheme: %q", c.Endpoint)
	case strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "":
		return errors.New("archive credentials are required")
	case strings.TrimSpace(c.Bucket) == "":
		return errors.New("archive bucket is required")
	}

	return nil
}

// MinIO stores snapshots as JSON objects in an S3-compatible bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	logger types.Logger
}

var _ types.Archive = (*MinIO)(nil)

// NewMinIO connects to the object store and creates the bucket if missing.
//
// Parameters:
//   - ctx: Context for the bucket check
//   - cfg: Connection settings
//   - logger: Logger (nop when nil)
//
// Returns:
//   - *MinIO: Ready archive
//   - error: Invalid configuration or unreachable store
func NewMinIO(ctx context.Context, cfg MinIOConfig, logger types.Logger) (*MinIO, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("archive bucket created", "bucket", cfg.Bucket)
	}

	return &MinIO{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// PutSnapshot implements types.Archive.
func (m *MinIO) PutSnapshot(ctx context.Context, snap types.AllocationSnapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := ObjectKey(snap)
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}
	m.logger.Debug("snapshot archived", "bucket", m.bucket, "key", key, "bytes", len(data))

	return key, nil
}

// GetSnapshot downloads the snapshot stored under key.
func (m *MinIO) GetSnapshot(ctx context.Context, key string) (types.AllocationSnapshot, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return types.AllocationSnapshot{}, fmt.Errorf("failed to fetch snapshot %s: %w", key, err)
	}
	defer obj.Close()

	var snap types.AllocationSnapshot
	if err := json.NewDecoder(obj).Decode(&snap); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return types.AllocationSnapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, key)
		}

		return types.AllocationSnapshot{}, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}

	return snap, nil
}

// List returns the keys starting with prefix.
func (m *MinIO) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
