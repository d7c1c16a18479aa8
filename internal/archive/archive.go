// Package archive stores a copy of every fetched source payload in an
// S3-compatible bucket, one object per generation.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/brownbaglunch/webhook/pkg/config"
	"github.com/brownbaglunch/webhook/pkg/resilience"
)

const payloadContentType = "application/javascript"

// ObjectStore is the subset of the minio client the archive uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewMinioClient builds a minio client with bounded connection timeouts.
func NewMinioClient(cfg config.ArchiveConfig) (*minio.Client, error) {
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return client, nil
}

// Store implements rebuild.Archiver.
type Store struct {
	client  ObjectStore
	bucket  string
	region  string
	breaker *resilience.Breaker
	logger  *slog.Logger

	mu          sync.Mutex
	bucketReady bool
}

// NewStore returns a Store writing to cfg.Bucket. The bucket is created on
// first use if it does not exist. After three consecutive failures uploads
// are skipped for ten minutes.
func NewStore(client ObjectStore, cfg config.ArchiveConfig) *Store {
	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		breaker: resilience.NewBreaker("archive", resilience.BreakerConfig{}),
		logger:  slog.Default().With("component", "archive", "bucket", cfg.Bucket),
	}
}

// ObjectName returns the key under which the payload of generation is kept.
func ObjectName(generation string) string {
	return generation + ".js"
}

// Archive uploads payload as <generation>.js.
func (s *Store) Archive(ctx context.Context, generation string, payload []byte) error {
	return s.breaker.Do(func() error {
		return s.upload(ctx, generation, payload)
	})
}

func (s *Store) upload(ctx context.Context, generation string, payload []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	name := ObjectName(generation)
	info, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType:  payloadContentType,
		UserMetadata: map[string]string{"generation": generation},
	})
	if err != nil {
		return fmt.Errorf("uploading %s to %s: %w", name, s.bucket, err)
	}
	s.logger.Info("payload archived",
		"object", name,
		"size", info.Size,
	)
	return nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
		}
		s.logger.Info("bucket created")
	}
	s.bucketReady = true
	return nil
}
