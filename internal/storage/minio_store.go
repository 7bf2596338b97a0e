// Package storage uploads finished frames to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cjeanneret/gphotoccd/internal/debug"
)

var log = debug.Module("minio")

// Config locates the bucket.
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	Prefix        string // object key prefix, e.g. "frames"
}

// ConfigFromEnv reads MINIO_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Endpoint:      getenv("MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey:     os.Getenv("MINIO_SECRET_KEY"),
		Bucket:        getenv("MINIO_BUCKET", "gphotoccd-frames"),
		UseSSL:        getenv("MINIO_USE_SSL", "false") == "true",
		PublicBaseURL: os.Getenv("MINIO_PUBLIC_BASE_URL"),
		Prefix:        os.Getenv("MINIO_PREFIX"),
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return cfg, fmt.Errorf("MINIO_ACCESS_KEY / MINIO_SECRET_KEY not set")
	}
	if cfg.PublicBaseURL != "" {
		if _, err := url.Parse(cfg.PublicBaseURL); err != nil {
			return cfg, fmt.Errorf("invalid MINIO_PUBLIC_BASE_URL: %w", err)
		}
	}
	return cfg, nil
}

// MinioStore uploads frames to a MinIO bucket.
type MinioStore struct {
	client  *minio.Client
	cfg     Config
	baseURL *url.URL
}

// NewMinioStore connects and creates the bucket if it does not exist.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, errExists := cli.BucketExists(ctx, cfg.Bucket)
		if errExists != nil || !exists {
			return nil, fmt.Errorf("create or check bucket %s: %w", cfg.Bucket, err)
		}
	}

	s := &MinioStore{client: cli, cfg: cfg}
	if cfg.PublicBaseURL != "" {
		if s.baseURL, err = url.Parse(cfg.PublicBaseURL); err != nil {
			return nil, fmt.Errorf("invalid public base URL: %w", err)
		}
	}
	log.Info("connected to %s, bucket=%s", cfg.Endpoint, cfg.Bucket)
	return s, nil
}

// SaveFrame uploads data and returns the object URL.
func (s *MinioStore) SaveFrame(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/fits"
	}
	key = objectKey(s.cfg.Prefix, key)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	log.Verbose("uploaded %s (%d bytes)", key, len(data))
	return objectURL(s.baseURL, s.cfg.UseSSL, s.client.EndpointURL().Host, s.cfg.Bucket, key), nil
}

func objectKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(strings.Trim(prefix, "/"), key)
}

// objectURL prefers the public base URL, falling back to the raw S3 endpoint.
func objectURL(base *url.URL, useSSL bool, host, bucket, key string) string {
	if base != nil {
		u := *base
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + key
		return u.String()
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, host, bucket, key)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
