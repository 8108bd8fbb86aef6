// Package minio stores run artifacts in an S3-compatible service through the
// MinIO client.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/3leaps/hepgrid/pkg/provider"
)

// Config configures a MinIO provider. Endpoint is host:port without scheme.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("access key and secret key are required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// Provider implements provider.Provider over a minio.Client.
type Provider struct {
	client *minio.Client
	bucket string
	prefix string
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Lister   = (*Provider)(nil)
)

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderMinio, Bucket: cfg.Bucket, Err: err}
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Provider{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (p *Provider) objectKey(key string) string {
	return p.prefix + strings.TrimPrefix(key, "/")
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	info, err := p.client.StatObject(ctx, p.bucket, p.objectKey(key), minio.StatObjectOptions{})
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         info.Size,
			ETag:         info.ETag,
			LastModified: info.LastModified,
		},
		ContentType: info.ContentType,
	}, nil
}

// GetObject stats before returning so a missing key fails here and not on
// the first Read.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, p.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return obj, info.Size, nil
}

func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_, err := p.client.PutObject(ctx, p.bucket, p.objectKey(key), body, contentLength,
		minio.PutObjectOptions{ContentType: "application/gzip"})
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	err := p.client.RemoveObject(ctx, p.bucket, p.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil {
		wrapped := p.wrapError("DeleteObject", key, err)
		if provider.IsNotFound(wrapped) {
			return nil
		}
		return wrapped
	}
	return nil
}

func (p *Provider) List(ctx context.Context, prefix string) ([]provider.ObjectSummary, error) {
	objects := []provider.ObjectSummary{}
	for info := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:    p.objectKey(prefix),
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, p.wrapError("List", prefix, info.Err)
		}
		objects = append(objects, provider.ObjectSummary{
			Key:          strings.TrimPrefix(info.Key, p.prefix),
			Size:         info.Size,
			ETag:         info.ETag,
			LastModified: info.LastModified,
		})
	}
	return objects, nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderMinio, Bucket: p.bucket, Key: key, Err: err}
	if mapped := sentinelForCode(minio.ToErrorResponse(err).Code); mapped != nil {
		wrapped.Err = mapped
	}
	return wrapped
}

func sentinelForCode(code string) error {
	switch code {
	case "NoSuchKey", "NotFound":
		return provider.ErrNotFound
	case "NoSuchBucket":
		return provider.ErrBucketNotFound
	case "AccessDenied":
		return provider.ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return provider.ErrInvalidCredentials
	case "SlowDown", "SlowDownRead", "SlowDownWrite":
		return provider.ErrThrottled
	case "ServiceUnavailable", "InternalError", "XMinioServerNotInitialized":
		return provider.ErrProviderUnavailable
	}
	return nil
}
