package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Compile-time check that MinioProvider implements Provider.
var _ Provider = (*MinioProvider)(nil)

// MinioProvider stores objects in a MinIO bucket.
type MinioProvider struct {
	client *minio.Client
	bucket string
	cfg    Config
}

// NewMinioProvider creates a new MinioProvider. The endpoint may be given as
// host:port or as a URL; a URL's scheme overrides UseSSL.
func NewMinioProvider(cfg Config) (*MinioProvider, error) {
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioProvider{
		client: client,
		bucket: cfg.Bucket,
		cfg:    cfg,
	}, nil
}

// splitEndpoint turns "https://host:9000" into ("host:9000", true).
func splitEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return endpoint, useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse minio endpoint: %w", err)
	}
	return u.Host, u.Scheme == "https", nil
}

// Name returns "minio".
func (p *MinioProvider) Name() string {
	return ProviderMinio
}

// Upload puts body into the bucket under obj.Key.
func (p *MinioProvider) Upload(ctx context.Context, obj Object, body io.Reader) (Location, error) {
	info, err := p.client.PutObject(ctx, p.bucket, obj.Key, body, obj.Size, minio.PutObjectOptions{
		ContentType: obj.ContentType,
	})
	if err != nil {
		return Location{}, fmt.Errorf("upload to minio: %w", err)
	}

	objectURL, err := p.objectURL(ctx, obj.Key)
	if err != nil {
		return Location{}, err
	}

	return Location{
		URL:      objectURL,
		Key:      obj.Key,
		Bucket:   p.bucket,
		Provider: ProviderMinio,
		Size:     info.Size,
		ETag:     info.ETag,
	}, nil
}

func (p *MinioProvider) objectURL(ctx context.Context, key string) (string, error) {
	if p.cfg.PresignTTL > 0 {
		u, err := p.client.PresignedGetObject(ctx, p.bucket, key, p.cfg.PresignTTL, nil)
		if err != nil {
			return "", fmt.Errorf("presign minio object: %w", err)
		}
		return u.String(), nil
	}
	return p.client.EndpointURL().JoinPath(p.bucket, key).String(), nil
}

// CheckConnection verifies that the bucket exists and is accessible.
func (p *MinioProvider) CheckConnection(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check minio bucket %s: %w", p.bucket, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, p.bucket)
	}
	return nil
}

// Delete removes the object stored under key.
func (p *MinioProvider) Delete(ctx context.Context, key string) error {
	if err := p.client.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete minio object %s: %w", key, err)
	}
	return nil
}
