// Package storage provides remote object storage for processed uploads.
// It defines the Provider interface (port) and implementations for S3 and
// MinIO, constructed through New by provider name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Static errors for provider configuration and operations.
var (
	// ErrUnknownProvider is returned when no provider is registered under a name.
	ErrUnknownProvider = errors.New("unknown storage provider")
	// ErrBucketRequired is returned when a provider is configured without a bucket.
	ErrBucketRequired = errors.New("bucket is required")
	// ErrCredentialsRequired is returned when the access key ID or the
	// secret access key is missing.
	ErrCredentialsRequired = errors.New("access key ID and secret access key are required")
	// ErrRegionRequired is returned when an S3 provider has no region.
	ErrRegionRequired = errors.New("region is required")
	// ErrEndpointRequired is returned when a MinIO provider has no endpoint.
	ErrEndpointRequired = errors.New("endpoint is required")
	// ErrBucketNotFound is returned by CheckConnection when the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket does not exist")
)

// Provider names.
const (
	ProviderS3    = "s3"
	ProviderMinio = "minio"
)

// Config holds the connection settings for one remote destination.
type Config struct {
	Provider        string
	Bucket          string
	Region          string
	Endpoint        string // Optional for S3: custom S3-compatible endpoint
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool          // MinIO only, when Endpoint has no scheme
	PresignTTL      time.Duration // When set, locations carry presigned GET URLs
}

// Object describes the object being uploaded.
type Object struct {
	Key         string
	ContentType string
	// Size is the body length in bytes, or -1 when unknown.
	Size int64
}

// Location describes an uploaded object.
type Location struct {
	URL      string `json:"url"`
	Key      string `json:"key"`
	Bucket   string `json:"bucket"`
	Provider string `json:"provider"`
	Size     int64  `json:"size"`
	ETag     string `json:"etag,omitempty"`
}

// Provider is a remote object store.
type Provider interface {
	// Name returns the provider name, e.g. "s3".
	Name() string

	// Upload stores body under obj.Key and returns where it landed.
	// Implementations may rely on body being an io.Seeker when it is one.
	Upload(ctx context.Context, obj Object, body io.Reader) (Location, error)

	// CheckConnection verifies the destination is reachable and authorized.
	// It is meant to run once at startup, not per upload.
	CheckConnection(ctx context.Context) error

	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error
}

type constructor func(Config) (Provider, error)

var constructors = map[string]constructor{
	ProviderS3: func(cfg Config) (Provider, error) {
		return NewS3Provider(cfg)
	},
	ProviderMinio: func(cfg Config) (Provider, error) {
		return NewMinioProvider(cfg)
	},
}

// Names returns the registered provider names.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the provider registered under cfg.Provider.
func New(cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	build, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return build(cfg)
}

// Validate checks that cfg is internally consistent for its provider.
func Validate(cfg Config) error {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if _, ok := constructors[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if cfg.Bucket == "" {
		return ErrBucketRequired
	}

	switch name {
	case ProviderS3:
		if cfg.Region == "" {
			return ErrRegionRequired
		}
	case ProviderMinio:
		if cfg.Endpoint == "" {
			return ErrEndpointRequired
		}
	}

	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return ErrCredentialsRequired
	}
	return nil
}
