package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMinioConfig(endpoint string) Config {
	return Config{
		Provider:        ProviderMinio,
		Bucket:          "raw-images",
		Region:          "us-east-1", // Avoids the bucket location lookup
		Endpoint:        endpoint,
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		endpoint   string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{"localhost:9000", false, "localhost:9000", false},
		{"localhost:9000", true, "localhost:9000", true},
		{"http://127.0.0.1:9000", true, "127.0.0.1:9000", false},
		{"https://minio.example.com", false, "minio.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			host, secure, err := splitEndpoint(tt.endpoint, tt.useSSL)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantSecure, secure)
		})
	}
}

func TestMinioProvider_Upload_MockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}
		if !strings.HasPrefix(r.URL.Path, "/raw-images/avatars/a.png") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("ETag", `"etag-1"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p, err := NewMinioProvider(testMinioConfig(server.URL))
	require.NoError(t, err)
	assert.Equal(t, ProviderMinio, p.Name())

	data := []byte("png bytes")
	loc, err := p.Upload(context.Background(), Object{
		Key:         "avatars/a.png",
		ContentType: "image/png",
		Size:        int64(len(data)),
	}, bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/raw-images/avatars/a.png", loc.URL)
	assert.Equal(t, "avatars/a.png", loc.Key)
	assert.Equal(t, ProviderMinio, loc.Provider)
	assert.Equal(t, int64(len(data)), loc.Size)
}

func TestMinioProvider_PresignedURL(t *testing.T) {
	cfg := testMinioConfig("http://127.0.0.1:9000")
	cfg.PresignTTL = time.Hour

	p, err := NewMinioProvider(cfg)
	require.NoError(t, err)

	u, err := p.objectURL(context.Background(), "avatars/a.png")
	require.NoError(t, err)
	assert.Contains(t, u, "/raw-images/avatars/a.png")
	assert.Contains(t, u, "X-Amz-Signature")
}

func TestMinioProvider_CheckConnection(t *testing.T) {
	t.Run("bucket exists", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		p, err := NewMinioProvider(testMinioConfig(server.URL))
		require.NoError(t, err)
		assert.NoError(t, p.CheckConnection(context.Background()))
	})

	t.Run("bucket missing", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		p, err := NewMinioProvider(testMinioConfig(server.URL))
		require.NoError(t, err)
		assert.ErrorIs(t, p.CheckConnection(context.Background()), ErrBucketNotFound)
	})
}
