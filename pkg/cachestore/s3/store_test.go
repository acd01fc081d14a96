package s3

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/urlimage/pkg/cachestore"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", ""},
		{"images/", "images/"},
		{"images", "images/"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			s := New(nil, Config{Bucket: "b", KeyPrefix: tt.prefix})
			h := cachestore.HashKey("GET https://example.com/a.png")

			got := s.objectKey("GET https://example.com/a.png")
			want := tt.want + h[:2] + "/" + h
			if got != want {
				t.Errorf("objectKey() = %q, want %q", got, want)
			}
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no such key", &types.NoSuchKey{}, true},
		{"wrapped not found", fmt.Errorf("get: %w", &types.NotFound{}), true},
		{"message", errors.New("api error NoSuchKey: The specified key does not exist."), true},
		{"status code", errors.New("https response error StatusCode: 404, RequestID: x"), true},
		{"access denied", errors.New("api error AccessDenied: Access Denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFoundError(tt.err); got != tt.want {
				t.Errorf("isNotFoundError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewFromConfig_RequiresBucket(t *testing.T) {
	_, err := NewFromConfig(t.Context(), Config{})
	if err == nil || !strings.Contains(err.Error(), "bucket") {
		t.Errorf("NewFromConfig() error = %v, want bucket error", err)
	}
}

func TestClosedStore(t *testing.T) {
	s := New(nil, Config{Bucket: "b"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := s.Get(t.Context(), "k"); !errors.Is(err, cachestore.ErrStoreClosed) {
		t.Errorf("Get after Close = %v, want ErrStoreClosed", err)
	}
	if err := s.Put(t.Context(), "k", nil); !errors.Is(err, cachestore.ErrStoreClosed) {
		t.Errorf("Put after Close = %v, want ErrStoreClosed", err)
	}
	if err := s.Evict(t.Context(), "k"); !errors.Is(err, cachestore.ErrStoreClosed) {
		t.Errorf("Evict after Close = %v, want ErrStoreClosed", err)
	}
	if err := s.HealthCheck(t.Context()); !errors.Is(err, cachestore.ErrStoreClosed) {
		t.Errorf("HealthCheck after Close = %v, want ErrStoreClosed", err)
	}
}
