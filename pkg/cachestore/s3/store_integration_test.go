//go:build integration

package s3

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/cachestore/storetest"
)

type localstackHelper struct {
	container testcontainers.Container
	endpoint  string
	client    *s3.Client
}

// newLocalstackHelper starts Localstack, or uses LOCALSTACK_ENDPOINT when set.
func newLocalstackHelper(t *testing.T) *localstackHelper {
	t.Helper()
	ctx := context.Background()

	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		h := &localstackHelper{endpoint: endpoint}
		h.createClient(t)
		return h
	}

	req := testcontainers.ContainerRequest{
		Image:        "localstack/localstack:3.0",
		ExposedPorts: []string{"4566/tcp"},
		Env: map[string]string{
			"SERVICES":              "s3",
			"DEFAULT_REGION":        "us-east-1",
			"EAGER_SERVICE_LOADING": "1",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4566/tcp"),
			wait.ForHTTP("/_localstack/health").
				WithPort("4566/tcp").
				WithStartupTimeout(60*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start localstack container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4566")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get container port: %v", err)
	}

	h := &localstackHelper{
		container: container,
		endpoint:  fmt.Sprintf("http://%s:%s", host, port.Port()),
	}
	h.createClient(t)
	return h
}

func (h *localstackHelper) createClient(t *testing.T) {
	t.Helper()

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		t.Fatalf("failed to load AWS config: %v", err)
	}

	h.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = &h.endpoint
		o.UsePathStyle = true
	})
}

func (h *localstackHelper) createBucket(t *testing.T, name string) {
	t.Helper()
	_, err := h.client.CreateBucket(context.Background(), &s3.CreateBucketInput{
		Bucket: aws.String(name),
	})
	if err != nil {
		t.Fatalf("failed to create test bucket: %v", err)
	}
}

func (h *localstackHelper) cleanup() {
	if h.container != nil {
		_ = h.container.Terminate(context.Background())
	}
}

func TestS3Store_Integration(t *testing.T) {
	helper := newLocalstackHelper(t)
	defer helper.cleanup()

	var n atomic.Int64
	storetest.RunConformanceSuite(t, func(t *testing.T) cachestore.Store {
		bucket := fmt.Sprintf("urlimage-test-%d-%d", time.Now().UnixNano(), n.Add(1))
		helper.createBucket(t, bucket)

		s := New(helper.client, Config{Bucket: bucket, KeyPrefix: "images/"})
		t.Cleanup(func() { _ = s.Close() })
		return s
	})

	t.Run("NewFromConfig", func(t *testing.T) {
		bucket := fmt.Sprintf("urlimage-cfg-%d", time.Now().UnixNano())
		helper.createBucket(t, bucket)

		s, err := NewFromConfig(context.Background(), Config{
			Bucket:          bucket,
			Region:          "us-east-1",
			Endpoint:        helper.endpoint,
			ForcePathStyle:  true,
			AccessKeyID:     "test",
			SecretAccessKey: "test",
		})
		if err != nil {
			t.Fatalf("NewFromConfig failed: %v", err)
		}
		defer func() { _ = s.Close() }()

		if err := s.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck failed: %v", err)
		}
	})
}
