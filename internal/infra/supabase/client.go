// Package supabase is the persistence adapter: PostgREST for tables and rpc,
// Storage for order and payment photos.
package supabase

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase REST and Storage APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client authenticated with the service role key.
func NewClient(httpClient *http.Client, baseURL, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// Ping checks that PostgREST answers. Used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doGet(ctx, "people?select=id&limit=1")
	return err
}

// StatusError is a non-2xx answer from Supabase.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("supabase %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// retryable reports whether another attempt could get a different answer.
func (e *StatusError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
