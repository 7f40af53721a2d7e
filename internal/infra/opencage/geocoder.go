// Package opencage is the OpenCage geocoding adapter.
package opencage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("opencage")

// DefaultBaseURL is the public geocoding endpoint.
const DefaultBaseURL = "https://api.opencagedata.com/geocode/v1/json"

// Config configures the geocoder.
type Config struct {
	BaseURL     string
	APIKey      string
	Language    string
	CountryCode string
	Timeout     time.Duration
	// RequestsPerSecond paces calls to stay within the plan's rate limit.
	RequestsPerSecond float64
}

// Geocoder implements port.Geocoder against OpenCage.
type Geocoder struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker
	retry      resilience.Config
	logger     *zap.Logger
}

// New creates a Geocoder.
func New(httpClient *http.Client, cfg Config, cb *gobreaker.CircuitBreaker, retry resilience.Config, logger *zap.Logger) *Geocoder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = "es"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Geocoder{
		httpClient: httpClient,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		cb:         cb,
		retry:      retry,
		logger:     logger,
	}
}

type response struct {
	Results []result `json:"results"`
	Status  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
}

type result struct {
	Formatted string `json:"formatted"`
	Geometry  struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"geometry"`
	Components map[string]any `json:"components"`
}

// city picks the most specific settlement name the provider knows.
func (r result) city() string {
	for _, k := range []string{"city", "town", "village", "county", "state"} {
		if s, ok := r.Components[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (r result) country() string {
	s, _ := r.Components["country"].(string)
	return s
}

// Forward geocodes an address within the configured country and returns the
// top result, or nil when there is none.
func (g *Geocoder) Forward(ctx context.Context, address string) (*domain.LocationResult, error) {
	ctx, span := tracer.Start(ctx, "Geocoder.Forward")
	defer span.End()

	params := url.Values{}
	params.Set("q", address)
	params.Set("limit", "1")
	params.Set("no_annotations", "1")
	if g.cfg.CountryCode != "" {
		params.Set("countrycode", g.cfg.CountryCode)
	}

	resp, err := g.query(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	best := resp.Results[0]
	return &domain.LocationResult{
		Lat:     best.Geometry.Lat,
		Lng:     best.Geometry.Lng,
		Address: best.Formatted,
		City:    best.city(),
		Country: best.country(),
	}, nil
}

// Reverse describes the place at lat,lng. An empty result set yields an
// empty address so the caller can fall back to the raw coordinates.
func (g *Geocoder) Reverse(ctx context.Context, lat, lng float64) (*domain.GeoAddress, error) {
	ctx, span := tracer.Start(ctx, "Geocoder.Reverse")
	defer span.End()
	span.SetAttributes(attribute.Float64("geo.lat", lat), attribute.Float64("geo.lng", lng))

	params := url.Values{}
	params.Set("q", strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("no_annotations", "1")

	resp, err := g.query(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return &domain.GeoAddress{}, nil
	}
	best := resp.Results[0]
	return &domain.GeoAddress{
		Address: best.Formatted,
		City:    best.city(),
		Country: best.country(),
	}, nil
}

func (g *Geocoder) query(ctx context.Context, params url.Values) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &domain.ErrTimeout{Operation: "geocoding rate limit wait"}
	}

	params.Set("key", g.cfg.APIKey)
	params.Set("language", g.cfg.Language)
	endpoint := g.cfg.BaseURL + "?" + params.Encode()

	out, err := resilience.Call(ctx, g.cb, g.retry, func() (*response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, resilience.Permanent(err)
		}
		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("opencage returned status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			// bad key, quota exhausted or invalid query
			return nil, resilience.Permanent(fmt.Errorf("opencage returned status %d", resp.StatusCode))
		}

		var body response
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, resilience.Permanent(fmt.Errorf("decode opencage response: %w", err))
		}
		return &body, nil
	})
	if err != nil {
		g.logger.Warn("opencage request failed", zap.Error(err))
		return nil, &domain.ErrExternalService{Service: "opencage", Err: err}
	}
	return out, nil
}
