// Package location turns what operators paste into a chat (coordinates, map
// links, shortened links or plain addresses) into a delivery location.
//
// Links escalate through ordered tiers, cheapest first: coordinates already
// in the link, one HEAD redirect hop, then a headless browser. Each tier
// works on the URL the previous one reached and the first tier that yields
// coordinates wins. Reverse geocoding never fails the resolution.
package location

import (
	"context"
	"strconv"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("location")

// TierRecorder counts which tier produced a location.
type TierRecorder interface {
	RecordLocationTier(tier string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLocationTier(string) {}

// Pipeline resolves free text and coordinates into locations.
type Pipeline struct {
	tiers    []Expander
	geocoder port.Geocoder
	region   string
	recorder TierRecorder
	logger   *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRegion appends region (e.g. "Santa Cruz, Bolivia") to forward geocoding queries.
func WithRegion(region string) Option { return func(p *Pipeline) { p.region = region } }

// WithRecorder reports tier hits.
func WithRecorder(r TierRecorder) Option { return func(p *Pipeline) { p.recorder = r } }

// New builds a pipeline. tiers run in the given order.
func New(geocoder port.Geocoder, tiers []Expander, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		tiers:    tiers,
		geocoder: geocoder,
		recorder: nopRecorder{},
		logger:   logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ResolveText looks for coordinates typed in text, then for a map link.
// It returns nil when neither yields coordinates.
func (p *Pipeline) ResolveText(ctx context.Context, text string) *domain.LocationResult {
	ctx, span := tracer.Start(ctx, "Pipeline.ResolveText")
	defer span.End()

	if c, ok := CoordinatesInText(text); ok {
		p.recorder.RecordLocationTier("text")
		span.SetAttributes(attribute.String("location.tier", "text"))
		return p.ResolveCoordinates(ctx, c.Lat, c.Lng)
	}
	u := FindMapURL(text)
	if u == "" {
		return nil
	}
	return p.ResolveURL(ctx, u)
}

// ResolveURL escalates through the tiers until one reaches a URL carrying
// coordinates. A failing tier passes the URL it received to the next one.
func (p *Pipeline) ResolveURL(ctx context.Context, rawURL string) *domain.LocationResult {
	ctx, span := tracer.Start(ctx, "Pipeline.ResolveURL")
	defer span.End()

	current := rawURL
	for _, tier := range p.tiers {
		if ctx.Err() != nil {
			break
		}
		expanded, err := tier.Expand(ctx, current)
		if err != nil {
			p.logger.Debug("location tier failed",
				zap.String("tier", tier.Name()),
				zap.String("url", current),
				zap.Error(err),
			)
			continue
		}
		current = expanded
		if c, ok := CoordinatesInURL(current); ok {
			p.logger.Info("location resolved",
				zap.String("tier", tier.Name()),
				zap.Float64("lat", c.Lat),
				zap.Float64("lng", c.Lng),
			)
			p.recorder.RecordLocationTier(tier.Name())
			span.SetAttributes(attribute.String("location.tier", tier.Name()))
			return p.ResolveCoordinates(ctx, c.Lat, c.Lng)
		}
	}

	p.logger.Warn("all location tiers failed",
		zap.String("url", rawURL),
		zap.String("last_url", current),
	)
	p.recorder.RecordLocationTier("none")
	return nil
}

// Locate is ResolveText with a forward-geocoding fallback for plain
// addresses. Text that holds a map link is never geocoded as an address.
func (p *Pipeline) Locate(ctx context.Context, text string) *domain.LocationResult {
	if loc := p.ResolveText(ctx, text); loc != nil {
		return loc
	}
	if FindMapURL(text) != "" {
		return nil
	}
	loc := p.Geocode(ctx, text)
	if loc != nil {
		p.recorder.RecordLocationTier("geocode")
	}
	return loc
}

// Geocode forward-geocodes an address within the home region. It returns
// the top match or nil.
func (p *Pipeline) Geocode(ctx context.Context, address string) *domain.LocationResult {
	ctx, span := tracer.Start(ctx, "Pipeline.Geocode")
	defer span.End()

	query := address
	if p.region != "" {
		query = address + ", " + p.region
	}
	loc, err := p.geocoder.Forward(ctx, query)
	if err != nil {
		p.logger.Warn("forward geocoding failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	return loc
}

// ResolveCoordinates describes known coordinates. Provider failures fall
// back to a "Latitud: x, Longitud: y" address; the result is never nil.
func (p *Pipeline) ResolveCoordinates(ctx context.Context, lat, lng float64) *domain.LocationResult {
	res := &domain.LocationResult{Lat: lat, Lng: lng}

	geo, err := p.geocoder.Reverse(ctx, lat, lng)
	if err != nil {
		p.logger.Warn("reverse geocoding failed, using coordinates as address",
			zap.Float64("lat", lat),
			zap.Float64("lng", lng),
			zap.Error(err),
		)
	}
	if geo != nil {
		res.City = geo.City
		res.Country = geo.Country
		res.Address = geo.Address
	}
	if res.Address == "" {
		res.Address = FallbackAddress(lat, lng)
	}
	return res
}

// FallbackAddress renders coordinates as a human-readable address.
func FallbackAddress(lat, lng float64) string {
	return "Latitud: " + strconv.FormatFloat(lat, 'f', -1, 64) +
		", Longitud: " + strconv.FormatFloat(lng, 'f', -1, 64)
}
