// Package catalog resolves typed product names against the product catalog.
//
// A name resolves three ways: one catalog match is adopted as the canonical
// name, several matches are deferred to the operator as an ambiguous item,
// and no match keeps the typed name (uppercased) as an unrecognized product.
package catalog

import (
	"context"
	"strings"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/port"
	"github.com/boddenberg/fenix-agent-go/internal/textutil"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("catalog")

// DefaultMatchLimit is how many candidates a search asks for.
const DefaultMatchLimit = 3

// Status classifies a resolution.
type Status int

const (
	StatusUnknown Status = iota
	StatusUnique
	StatusAmbiguous
)

func (s Status) String() string {
	switch s {
	case StatusUnique:
		return "unique"
	case StatusAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Resolution is the outcome for one typed item.
// Item is set for unique and unknown, Ambiguous for ambiguous.
type Resolution struct {
	Status    Status
	Item      *domain.Item
	Ambiguous *domain.AmbiguousItem
}

// Resolver classifies items using the catalog search.
type Resolver struct {
	searcher    port.CatalogSearcher
	unknown     port.UnrecognizedProductLogger
	cache       port.Cache[[]domain.CandidateProduct]
	limit       int
	concurrency int
	logger      *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithCache memoizes search results by normalized name.
func WithCache(c port.Cache[[]domain.CandidateProduct]) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithConcurrency bounds the parallel searches of ResolveAll.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewResolver wires a resolver. unknown may be nil.
func NewResolver(searcher port.CatalogSearcher, unknown port.UnrecognizedProductLogger, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		searcher:    searcher,
		unknown:     unknown,
		limit:       DefaultMatchLimit,
		concurrency: 4,
		logger:      logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve classifies one item. Search failures degrade to "unknown".
func (r *Resolver) Resolve(ctx context.Context, item domain.ExtractedItem) Resolution {
	ctx, span := tracer.Start(ctx, "Resolver.Resolve")
	defer span.End()

	candidates := r.search(ctx, item.Name)
	switch len(candidates) {
	case 0:
		return Resolution{Status: StatusUnknown, Item: r.unrecognized(ctx, item)}
	case 1:
		return Resolution{Status: StatusUnique, Item: recognized(item, candidates[0])}
	default:
		return Resolution{
			Status:    StatusAmbiguous,
			Ambiguous: &domain.AmbiguousItem{Original: item, Options: candidates},
		}
	}
}

// ResolveAll resolves items concurrently. Results keep the input order so
// ambiguous items queue up in the order they were typed.
func (r *Resolver) ResolveAll(ctx context.Context, items []domain.ExtractedItem) []Resolution {
	out := make([]Resolution, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			out[i] = r.Resolve(gctx, it)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Clarify turns an ambiguous item into an order item once the operator picked
// candidateID. An empty candidateID keeps the name as typed, exactly like an
// unknown product. ok is false when candidateID is not one of the options.
// The typed price and sale type carry over to the chosen candidate.
func (r *Resolver) Clarify(ctx context.Context, amb domain.AmbiguousItem, candidateID string) (item *domain.Item, ok bool) {
	if candidateID == "" {
		return r.unrecognized(ctx, amb.Original), true
	}
	for _, c := range amb.Options {
		if c.ID == candidateID {
			return recognized(amb.Original, c), true
		}
	}
	return nil, false
}

func (r *Resolver) search(ctx context.Context, name string) []domain.CandidateProduct {
	term := textutil.NormalizeString(name)
	if term == "" {
		return nil
	}
	if r.cache != nil {
		if hit, ok := r.cache.Get(term); ok {
			return hit
		}
	}
	candidates, err := r.searcher.SearchProducts(ctx, term, r.limit)
	if err != nil {
		r.logger.Warn("catalog search failed, treating product as unknown",
			zap.String("term", term),
			zap.Error(err),
		)
		return nil
	}
	if r.cache != nil {
		r.cache.Set(term, candidates)
	}
	return candidates
}

func (r *Resolver) unrecognized(ctx context.Context, item domain.ExtractedItem) *domain.Item {
	if r.unknown != nil {
		if err := r.unknown.LogUnrecognized(ctx, item.Name); err != nil {
			r.logger.Warn("failed to log unrecognized product",
				zap.String("name", item.Name),
				zap.Error(err),
			)
		}
	}
	return newItem(item, strings.ToUpper(item.Name), false)
}

func recognized(item domain.ExtractedItem, c domain.CandidateProduct) *domain.Item {
	return newItem(item, c.Name, true)
}

func newItem(item domain.ExtractedItem, name string, isRecognized bool) *domain.Item {
	return &domain.Item{
		Name:         name,
		OriginalName: item.Name,
		Qty:          item.Qty,
		UnitPrice:    item.UnitPrice,
		SaleType:     item.SaleType,
		IsRecognized: isRecognized,
	}
}
