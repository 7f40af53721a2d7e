package supabase

import (
	"context"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

type candidateRow struct {
	ID         domain.FlexString `json:"id"`
	Name       string            `json:"name"`
	Similarity float64           `json:"similarity"`
}

// SearchProducts runs the fn_search_products fuzzy-match rpc.
// Implements port.CatalogSearcher.
func (c *Client) SearchProducts(ctx context.Context, term string, limit int) ([]domain.CandidateProduct, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SearchProducts")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.term", term), attribute.Int("catalog.limit", limit))

	body, err := c.doPost(ctx, c.cfg, "rpc/fn_search_products", map[string]any{
		"p_search_term": term,
		"p_match_limit": limit,
	}, "")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/catalog", Err: err}
	}

	rows, err := decodeRows[candidateRow](body, "fn_search_products")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/catalog", Err: err}
	}
	out := make([]domain.CandidateProduct, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.CandidateProduct{ID: r.ID.String(), Name: r.Name, Similarity: r.Similarity})
	}
	span.SetAttributes(attribute.Int("catalog.matches", len(out)))
	return out, nil
}

// LogUnrecognized upserts the name into unrecognized_products, bumping last_seen.
// Implements port.UnrecognizedProductLogger.
func (c *Client) LogUnrecognized(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "Supabase.LogUnrecognized")
	defer span.End()

	_, err := c.doPost(ctx, c.cfg, "unrecognized_products?on_conflict=product_name", map[string]any{
		"product_name": name,
		"last_seen":    time.Now().UTC().Format(time.RFC3339),
	}, "resolution=merge-duplicates,return=minimal")
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/unrecognized_products", Err: err}
	}
	return nil
}
