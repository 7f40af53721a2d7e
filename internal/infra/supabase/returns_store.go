package supabase

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InsertReturn records a product return against its original order.
// Implements port.ReturnStore.
func (c *Client) InsertReturn(ctx context.Context, original *domain.OrderSnapshot, details *domain.ReturnDetails, operator *domain.OperatorProfile) (*domain.ReturnReceipt, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InsertReturn")
	defer span.End()
	span.SetAttributes(attribute.String("order.no", original.OrderNumber.String()))

	var processedBy any
	if operator != nil && operator.ID != "" {
		processedBy = operator.ID
	}
	var amount any
	if details.Amount != nil {
		amount = num(*details.Amount)
	}

	body, err := c.doPost(ctx, c.cfg.Once(), "product_returns?select=id", map[string]any{
		"original_order_id":      original.ID.String(),
		"original_order_no":      original.OrderNumber.String(),
		"original_seller_name":   original.Seller,
		"original_customer_name": original.CustomerName,
		"return_date":            time.Now().UTC().Format(time.RFC3339),
		"return_amount":          amount,
		"reason":                 details.Reason,
		"processed_by_user_id":   processedBy,
	}, "return=representation")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/returns", Err: err}
	}
	receipt, err := firstRow[domain.ReturnReceipt](body, "product_returns")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/returns", Err: err}
	}

	if len(details.Items) == 0 {
		return receipt, nil
	}
	lines := make([]map[string]any, 0, len(details.Items))
	for _, it := range details.Items {
		lines = append(lines, map[string]any{
			"return_id":    receipt.ID.String(),
			"product_name": it.ProductName,
			"quantity":     it.Qty,
		})
	}
	if _, err := c.doPost(ctx, c.cfg.Once(), "return_items", lines, "return=minimal"); err != nil {
		if derr := c.doDelete(ctx, "product_returns?id=eq."+url.QueryEscape(receipt.ID.String())); derr != nil {
			c.logger.Error("supabase: could not remove partial return",
				zap.String("return_id", receipt.ID.String()),
				zap.Error(derr),
			)
		}
		return nil, &domain.ErrExternalService{Service: "supabase/returns", Err: fmt.Errorf("insert return_items: %w", err)}
	}
	return receipt, nil
}
