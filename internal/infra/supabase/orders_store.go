package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/payment"
	"github.com/boddenberg/fenix-agent-go/internal/textutil"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// num renders a decimal as a bare JSON number.
func num(d decimal.Decimal) json.Number { return json.Number(d.String()) }

// InsertOrder writes the order header, its lines and its payments.
// If lines or payments fail, the header is deleted again so no half order
// stays behind. Implements port.OrderStore.
func (c *Client) InsertOrder(ctx context.Context, draft *domain.OrderDraft, operator *domain.OperatorProfile, chatID int64) (*domain.OrderReceipt, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InsertOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat.id", chatID), attribute.Int("order.items", len(draft.Items)))

	body, err := c.doPost(ctx, c.cfg.Once(), "orders?select=id,order_no", orderRow(draft, operator, chatID), "return=representation")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/orders", Err: err}
	}
	receipt, err := firstRow[domain.OrderReceipt](body, "orders")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/orders", Err: err}
	}
	span.SetAttributes(attribute.String("order.no", receipt.OrderNumber.String()))

	if err := c.insertOrderChildren(ctx, receipt.ID.String(), draft); err != nil {
		c.rollbackOrder(ctx, receipt.ID.String())
		return nil, &domain.ErrExternalService{Service: "supabase/orders", Err: err}
	}
	return receipt, nil
}

func (c *Client) insertOrderChildren(ctx context.Context, orderID string, draft *domain.OrderDraft) error {
	items := make([]map[string]any, 0, len(draft.Items))
	for _, it := range draft.Items {
		qty := it.Qty
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		price := decimal.Zero
		if it.UnitPrice != nil {
			price = *it.UnitPrice
		}
		items = append(items, map[string]any{
			"order_id":          orderID,
			"product_name":      it.Name,
			"quantity":          num(qty),
			"unit_price":        num(price),
			"subtotal":          num(qty.Mul(price)),
			"sale_type":         it.SaleType,
			"base_product_name": it.Name,
			"is_recognized":     it.IsRecognized,
			"original_name":     it.OriginalName,
			"image_url":         it.ImageURL,
		})
	}
	if len(items) > 0 {
		if _, err := c.doPost(ctx, c.cfg.Once(), "order_items", items, "return=minimal"); err != nil {
			return fmt.Errorf("insert order_items: %w", err)
		}
	}

	if len(draft.Payments) == 0 {
		return nil
	}
	payments := make([]map[string]any, 0, len(draft.Payments))
	for _, p := range draft.Payments {
		payments = append(payments, map[string]any{
			"order_id":          orderID,
			"amount":            num(p.Amount),
			"method":            p.Method,
			"status":            p.Status,
			"payment_proof_url": p.ProofURL,
		})
	}
	if _, err := c.doPost(ctx, c.cfg.Once(), "order_payments", payments, "return=minimal"); err != nil {
		return fmt.Errorf("insert order_payments: %w", err)
	}
	return nil
}

func (c *Client) rollbackOrder(ctx context.Context, orderID string) {
	if err := c.doDelete(ctx, "orders?id=eq."+url.QueryEscape(orderID)); err != nil {
		c.logger.Error("supabase: could not remove partial order",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

func orderRow(draft *domain.OrderDraft, operator *domain.OperatorProfile, chatID int64) map[string]any {
	seller := fmt.Sprintf("tg_user_%d", chatID)
	var salesUserID any
	if operator != nil {
		if operator.FullName != "" {
			seller = operator.FullName
		}
		if operator.ID != "" {
			salesUserID = operator.ID
		}
	}

	phone := textutil.NormalizePhone(draft.CustomerPhone)
	customerID := phone
	var customerPhone any
	if phone != "" {
		customerPhone = phone
	} else {
		customerID = fmt.Sprintf("anon-%d", chatID)
	}

	window := textutil.ParseTimeRange(draft.TimePreference)
	row := map[string]any{
		"seller":             seller,
		"sales_user_id":      salesUserID,
		"sales_role":         operator.SalesRole(),
		"customer_id":        customerID,
		"customer_phone":     customerPhone,
		"customer_name":      nullable(draft.CustomerName),
		"amount":             num(payment.Total(draft.Items)),
		"status":             "pending",
		"delivery_time_from": nullable(window.From),
		"delivery_time_to":   nullable(window.To),
		"notes":              nullable(strings.Join(draft.Notes, " | ")),
		"is_encomienda":      draft.IsEncomienda,
		"destino":            draft.Destination,
		"sale_type":          commonSaleType(draft.Items),
	}
	if draft.Location != nil && (draft.IsEncomienda == nil || !*draft.IsEncomienda) {
		row["delivery_address"] = draft.Location.Address
		row["delivery_geo_lat"] = draft.Location.Lat
		row["delivery_geo_lng"] = draft.Location.Lng
	}
	return row
}

// commonSaleType is the order-level sale type: set only when every line agrees.
func commonSaleType(items []domain.Item) *domain.SaleType {
	var common *domain.SaleType
	for _, it := range items {
		if it.SaleType == nil {
			return nil
		}
		if common != nil && *common != *it.SaleType {
			return nil
		}
		common = it.SaleType
	}
	return common
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// FindOrderByNumber loads an order with its lines by its human order number.
// Implements port.OrderLookup.
func (c *Client) FindOrderByNumber(ctx context.Context, orderNo string) (*domain.OrderSnapshot, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindOrderByNumber")
	defer span.End()
	span.SetAttributes(attribute.String("order.no", orderNo))

	path := "orders?select=id,order_no,customer_name,seller,order_items(id,product_name,quantity)" +
		"&order_no=eq." + url.QueryEscape(orderNo) + "&limit=1"
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/orders", Err: err}
	}
	rows, err := decodeRows[domain.OrderSnapshot](body, "orders")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/orders", Err: err}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "order", ID: orderNo}
	}
	return &rows[0], nil
}
