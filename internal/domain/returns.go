package domain

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// OrderSnapshot is the slice of a persisted order the return flow needs.
type OrderSnapshot struct {
	ID           FlexString          `json:"id"`
	OrderNumber  FlexString          `json:"order_no"`
	CustomerName string              `json:"customer_name"`
	Seller       string              `json:"seller"`
	Items        []OrderSnapshotItem `json:"order_items"`
}

// FindItem returns the order line with the given id.
func (o *OrderSnapshot) FindItem(id string) *OrderSnapshotItem {
	for i := range o.Items {
		if o.Items[i].ID.String() == id {
			return &o.Items[i]
		}
	}
	return nil
}

// OrderSnapshotItem is one line of a persisted order.
type OrderSnapshotItem struct {
	ID          FlexString      `json:"id"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// ReturnedItem is one product line being returned.
type ReturnedItem struct {
	ProductName string
	Qty         int
}

// ReturnDetails is the return draft.
type ReturnDetails struct {
	Items  []ReturnedItem
	Reason string
	Amount *decimal.Decimal
}

// ReturnReceipt is what persistence returns after a return insert.
type ReturnReceipt struct {
	ID FlexString `json:"id"`
}

// FlexString decodes a JSON string or number into its textual form.
// PostgREST returns bigint identifiers as numbers and uuids as strings.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(b)
	return nil
}

func (f FlexString) String() string { return string(f) }
