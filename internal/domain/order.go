package domain

import "github.com/shopspring/decimal"

// SaleType is the wholesale/retail tag of an item.
type SaleType string

const (
	SaleTypeWholesale SaleType = "mayor"
	SaleTypeRetail    SaleType = "unidad"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "Efectivo"
	PaymentQR       PaymentMethod = "QR"
	PaymentTransfer PaymentMethod = "Transferencia"
)

// PaymentStatus tells whether money was already received.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completado"
	PaymentPending   PaymentStatus = "pendiente"
)

// Item is one resolved order line.
// UnitPrice, SaleType and ImageURL start unset and are filled by dedicated
// dialog steps; the item is complete only when all three are set.
type Item struct {
	Name         string           `json:"name"`
	OriginalName string           `json:"original_name"`
	Qty          decimal.Decimal  `json:"qty"`
	UnitPrice    *decimal.Decimal `json:"unit_price"`
	SaleType     *SaleType        `json:"sale_type"`
	IsRecognized bool             `json:"is_recognized"`
	ImageURL     *string          `json:"image_url"`
}

// Complete reports whether every per-item requirement is satisfied.
func (i Item) Complete() bool {
	return i.UnitPrice != nil && i.SaleType != nil && i.ImageURL != nil
}

// Matches reports whether name refers to this item, by working or typed name.
func (i Item) Matches(name string) bool {
	return i.Name == name || i.OriginalName == name
}

// CandidateProduct is a catalog entry returned by fuzzy search.
type CandidateProduct struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity,omitempty"`
}

// ExtractedItem is an item as understood from free text, before catalog resolution.
type ExtractedItem struct {
	Name      string
	Qty       decimal.Decimal
	UnitPrice *decimal.Decimal
	SaleType  *SaleType
}

// AmbiguousItem is a typed name that matched several catalog entries.
type AmbiguousItem struct {
	Original ExtractedItem
	Options  []CandidateProduct
}

// Payment is one recorded payment of the order.
type Payment struct {
	Amount   decimal.Decimal `json:"amount"`
	Method   PaymentMethod   `json:"method"`
	Status   PaymentStatus   `json:"status"`
	ProofURL *string         `json:"payment_proof_url"`
}

// OrderDraft is the order being assembled across turns.
//
// IsEncomienda == true implies Location == nil and IsEncomienda == false implies
// Destination == nil. Use SetEncomienda / SetLocalDelivery to keep that true.
type OrderDraft struct {
	Items          []Item
	Payments       []Payment
	CustomerName   string
	CustomerPhone  string
	Notes          []string
	TimePreference string
	IsEncomienda   *bool
	Destination    *string
	Location       *LocationResult
}

// SetEncomienda switches the draft to shipping and clears the local location.
func (d *OrderDraft) SetEncomienda() {
	v := true
	d.IsEncomienda = &v
	d.Location = nil
}

// SetDestination records the encomienda destination.
func (d *OrderDraft) SetDestination(dest string) {
	d.SetEncomienda()
	d.Destination = &dest
}

// SetLocalDelivery switches the draft to local delivery and clears the destination.
// A nil loc keeps the mode but leaves the location to be asked.
func (d *OrderDraft) SetLocalDelivery(loc *LocationResult) {
	v := false
	d.IsEncomienda = &v
	d.Destination = nil
	if loc != nil {
		d.Location = loc
	}
}

// AddNotes appends notes that are not already present.
func (d *OrderDraft) AddNotes(notes ...string) {
	seen := make(map[string]struct{}, len(d.Notes))
	for _, n := range d.Notes {
		seen[n] = struct{}{}
	}
	for _, n := range notes {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		d.Notes = append(d.Notes, n)
	}
}

// FindItem returns the item whose working or typed name is name.
func (d *OrderDraft) FindItem(name string) *Item {
	for i := range d.Items {
		if d.Items[i].Matches(name) {
			return &d.Items[i]
		}
	}
	return nil
}

// OrderReceipt is what persistence returns after an order insert.
type OrderReceipt struct {
	ID          FlexString `json:"id"`
	OrderNumber FlexString `json:"order_no"`
}

// Extraction is the candidate draft produced by the extraction service.
type Extraction struct {
	Items          []ExtractedItem
	CustomerName   *string
	CustomerPhone  *string
	Notes          []string
	TimePreference *string
}

// PhotoFile is a downloaded image ready to be stored.
type PhotoFile struct {
	Data        []byte
	ContentType string
	Extension   string
}

// PaymentSplit is how the total is collected.
type PaymentSplit string

const (
	SplitFullNow        PaymentSplit = "FULL_NOW"
	SplitPartialNow     PaymentSplit = "PARTIAL_NOW"
	SplitFullOnDelivery PaymentSplit = "FULL_ON_DELIVERY"
)
