// Package command defines the button commands the bot attaches to its prompts.
//
// Commands travel through the chat transport as short prefix-coded strings
// (Telegram callback data). Inside the bot they are always a typed Command;
// Encode and Parse are used only at the transport boundary.
package command

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
)

// Kind identifies the command variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindReturnItem
	KindConfirmReturn
	KindCancelReturn
	KindSetSaleType
	KindClarify
	KindSetPayment
	KindSetOrderType
	KindPay
	KindConfirmOrder
	KindEditOrder
)

func (k Kind) String() string {
	switch k {
	case KindReturnItem:
		return "return_item"
	case KindConfirmReturn:
		return "confirm_return"
	case KindCancelReturn:
		return "cancel_return"
	case KindSetSaleType:
		return "set_sale_type"
	case KindClarify:
		return "clarify"
	case KindSetPayment:
		return "set_payment"
	case KindSetOrderType:
		return "set_order_type"
	case KindPay:
		return "pay"
	case KindConfirmOrder:
		return "confirm_order"
	case KindEditOrder:
		return "edit_order"
	default:
		return "unknown"
	}
}

// Command is a button press with its typed payload. Only the fields of the
// active Kind are meaningful.
type Command struct {
	Kind Kind

	ItemID      string               // KindReturnItem
	SaleType    domain.SaleType      // KindSetSaleType
	ItemName    string               // KindSetSaleType
	CandidateID string               // KindClarify, empty means "leave as typed"
	Method      domain.PaymentMethod // KindSetPayment
	Encomienda  bool                 // KindSetOrderType
	Split       domain.PaymentSplit  // KindPay
}

func ReturnItem(itemID string) Command { return Command{Kind: KindReturnItem, ItemID: itemID} }
func ConfirmReturn() Command           { return Command{Kind: KindConfirmReturn} }
func CancelReturn() Command            { return Command{Kind: KindCancelReturn} }
func Clarify(candidateID string) Command {
	return Command{Kind: KindClarify, CandidateID: candidateID}
}
func ClarifyNone() Command { return Command{Kind: KindClarify} }
func SetSaleType(t domain.SaleType, itemName string) Command {
	return Command{Kind: KindSetSaleType, SaleType: t, ItemName: itemName}
}
func SetPayment(m domain.PaymentMethod) Command { return Command{Kind: KindSetPayment, Method: m} }
func SetOrderType(encomienda bool) Command      { return Command{Kind: KindSetOrderType, Encomienda: encomienda} }
func Pay(split domain.PaymentSplit) Command     { return Command{Kind: KindPay, Split: split} }
func ConfirmOrder() Command                     { return Command{Kind: KindConfirmOrder} }
func EditOrder() Command                        { return Command{Kind: KindEditOrder} }

const (
	prefixReturnItem = "RETURN_ITEM_"
	prefixSaleType   = "SET_SALE_TYPE_"
	prefixClarify    = "CLARIFY_"
	prefixPayment    = "SET_PAYMENT_"
	prefixOrderType  = "SET_ORDER_TYPE_"
	prefixPay        = "PAY_"

	wireConfirmReturn = "CONFIRM_RETURN"
	wireCancelReturn  = "CANCEL_RETURN"
	wireConfirmOrder  = "CONFIRM_ORDER"
	wireEditOrder     = "EDIT_ORDER"
	wireClarifyNone   = "NONE"
	wireWholesale     = "WHOLESALE"
	wireRetail        = "RETAIL"
	wireLocal         = "LOCAL"
	wireEncomienda    = "ENCOMIENDA"
)

// MaxDataLen is the largest callback payload Telegram accepts, in bytes.
const MaxDataLen = 64

var methodWire = map[domain.PaymentMethod]string{
	domain.PaymentCash:     "EFECTIVO",
	domain.PaymentQR:       "QR",
	domain.PaymentTransfer: "TRANSFERENCIA",
}

// Encode serializes the command into its wire string.
func Encode(c Command) (string, error) {
	switch c.Kind {
	case KindReturnItem:
		if len(prefixReturnItem)+len(c.ItemID) > MaxDataLen {
			return "", fmt.Errorf("command: return item id %q too long", c.ItemID)
		}
		return prefixReturnItem + c.ItemID, nil
	case KindConfirmReturn:
		return wireConfirmReturn, nil
	case KindCancelReturn:
		return wireCancelReturn, nil
	case KindSetSaleType:
		t := wireRetail
		if c.SaleType == domain.SaleTypeWholesale {
			t = wireWholesale
		}
		head := prefixSaleType + t + "_"
		return head + fitName(c.ItemName, MaxDataLen-len(head)), nil
	case KindClarify:
		if c.CandidateID == "" {
			return prefixClarify + wireClarifyNone, nil
		}
		if len(prefixClarify)+len(c.CandidateID) > MaxDataLen {
			return "", fmt.Errorf("command: candidate id %q too long", c.CandidateID)
		}
		return prefixClarify + c.CandidateID, nil
	case KindSetPayment:
		w, ok := methodWire[c.Method]
		if !ok {
			return "", fmt.Errorf("command: unknown payment method %q", c.Method)
		}
		return prefixPayment + w, nil
	case KindSetOrderType:
		if c.Encomienda {
			return prefixOrderType + wireEncomienda, nil
		}
		return prefixOrderType + wireLocal, nil
	case KindPay:
		switch c.Split {
		case domain.SplitFullNow, domain.SplitPartialNow, domain.SplitFullOnDelivery:
			return prefixPay + string(c.Split), nil
		}
		return "", fmt.Errorf("command: unknown payment split %q", c.Split)
	case KindConfirmOrder:
		return wireConfirmOrder, nil
	case KindEditOrder:
		return wireEditOrder, nil
	}
	return "", fmt.Errorf("command: cannot encode kind %s", c.Kind)
}

// fitName escapes name, dropping trailing runes until the result fits in
// budget bytes. The receiver matches a cut name by prefix.
func fitName(name string, budget int) string {
	for name != "" {
		escaped := url.PathEscape(name)
		if len(escaped) <= budget {
			return escaped
		}
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return ""
}

// Parse decodes a wire string. Unrecognized input yields an error.
func Parse(data string) (Command, error) {
	switch data {
	case wireConfirmReturn:
		return ConfirmReturn(), nil
	case wireCancelReturn:
		return CancelReturn(), nil
	case wireConfirmOrder:
		return ConfirmOrder(), nil
	case wireEditOrder:
		return EditOrder(), nil
	}

	switch {
	case strings.HasPrefix(data, prefixReturnItem):
		id := strings.TrimPrefix(data, prefixReturnItem)
		if id == "" {
			break
		}
		return ReturnItem(id), nil

	case strings.HasPrefix(data, prefixSaleType):
		rest := strings.TrimPrefix(data, prefixSaleType)
		kind, encoded, ok := strings.Cut(rest, "_")
		if !ok {
			break
		}
		name, err := url.PathUnescape(encoded)
		if err != nil {
			return Command{}, fmt.Errorf("command: bad item name in %q: %w", data, err)
		}
		switch kind {
		case wireWholesale:
			return SetSaleType(domain.SaleTypeWholesale, name), nil
		case wireRetail:
			return SetSaleType(domain.SaleTypeRetail, name), nil
		}

	case strings.HasPrefix(data, prefixClarify):
		choice := strings.TrimPrefix(data, prefixClarify)
		if choice == wireClarifyNone {
			return ClarifyNone(), nil
		}
		if choice == "" {
			break
		}
		return Clarify(choice), nil

	case strings.HasPrefix(data, prefixPayment):
		w := strings.TrimPrefix(data, prefixPayment)
		for m, mw := range methodWire {
			if mw == w {
				return SetPayment(m), nil
			}
		}

	case strings.HasPrefix(data, prefixOrderType):
		switch strings.TrimPrefix(data, prefixOrderType) {
		case wireLocal:
			return SetOrderType(false), nil
		case wireEncomienda:
			return SetOrderType(true), nil
		}

	case strings.HasPrefix(data, prefixPay):
		split := domain.PaymentSplit(strings.TrimPrefix(data, prefixPay))
		switch split {
		case domain.SplitFullNow, domain.SplitPartialNow, domain.SplitFullOnDelivery:
			return Pay(split), nil
		}
	}
	return Command{}, fmt.Errorf("command: unrecognized %q", data)
}
