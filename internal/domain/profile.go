package domain

import "strings"

// OperatorProfile is the seller/promoter chatting with the bot.
type OperatorProfile struct {
	ID               string `json:"id"`
	Role             string `json:"role"`
	FullName         string `json:"full_name"`
	TelegramUsername string `json:"telegram_username"`
	Active           bool   `json:"active"`
}

// Operator roles as stored in the people table.
const (
	RoleAsesor   = "ASESOR"
	RolePromotor = "PROMOTOR"
)

// IsPromotor reports whether the operator delivers orders rather than selling.
func (p *OperatorProfile) IsPromotor() bool {
	return p != nil && strings.EqualFold(strings.TrimSpace(p.Role), RolePromotor)
}

// SalesRole is the role tag persisted with orders: "delivery" for promoters, "seller" otherwise.
func (p *OperatorProfile) SalesRole() string {
	if p.IsPromotor() {
		return "delivery"
	}
	return "seller"
}
