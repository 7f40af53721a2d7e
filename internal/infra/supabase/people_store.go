package supabase

import (
	"context"
	"net/url"

	"github.com/boddenberg/fenix-agent-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// GetOperatorProfile returns the active operator registered with the given
// Telegram username. Implements port.ProfileFetcher.
func (c *Client) GetOperatorProfile(ctx context.Context, telegramUsername string) (*domain.OperatorProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetOperatorProfile")
	defer span.End()
	span.SetAttributes(attribute.String("telegram.username", telegramUsername))

	if telegramUsername == "" {
		return nil, &domain.ErrNotFound{Resource: "operator", ID: "(no username)"}
	}

	path := "people?select=id,role,full_name,telegram_username,active" +
		"&telegram_username=eq." + url.QueryEscape(telegramUsername) +
		"&active=eq.true&limit=1"
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/people", Err: err}
	}

	rows, err := decodeRows[operatorRow](body, "people")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/people", Err: err}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "operator", ID: telegramUsername}
	}
	r := rows[0]
	return &domain.OperatorProfile{
		ID:               r.ID.String(),
		Role:             r.Role,
		FullName:         r.FullName,
		TelegramUsername: r.TelegramUsername,
		Active:           r.Active,
	}, nil
}

type operatorRow struct {
	ID               domain.FlexString `json:"id"`
	Role             string            `json:"role"`
	FullName         string            `json:"full_name"`
	TelegramUsername string            `json:"telegram_username"`
	Active           bool              `json:"active"`
}
