// Package port defines the interfaces (ports) for external collaborators.
// Following hexagonal architecture, these ports decouple the dialog machines
// from the concrete Supabase, OpenAI, OpenCage and Telegram adapters.
package port

import (
	"context"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
)

// Extractor turns free text into a candidate order draft.
// A nil extraction with nil error means nothing usable was found.
type Extractor interface {
	Extract(ctx context.Context, text string) (*domain.Extraction, error)
}

// CatalogSearcher runs the fuzzy product search.
type CatalogSearcher interface {
	SearchProducts(ctx context.Context, term string, limit int) ([]domain.CandidateProduct, error)
}

// UnrecognizedProductLogger records product names the catalog did not know,
// for later catalog triage.
type UnrecognizedProductLogger interface {
	LogUnrecognized(ctx context.Context, name string) error
}

// Geocoder resolves addresses and coordinates.
type Geocoder interface {
	// Forward returns the top match for the address, or nil when there is none.
	Forward(ctx context.Context, address string) (*domain.LocationResult, error)
	// Reverse describes the place at the coordinates.
	Reverse(ctx context.Context, lat, lng float64) (*domain.GeoAddress, error)
}

// ProfileFetcher loads the operator chatting with the bot.
type ProfileFetcher interface {
	GetOperatorProfile(ctx context.Context, telegramUsername string) (*domain.OperatorProfile, error)
}

// OrderStore persists confirmed orders with their items and payments.
type OrderStore interface {
	InsertOrder(ctx context.Context, draft *domain.OrderDraft, operator *domain.OperatorProfile, chatID int64) (*domain.OrderReceipt, error)
}

// OrderLookup finds a persisted order by its public number.
type OrderLookup interface {
	FindOrderByNumber(ctx context.Context, orderNo string) (*domain.OrderSnapshot, error)
}

// ReturnStore persists product returns.
type ReturnStore interface {
	InsertReturn(ctx context.Context, original *domain.OrderSnapshot, details *domain.ReturnDetails, operator *domain.OperatorProfile) (*domain.ReturnReceipt, error)
}

// PhotoStorage uploads images and returns their public URL.
type PhotoStorage interface {
	UploadPhoto(ctx context.Context, chatID int64, photo *domain.PhotoFile, bucket string) (string, error)
}

// FileDownloader fetches a file the user sent through the chat transport.
type FileDownloader interface {
	DownloadFile(ctx context.Context, fileID string) (*domain.PhotoFile, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
