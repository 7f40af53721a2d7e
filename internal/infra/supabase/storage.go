package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// UploadPhoto stores the image in a public bucket and returns its public URL.
// Implements port.PhotoStorage.
func (c *Client) UploadPhoto(ctx context.Context, chatID int64, photo *domain.PhotoFile, bucket string) (string, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UploadPhoto")
	defer span.End()
	span.SetAttributes(attribute.String("storage.bucket", bucket), attribute.Int("storage.bytes", len(photo.Data)))

	name := objectName(bucket, chatID, photo.Extension, time.Now())
	contentType := photo.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, url.PathEscape(bucket), url.PathEscape(name))
	if _, err := c.send(ctx, c.cfg, http.MethodPost, endpoint, contentType, photo.Data, map[string]string{"x-upsert": "false"}); err != nil {
		return "", &domain.ErrExternalService{Service: "supabase/storage", Err: err}
	}
	return c.PublicURL(bucket, name), nil
}

// PublicURL is where a public bucket serves the object.
func (c *Client) PublicURL(bucket, name string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, url.PathEscape(bucket), url.PathEscape(name))
}

func objectName(bucket string, chatID int64, ext string, now time.Time) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s_%d_%d_%s.%s", bucket, chatID, now.UnixMilli(), uuid.NewString()[:8], ext)
}
