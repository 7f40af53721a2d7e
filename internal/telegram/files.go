package telegram

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"
)

var tracer = otel.Tracer("telegram")

// maxPhotoBytes caps a downloaded photo.
const maxPhotoBytes = 20 << 20

// Files downloads the photos operators send.
type Files struct {
	api        API
	token      string
	endpoint   string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewFiles creates a downloader. token is the bot token used to build file links.
func NewFiles(api API, token string, httpClient *http.Client, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Files {
	return &Files{api: api, token: token, endpoint: tgbotapi.FileEndpoint, httpClient: httpClient, cb: cb, cfg: cfg}
}

// DownloadFile resolves fileID and fetches its bytes.
func (f *Files) DownloadFile(ctx context.Context, fileID string) (*domain.PhotoFile, error) {
	ctx, span := tracer.Start(ctx, "Files.DownloadFile")
	defer span.End()

	photo, err := resilience.Call(ctx, f.cb, f.cfg, func() (*domain.PhotoFile, error) {
		file, err := f.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
		if err != nil {
			return nil, fmt.Errorf("getting file %s: %w", fileID, err)
		}
		return f.fetch(ctx, file)
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "telegram", Err: err}
	}
	return photo, nil
}

func (f *Files) fetch(ctx context.Context, file tgbotapi.File) (*domain.PhotoFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(f.endpoint, f.token, file.FilePath), nil)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("file download returned %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, err
	}

	ext := strings.TrimPrefix(path.Ext(file.FilePath), ".")
	if ext == "" {
		ext = "jpg"
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = mime.TypeByExtension("." + ext)
	}
	return &domain.PhotoFile{Data: data, ContentType: ct, Extension: ext}, nil
}
