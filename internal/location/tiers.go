package location

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Expander is one tier of URL expansion. It returns the URL it was able to
// reach from rawURL; the pipeline then looks for coordinates in it.
type Expander interface {
	Name() string
	Expand(ctx context.Context, rawURL string) (string, error)
}

// Direct is the free tier: the link as the user sent it.
type Direct struct{}

func (Direct) Name() string { return "url" }

func (Direct) Expand(_ context.Context, rawURL string) (string, error) { return rawURL, nil }

// RedirectProbe follows one redirect hop with a HEAD request.
type RedirectProbe struct {
	client  *http.Client
	timeout time.Duration
}

// NewRedirectProbe builds the probe. The client never follows redirects
// itself; the Location header of the first 3xx is the answer.
func NewRedirectProbe(timeout time.Duration) *RedirectProbe {
	return &RedirectProbe{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

func (p *RedirectProbe) Name() string { return "redirect" }

func (p *RedirectProbe) Expand(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return "", fmt.Errorf("no redirect: status %d", resp.StatusCode)
	}
	loc, err := resp.Location()
	if err != nil {
		return "", fmt.Errorf("redirect without location: %w", err)
	}
	return loc.String(), nil
}

// Navigator renders a page in a real browser and reports the URL it ended on.
// done lets the caller stop waiting as soon as the URL is good enough.
type Navigator interface {
	FinalURL(ctx context.Context, rawURL string, done func(string) bool) (string, error)
}

// BrowserTier is the last resort for links that only redirect through script.
type BrowserTier struct {
	nav Navigator
}

func NewBrowserTier(nav Navigator) *BrowserTier { return &BrowserTier{nav: nav} }

func (b *BrowserTier) Name() string { return "browser" }

func (b *BrowserTier) Expand(ctx context.Context, rawURL string) (string, error) {
	return b.nav.FinalURL(ctx, rawURL, func(u string) bool {
		_, ok := CoordinatesInURL(u)
		return ok
	})
}

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
