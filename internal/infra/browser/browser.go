// Package browser keeps one headless Chrome alive for the whole process and
// opens a short-lived tab per navigation. It backs the last location tier:
// short links that only redirect through page scripts.
package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("browser")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("browser: closed")

// Options configures the shared browser.
type Options struct {
	// ExecPath overrides Chrome discovery.
	ExecPath string
	// Timeout bounds one navigation, tab included.
	Timeout time.Duration
	// SettleWindow is how long the URL must stay unchanged to count as final.
	SettleWindow time.Duration
}

// blockedTypes are not needed to follow redirects.
var blockedTypes = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeStylesheet,
	network.ResourceTypeFont,
	network.ResourceTypeMedia,
}

// Browser is a single long-lived Chrome instance.
type Browser struct {
	opts   Options
	logger *zap.Logger

	mu            sync.RWMutex
	closed        bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// Start launches Chrome. The caller must Close it at shutdown.
func Start(ctx context.Context, opts Options, logger *zap.Logger) (*Browser, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 25 * time.Second
	}
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = 1500 * time.Millisecond
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser outlives the startup context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}

	logger.Info("headless browser started")
	return &Browser{
		opts:          opts,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// FinalURL opens rawURL in a new tab and waits until the address stops
// changing, done reports true, or the timeout expires. The tab is closed on
// every path; the browser stays up.
func (b *Browser) FinalURL(ctx context.Context, rawURL string, done func(string) bool) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return "", ErrClosed
	}

	ctx, span := tracer.Start(ctx, "Browser.FinalURL")
	defer span.End()

	tabCtx, closeTab := chromedp.NewContext(b.browserCtx)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()

	deadline := time.Now().Add(b.opts.Timeout)
	runCtx, cancel := context.WithDeadline(tabCtx, deadline)
	defer cancel()

	chromedp.ListenTarget(runCtx, func(ev any) {
		if e, ok := ev.(*fetch.EventRequestPaused); ok {
			go func() {
				_ = chromedp.Run(runCtx, fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient))
			}()
		}
	})

	patterns := make([]*fetch.RequestPattern, 0, len(blockedTypes))
	for _, t := range blockedTypes {
		patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*", ResourceType: t})
	}

	navErr := chromedp.Run(runCtx,
		fetch.Enable().WithPatterns(patterns),
		chromedp.Navigate(rawURL),
	)
	settleCtx := runCtx
	if navErr != nil {
		// Script redirects often change the address before the load event,
		// so a slow page may still have reached the URL we want.
		b.logger.Debug("browser navigation did not complete", zap.String("url", rawURL), zap.Error(navErr))
		var cancelSettle context.CancelFunc
		settleCtx, cancelSettle = context.WithTimeout(tabCtx, 2*time.Second)
		defer cancelSettle()
	}
	return b.settle(settleCtx, done, navErr)
}

func (b *Browser) settle(ctx context.Context, done func(string) bool, navErr error) (string, error) {
	const poll = 250 * time.Millisecond
	var (
		last        string
		stableSince time.Time
	)
	for {
		var current string
		if err := chromedp.Run(ctx, chromedp.Location(&current)); err != nil {
			if last != "" {
				return last, nil
			}
			if navErr != nil {
				return "", navErr
			}
			return "", err
		}
		if done != nil && done(current) {
			return current, nil
		}
		if current != last {
			last, stableSince = current, time.Now()
		} else if navErr == nil && time.Since(stableSince) >= b.opts.SettleWindow {
			return current, nil
		}

		select {
		case <-ctx.Done():
			if last == "" && navErr != nil {
				return "", navErr
			}
			return last, nil
		case <-time.After(poll):
		}
	}
}

// Close shuts Chrome down. Navigations in flight finish first.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.browserCancel()
	b.allocCancel()
	b.logger.Info("headless browser stopped")
}
