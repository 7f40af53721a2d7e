package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/boddenberg/fenix-agent-go/internal/config"
	"github.com/boddenberg/fenix-agent-go/internal/infra/browser"
	"github.com/boddenberg/fenix-agent-go/internal/infra/observability"
	"github.com/boddenberg/fenix-agent-go/internal/infra/opencage"
	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"
	"github.com/boddenberg/fenix-agent-go/internal/location"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLocateCmd() *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "locate <text>",
		Short: "Resolve a map link, coordinates or address and print the location as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg := config.Load()
			if noBrowser {
				cfg.BrowserEnabled = false
			}
			logger := observability.NewLogger(cfg.LogLevel)
			defer logger.Sync()

			retry := resilience.Config{MaxRetries: cfg.MaxRetries, InitialBackoff: cfg.InitialBackoff}
			httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
			pipeline, closeFn := buildLocation(c.Context(), cfg, httpClient, retry, nil, logger)
			defer closeFn()

			res := pipeline.Locate(c.Context(), strings.Join(args, " "))
			if res == nil {
				return fmt.Errorf("no location found")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "skip the headless browser tier")
	return cmd
}

// buildLocation wires the tiers. A browser that fails to start only drops
// the last tier.
func buildLocation(ctx context.Context, cfg *config.Config, httpClient *http.Client, retry resilience.Config, recorder location.TierRecorder, logger *zap.Logger) (*location.Pipeline, func()) {
	geocoder := opencage.New(httpClient, opencage.Config{
		APIKey:            cfg.OpenCageAPIKey,
		Language:          "es",
		CountryCode:       cfg.HomeCountryCode,
		Timeout:           cfg.GeocodeTimeout,
		RequestsPerSecond: cfg.GeocodeRPS,
	}, resilience.NewCircuitBreaker("opencage"), retry, logger)

	tiers := []location.Expander{location.Direct{}, location.NewRedirectProbe(cfg.RedirectProbeTimeout)}
	closeFn := func() {}
	if cfg.BrowserEnabled {
		b, err := browser.Start(ctx, browser.Options{ExecPath: cfg.ChromePath, Timeout: cfg.BrowserTimeout}, logger)
		if err != nil {
			logger.Warn("headless browser unavailable, continuing without it", zap.Error(err))
		} else {
			tiers = append(tiers, location.NewBrowserTier(b))
			closeFn = b.Close
		}
	}

	opts := []location.Option{location.WithRegion(cfg.HomeRegion)}
	if recorder != nil {
		opts = append(opts, location.WithRecorder(recorder))
	}
	return location.New(geocoder, tiers, logger, opts...), closeFn
}
