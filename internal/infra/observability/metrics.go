package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	eventDuration  *prometheus.HistogramVec
	eventsTotal    *prometheus.CounterVec
	externalErrors *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	tokensUsed     *prometheus.CounterVec
	locationTiers  *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		eventDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fenix_event_duration_seconds",
				Help:    "Time spent handling one inbound chat event, by kind.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenix_events_total",
				Help: "Inbound chat events by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenix_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenix_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenix_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenix_llm_tokens_total",
				Help: "Total LLM tokens consumed by order extraction.",
			},
			[]string{"type"},
		),
		locationTiers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenix_location_tier_total",
				Help: "Location resolutions by the tier that produced coordinates.",
			},
			[]string{"tier"},
		),
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fenix_submissions_total",
				Help: "Order and return submissions by status.",
			},
			[]string{"kind", "status"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fenix_sessions_active",
				Help: "Conversations currently held in memory.",
			},
		),
	}
}

// RecordEvent records one handled chat event.
func (m *Metrics) RecordEvent(kind, outcome string, d time.Duration) {
	m.eventDuration.WithLabelValues(kind).Observe(d.Seconds())
	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// RecordLocationTier counts which tier resolved a location ("none" on exhaustion).
func (m *Metrics) RecordLocationTier(tier string) {
	m.locationTiers.WithLabelValues(tier).Inc()
}

// RecordSubmission counts an order or return submission.
func (m *Metrics) RecordSubmission(kind string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.submissions.WithLabelValues(kind, status).Inc()
}

// SetActiveSessions reports the session store size.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// BotSnapshot is the JSON body of GET /v1/metrics/bot.
type BotSnapshot struct {
	EventsTotal       int64            `json:"events_total"`
	ErrorRate         float64          `json:"error_rate"`
	OrdersSubmitted   int64            `json:"orders_submitted"`
	OrdersFailed      int64            `json:"orders_failed"`
	ReturnsSubmitted  int64            `json:"returns_submitted"`
	LocationTiers     map[string]int64 `json:"location_tiers"`
	PromptTokens      int64            `json:"prompt_tokens"`
	CompletionTokens  int64            `json:"completion_tokens"`
	EstimatedCostUsd  float64          `json:"estimated_cost_usd"`
	CatalogCacheRatio float64          `json:"catalog_cache_hit_rate"`
	ActiveSessions    int              `json:"active_sessions"`
	Period            string           `json:"period"`
}

// LocationTierNames lists the tier labels in escalation order.
var LocationTierNames = []string{"text", "url", "redirect", "browser", "geocode", "none"}

// GetBotSnapshot returns a snapshot of bot metrics suitable for the
// GET /v1/metrics/bot endpoint.
func (m *Metrics) GetBotSnapshot() *BotSnapshot {
	// Prometheus counters expose cumulative values.
	var events, failures float64
	for _, kind := range []string{"start", "text", "photo", "location", "command", "cancel"} {
		for _, outcome := range []string{"ok", "error", "panic", "dropped"} {
			v := getCounterValue(m.eventsTotal, kind, outcome)
			events += v
			if outcome != "ok" {
				failures += v
			}
		}
	}

	promptTokens := getCounterValue(m.tokensUsed, "prompt")
	completionTokens := getCounterValue(m.tokensUsed, "completion")
	hits := getCounterValue(m.cacheHits, "catalog")
	misses := getCounterValue(m.cacheMisses, "catalog")

	tiers := make(map[string]int64, len(LocationTierNames))
	for _, t := range LocationTierNames {
		tiers[t] = int64(getCounterValue(m.locationTiers, t))
	}

	snap := &BotSnapshot{
		EventsTotal:      int64(events),
		OrdersSubmitted:  int64(getCounterValue(m.submissions, "order", "success")),
		OrdersFailed:     int64(getCounterValue(m.submissions, "order", "error")),
		ReturnsSubmitted: int64(getCounterValue(m.submissions, "return", "success")),
		LocationTiers:    tiers,
		ActiveSessions:   int(getGaugeValue(m.activeSessions)),
		PromptTokens:     int64(promptTokens),
		CompletionTokens: int64(completionTokens),
		// ~$2.50/1M prompt tokens, ~$10/1M completion tokens (gpt-4o)
		EstimatedCostUsd: promptTokens/1e6*2.5 + completionTokens/1e6*10,
		Period:           "all_time",
	}
	if events > 0 {
		snap.ErrorRate = failures / events
	}
	if hits+misses > 0 {
		snap.CatalogCacheRatio = hits / (hits + misses)
	}
	return snap
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	if m.Gauge != nil && m.Gauge.Value != nil {
		return *m.Gauge.Value
	}
	return 0
}
