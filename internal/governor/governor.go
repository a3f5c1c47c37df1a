package governor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// granularities are checked in order; the first exhausted window decides
// the retry delay.
var granularities = []models.WindowGranularity{
	models.WindowSecond,
	models.WindowMinute,
	models.WindowHour,
	models.WindowDay,
}

// windowCounter tracks one accounting window for a domain
type windowCounter struct {
	start time.Time
	count int
}

// domainState is all live pacing state for one target domain
type domainState struct {
	windows           map[models.WindowGranularity]*windowCounter
	inFlight          int
	lastRequest       time.Time
	consecutiveErrors int
	backoffUntil      time.Time
}

// Governor enforces per-domain request budgets, concurrency ceilings and
// error backoff for every outbound network operation. One instance is
// shared by all workers; there is no global state.
type Governor struct {
	config  *common.GovernorConfig
	windows interfaces.WindowStorage
	logger  arbor.ILogger

	mu      sync.Mutex
	domains map[string]*domainState

	baseDelay        time.Duration
	errorBackoffBase time.Duration
	errorBackoffMax  time.Duration

	// Injectable for deterministic tests
	now    func() time.Time
	jitter func() float64
}

// New creates a governor from configuration. windowStorage may be nil;
// when set, window snapshots are persisted for operator visibility.
func New(config *common.GovernorConfig, windowStorage interfaces.WindowStorage, logger arbor.ILogger) *Governor {
	return &Governor{
		config:           config,
		windows:          windowStorage,
		logger:           logger,
		domains:          make(map[string]*domainState),
		baseDelay:        common.ParseDurationOr(config.BaseDelay, 2*time.Second),
		errorBackoffBase: common.ParseDurationOr(config.ErrorBackoffBase, 10*time.Second),
		errorBackoffMax:  common.ParseDurationOr(config.ErrorBackoffMax, 15*time.Minute),
		now:              time.Now,
		jitter:           rand.Float64,
	}
}

// Authorize decides whether one request to domain may proceed now. A denial
// always carries a RetryAfter hint. The caller must pair every allowed
// request with exactly one RecordOutcome call.
func (g *Governor) Authorize(domain, requestType string) interfaces.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	state := g.stateFor(domain)

	if state.backoffUntil.After(now) {
		return interfaces.Decision{
			Allowed:    false,
			RetryAfter: state.backoffUntil.Sub(now),
		}
	}

	if g.config.MaxConcurrent > 0 && state.inFlight >= g.config.MaxConcurrent {
		return interfaces.Decision{
			Allowed:    false,
			RetryAfter: g.baseDelay,
		}
	}

	for _, granularity := range granularities {
		limit := g.limitFor(granularity)
		if limit <= 0 {
			continue
		}
		counter := state.counterFor(granularity, now)
		if counter.count >= limit {
			retryAfter := counter.start.Add(granularity.Span()).Sub(now)
			g.logger.Debug().
				Str("domain", domain).
				Str("request_type", requestType).
				Str("window", string(granularity)).
				Int("count", counter.count).
				Msg("Request denied by window budget")
			return interfaces.Decision{
				Allowed:    false,
				RetryAfter: retryAfter,
			}
		}
	}

	// Minimum inter-request spacing, jittered +/-20% so the cadence does
	// not look mechanical.
	if !state.lastRequest.IsZero() {
		spacing := g.jitteredDelay()
		if elapsed := now.Sub(state.lastRequest); elapsed < spacing {
			return interfaces.Decision{
				Allowed:    false,
				RetryAfter: spacing - elapsed,
			}
		}
	}

	for _, granularity := range granularities {
		state.counterFor(granularity, now).count++
	}
	state.inFlight++
	state.lastRequest = now

	decision := interfaces.Decision{Allowed: true}
	if g.inDiscouragedBand(now) {
		decision.Recommendation = fmt.Sprintf(
			"current time falls in the discouraged band (%02d:00-%02d:00)",
			g.config.DiscouragedStart, g.config.DiscouragedEnd)
	}

	g.snapshotWindows(domain, state, now)

	return decision
}

// RecordOutcome releases the in-flight slot taken by Authorize and drives
// the consecutive-error backoff.
func (g *Governor) RecordOutcome(domain string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.stateFor(domain)
	if state.inFlight > 0 {
		state.inFlight--
	}

	if success {
		state.consecutiveErrors = 0
		state.backoffUntil = time.Time{}
		return
	}

	state.consecutiveErrors++
	backoff := g.errorBackoffBase
	for i := 1; i < state.consecutiveErrors; i++ {
		backoff *= 2
		if backoff >= g.errorBackoffMax {
			backoff = g.errorBackoffMax
			break
		}
	}
	state.backoffUntil = g.now().Add(backoff)

	g.logger.Warn().
		Str("domain", domain).
		Int("consecutive_errors", state.consecutiveErrors).
		Str("backoff", backoff.String()).
		Msg("Error backoff engaged for domain")
}

func (g *Governor) stateFor(domain string) *domainState {
	state, ok := g.domains[domain]
	if !ok {
		state = &domainState{
			windows: make(map[models.WindowGranularity]*windowCounter),
		}
		g.domains[domain] = state
	}
	return state
}

// counterFor returns the live counter for a granularity, rolling the
// window forward when its span has elapsed.
func (s *domainState) counterFor(granularity models.WindowGranularity, now time.Time) *windowCounter {
	counter, ok := s.windows[granularity]
	if !ok {
		counter = &windowCounter{start: now.Truncate(granularity.Span())}
		s.windows[granularity] = counter
	}
	if now.Sub(counter.start) >= granularity.Span() {
		counter.start = now.Truncate(granularity.Span())
		counter.count = 0
	}
	return counter
}

func (g *Governor) limitFor(granularity models.WindowGranularity) int {
	switch granularity {
	case models.WindowSecond:
		return g.config.PerSecond
	case models.WindowMinute:
		return g.config.PerMinute
	case models.WindowHour:
		return g.config.PerHour
	case models.WindowDay:
		return g.config.PerDay
	default:
		return 0
	}
}

// jitteredDelay returns the base delay scaled by a random factor in [0.8, 1.2]
func (g *Governor) jitteredDelay() time.Duration {
	factor := 0.8 + 0.4*g.jitter()
	return time.Duration(float64(g.baseDelay) * factor)
}

// inDiscouragedBand reports whether now falls inside the advisory
// off-limits band. Purely advisory: requests are still allowed.
func (g *Governor) inDiscouragedBand(now time.Time) bool {
	if g.config.DiscouragedStart == g.config.DiscouragedEnd {
		return false
	}
	weekday := int(now.Weekday())
	matched := false
	for _, day := range g.config.DiscouragedDays {
		if day == weekday {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	hour := now.Hour()
	return hour >= g.config.DiscouragedStart && hour < g.config.DiscouragedEnd
}

// snapshotWindows persists current counters for operator visibility.
// Best-effort: a storage failure never blocks a request decision.
func (g *Governor) snapshotWindows(domain string, state *domainState, now time.Time) {
	if g.windows == nil {
		return
	}
	for granularity, counter := range state.windows {
		window := &models.RateLimitWindow{
			Domain:      domain,
			Granularity: granularity,
			Count:       counter.count,
			WindowStart: counter.start,
			WindowEnd:   counter.start.Add(granularity.Span()),
			InFlight:    state.inFlight,
		}
		if err := g.windows.SaveWindow(context.Background(), window); err != nil {
			g.logger.Warn().Err(err).Str("domain", domain).Msg("Failed to persist rate limit window snapshot")
		}
	}
}
