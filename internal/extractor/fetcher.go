package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/queue"
	"golang.org/x/time/rate"
)

// Fetcher performs governor-gated page fetches with polite pacing. The
// rate limiter is global across workers so concurrent extraction jobs do
// not multiply the fetch rate.
type Fetcher struct {
	config     *common.ExtractorConfig
	governor   interfaces.Governor
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewFetcher creates a fetcher from configuration
func NewFetcher(config *common.ExtractorConfig, governor interfaces.Governor, logger arbor.ILogger) *Fetcher {
	interval := common.ParseDurationOr(config.FetchRate, time.Second)
	return &Fetcher{
		config:   config,
		governor: governor,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		httpClient: &http.Client{
			Timeout: common.ParseDurationOr(config.RequestTimeout, 30*time.Second),
		},
		logger: logger,
	}
}

// Fetch retrieves one page. Denials, throttling responses and server
// errors are recoverable; the job-level retry budget decides when to give
// up. 404 consumes a retry too: profile pages reappear often enough that
// an immediate terminal failure loses candidates.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	domain := common.ExtractDomain(pageURL)

	decision := f.governor.Authorize(domain, "fetch")
	if !decision.Allowed {
		return "", queue.Recoverable(fmt.Errorf("fetch of %s denied by governor, retry after %s", domain, decision.RetryAfter))
	}
	if decision.Recommendation != "" {
		f.logger.Debug().Str("domain", domain).Msg(decision.Recommendation)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		f.governor.RecordOutcome(domain, false)
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		f.governor.RecordOutcome(domain, false)
		return "", fmt.Errorf("failed to build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.governor.RecordOutcome(domain, false)
		return "", queue.Recoverable(fmt.Errorf("fetch of %s failed: %w", pageURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.governor.RecordOutcome(domain, false)
		return "", queue.Recoverable(fmt.Errorf("fetch of %s returned status %d", pageURL, resp.StatusCode))
	}

	maxBody := int64(f.config.MaxBodySize)
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		f.governor.RecordOutcome(domain, false)
		return "", queue.Recoverable(fmt.Errorf("failed to read page body from %s: %w", pageURL, err))
	}

	f.governor.RecordOutcome(domain, true)
	f.logger.Debug().
		Str("url", pageURL).
		Int("bytes", len(body)).
		Msg("Page fetched")
	return string(body), nil
}
