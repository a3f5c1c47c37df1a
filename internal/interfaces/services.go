package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/reperio/internal/models"
)

// Decision is the governor's answer to an authorization request
type Decision struct {
	Allowed        bool
	RetryAfter     time.Duration
	Recommendation string // Advisory only, e.g. discouraged time-of-day band
}

// Governor gates all outbound network operations per target domain
type Governor interface {
	Authorize(domain, requestType string) Decision
	RecordOutcome(domain string, success bool)
}

// SearchResult is one hit returned by an external search provider
type SearchResult struct {
	URL     string
	Title   string
	Snippet string
}

// SearchProvider is one external search backend. Providers are treated as
// unreliable: timeouts and partial results are expected.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// CanonicalStore is the downstream profile tier's write contract, invoked
// only from the review workflow's approved transition.
type CanonicalStore interface {
	Upsert(ctx context.Context, profileID string, fields models.CanonicalFields) (string, error)
}

// EnhancementProvider generates a completion for an enhancement prompt
type EnhancementProvider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// JobExecutor runs one claimed job to completion. Implementations check
// job.CancelRequested (via the queue) at each natural suspension point.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.Job) error
}
