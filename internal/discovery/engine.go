package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	badgerstore "github.com/ternarybob/reperio/internal/storage/badger"
)

// maxGovernorWait bounds how long a discovery run blocks on one throttled
// provider before moving to the next.
const maxGovernorWait = 30 * time.Second

// candidate is one scored profile URL before persistence
type candidate struct {
	url          string
	query        string
	provider     string
	confidence   float64
	discoveredAt time.Time
}

// Result carries one discovery run's outcome: the persisted records, best
// matches first, and the query strings that produced them.
type Result struct {
	Profiles    []*models.DiscoveredProfile
	QueriesUsed []string
}

// Engine turns search criteria into deduplicated DiscoveredProfile records.
// Providers are redundant: one failing or throttled provider never fails
// the run as long as another returns results.
type Engine struct {
	config    *common.DiscoveryConfig
	providers []interfaces.SearchProvider
	governor  interfaces.Governor
	profiles  interfaces.ProfileStorage
	logger    arbor.ILogger
}

// NewEngine creates a discovery engine
func NewEngine(
	config *common.DiscoveryConfig,
	providers []interfaces.SearchProvider,
	governor interfaces.Governor,
	profiles interfaces.ProfileStorage,
	logger arbor.ILogger,
) *Engine {
	return &Engine{
		config:    config,
		providers: providers,
		governor:  governor,
		profiles:  profiles,
		logger:    logger,
	}
}

// Discover runs the full discovery pass: query generation, provider fan-out,
// candidate filtering and scoring, then dedup-aware persistence. At most
// maxResults records are returned.
func (e *Engine) Discover(ctx context.Context, criteria models.SearchCriteria, maxResults int) (*Result, error) {
	if criteria.IsEmpty() {
		return nil, fmt.Errorf("discovery criteria must set at least one field")
	}
	if len(e.providers) == 0 {
		return nil, fmt.Errorf("no search providers configured")
	}

	queries := BuildQueries(criteria, e.config.ProfileDomain, e.config.MaxQueries)
	e.logger.Info().
		Int("queries", len(queries)).
		Int("providers", len(e.providers)).
		Msg("Starting discovery run")

	best := make(map[string]*candidate)
	providerErrors := 0

	for _, query := range queries {
		for _, provider := range e.providers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			results, err := e.searchWithGovernor(ctx, provider, query, maxResults*2)
			if err != nil {
				providerErrors++
				e.logger.Warn().
					Err(err).
					Str("provider", provider.Name()).
					Msg("Search provider failed, continuing with remaining providers")
				continue
			}

			for _, result := range results {
				if !common.IsProfileURL(result.URL, e.config.ProfileDomain, e.config.ProfilePathGlob) {
					continue
				}
				normalized, err := common.NormalizeURL(result.URL)
				if err != nil {
					continue
				}

				score := scoreCandidate(criteria, result, normalized)
				existing, ok := best[normalized]
				if !ok {
					best[normalized] = &candidate{
						url:          normalized,
						query:        query,
						provider:     provider.Name(),
						confidence:   score,
						discoveredAt: time.Now(),
					}
				} else if score > existing.confidence {
					// Keep the first-seen timestamp; only the score and
					// its provenance improve.
					existing.confidence = score
					existing.query = query
					existing.provider = provider.Name()
				}
			}
		}
	}

	if len(best) == 0 && providerErrors > 0 && providerErrors == len(queries)*len(e.providers) {
		return nil, fmt.Errorf("all search providers failed")
	}

	ranked := make([]*candidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].confidence != ranked[j].confidence {
			return ranked[i].confidence > ranked[j].confidence
		}
		if !ranked[i].discoveredAt.Equal(ranked[j].discoveredAt) {
			return ranked[i].discoveredAt.Before(ranked[j].discoveredAt)
		}
		return ranked[i].url < ranked[j].url
	})
	if maxResults > 0 && len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}

	profiles := make([]*models.DiscoveredProfile, 0, len(ranked))
	for _, c := range ranked {
		profile, err := e.persistCandidate(ctx, c)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	e.logger.Info().
		Int("candidates", len(best)).
		Int("accepted", len(profiles)).
		Msg("Discovery run completed")

	return &Result{Profiles: profiles, QueriesUsed: queries}, nil
}

// searchWithGovernor waits for governor clearance before hitting a provider,
// giving up after maxGovernorWait.
func (e *Engine) searchWithGovernor(ctx context.Context, provider interfaces.SearchProvider, query string, limit int) ([]interfaces.SearchResult, error) {
	domain := provider.Name()
	if d, ok := provider.(interface{ Domain() string }); ok && d.Domain() != "" {
		domain = d.Domain()
	}

	deadline := time.Now().Add(maxGovernorWait)
	for {
		decision := e.governor.Authorize(domain, "search")
		if decision.Allowed {
			if decision.Recommendation != "" {
				e.logger.Debug().Str("domain", domain).Msg(decision.Recommendation)
			}
			results, err := provider.Search(ctx, query, limit)
			e.governor.RecordOutcome(domain, err == nil)
			return results, err
		}

		if time.Now().Add(decision.RetryAfter).After(deadline) {
			return nil, fmt.Errorf("provider %s throttled beyond wait budget", provider.Name())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(decision.RetryAfter):
		}
	}
}

// persistCandidate creates or updates the record for a normalized URL.
// Repeat discoveries keep the highest confidence seen.
func (e *Engine) persistCandidate(ctx context.Context, c *candidate) (*models.DiscoveredProfile, error) {
	meta := models.DiscoveryMeta{
		Query:        c.query,
		Provider:     c.provider,
		DiscoveredAt: c.discoveredAt,
		Confidence:   c.confidence,
	}

	existing, err := e.profiles.GetProfileByURL(ctx, c.url)
	if err != nil {
		if !errors.Is(err, badgerstore.ErrProfileNotFound) {
			return nil, err
		}
		profile := models.NewDiscoveredProfile(c.url, meta)
		if err := e.profiles.SaveProfile(ctx, profile); err != nil {
			return nil, err
		}
		return profile, nil
	}

	if c.confidence > existing.Discovery.Confidence {
		existing.Discovery = meta
		if err := e.profiles.SaveProfile(ctx, existing); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// BuildQueries generates up to maxQueries site-scoped search queries from
// the criteria, most specific first.
func BuildQueries(criteria models.SearchCriteria, profileDomain string, maxQueries int) []string {
	site := "site:" + profileDomain
	quote := func(s string) string { return `"` + s + `"` }

	var queries []string
	add := func(parts ...string) {
		var filled []string
		for _, p := range parts {
			if p != "" {
				filled = append(filled, p)
			}
		}
		if len(filled) == 0 {
			return
		}
		query := strings.Join(append(filled, site), " ")
		for _, q := range queries {
			if q == query {
				return
			}
		}
		queries = append(queries, query)
	}

	name := strings.TrimSpace(criteria.Name)
	if name != "" {
		add(quote(name), quoteNonEmpty(criteria.Company))
		add(quote(name), quoteNonEmpty(criteria.Role))
		add(quote(name), quoteNonEmpty(criteria.Location))
		if len(criteria.Keywords) > 0 {
			add(quote(name), strings.Join(criteria.Keywords, " "))
		}
		add(quote(name))
	} else {
		add(quoteNonEmpty(criteria.Role), quoteNonEmpty(criteria.Company), quoteNonEmpty(criteria.Location))
		if len(criteria.Keywords) > 0 {
			add(strings.Join(criteria.Keywords, " "))
		}
	}

	if maxQueries > 0 && len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	return queries
}

func quoteNonEmpty(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return `"` + s + `"`
}

// scoreCandidate estimates how well one search hit matches the criteria.
// The score is a heuristic in [0,1]; equal scores rank by earliest
// discovery time.
func scoreCandidate(criteria models.SearchCriteria, result interfaces.SearchResult, normalizedURL string) float64 {
	haystack := strings.ToLower(result.Title + " " + result.Snippet)
	slug := strings.ToLower(normalizedURL[strings.LastIndex(normalizedURL, "/")+1:])

	score := 0.4 // URL already matched the canonical profile shape

	if name := strings.ToLower(strings.TrimSpace(criteria.Name)); name != "" {
		tokens := strings.Fields(name)
		matched := 0
		slugMatched := 0
		for _, token := range tokens {
			if strings.Contains(haystack, token) {
				matched++
			}
			if strings.Contains(slug, token) {
				slugMatched++
			}
		}
		if len(tokens) > 0 {
			score += 0.3 * float64(matched) / float64(len(tokens))
			score += 0.15 * float64(slugMatched) / float64(len(tokens))
		}
	}

	if company := strings.ToLower(strings.TrimSpace(criteria.Company)); company != "" && strings.Contains(haystack, company) {
		score += 0.1
	}
	if role := strings.ToLower(strings.TrimSpace(criteria.Role)); role != "" && strings.Contains(haystack, role) {
		score += 0.05
	}
	if location := strings.ToLower(strings.TrimSpace(criteria.Location)); location != "" && strings.Contains(haystack, location) {
		score += 0.05
	}

	if score > 1 {
		score = 1
	}
	return score
}
