package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
)

// searchResponse is the JSON shape shared by searx-style endpoints
type searchResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// HTTPProvider queries one external search endpoint. The endpoint is a URL
// template whose %s receives the url-encoded query.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewHTTPProvider builds a provider from configuration
func NewHTTPProvider(config common.ProviderConfig, logger arbor.ILogger) *HTTPProvider {
	return &HTTPProvider{
		name:     config.Name,
		endpoint: config.Endpoint,
		apiKey:   config.APIKey,
		httpClient: &http.Client{
			Timeout: common.ParseDurationOr(config.Timeout, 15*time.Second),
		},
		logger: logger,
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

// Domain returns the provider host, used as the governor budget key
func (p *HTTPProvider) Domain() string {
	return common.ExtractDomain(fmt.Sprintf(p.endpoint, ""))
}

func (p *HTTPProvider) Search(ctx context.Context, query string, limit int) ([]interfaces.SearchResult, error) {
	requestURL := fmt.Sprintf(p.endpoint, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request to %s failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search provider %s returned status %d", p.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response from %s: %w", p.name, err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response from %s: %w", p.name, err)
	}

	results := make([]interfaces.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = r.Content
		}
		results = append(results, interfaces.SearchResult{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: snippet,
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}

	p.logger.Debug().
		Str("provider", p.name).
		Int("results", len(results)).
		Msg("Search provider returned results")
	return results, nil
}
