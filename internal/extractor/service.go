package extractor

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// Service fetches one profile page and parses it into structured fields
type Service struct {
	fetcher *Fetcher
	parser  *Parser
	logger  arbor.ILogger
}

// NewService creates the extraction service
func NewService(config *common.ExtractorConfig, governor interfaces.Governor, logger arbor.ILogger) *Service {
	return &Service{
		fetcher: NewFetcher(config, governor, logger),
		parser:  NewParser(config.MaxRawTextSize, logger),
		logger:  logger,
	}
}

// ExtractProfile fetches and parses one profile URL, returning the
// structured fields and the raw page text for the enhancement prompt.
func (s *Service) ExtractProfile(ctx context.Context, pageURL string) (*models.ExtractedProfile, string, error) {
	html, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}
	return s.parser.Parse(html)
}
