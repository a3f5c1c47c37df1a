package extractor

import (
	"fmt"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/models"
)

// fieldSelectors maps each profile field to its candidate selectors, most
// specific first. Extraction is per-field tolerant: a missing region skips
// the field, it never fails the page.
var fieldSelectors = map[string][]string{
	"identity": {"[itemprop=name]", ".profile-name", "header h1", "h1"},
	"headline": {"[itemprop=jobTitle]", ".profile-headline", ".headline", "header h2"},
	"location": {"[itemprop=address]", ".profile-location", ".location"},
	"summary":  {"[itemprop=description]", ".profile-summary", ".summary", "#about p"},
}

var listSelectors = map[string][]string{
	"skills":         {".skills li", "#skills li", "[data-section=skills] li"},
	"certifications": {".certifications li", "#certifications li", "[data-section=certifications] li"},
	"publications":   {".publications li", "#publications li", "[data-section=publications] li"},
	"languages":      {".languages li", "#languages li", "[data-section=languages] li"},
}

// Parser turns a fetched profile page into structured fields plus the raw
// page text used for enhancement prompts.
type Parser struct {
	maxRawText int
	converter  *md.Converter
	logger     arbor.ILogger
}

// NewParser creates a parser. maxRawText caps the markdown rendering of
// the page body retained for prompts.
func NewParser(maxRawText int, logger arbor.ILogger) *Parser {
	converter := md.NewConverter("", true, nil)
	return &Parser{
		maxRawText: maxRawText,
		converter:  converter,
		logger:     logger,
	}
}

// Parse extracts the structured profile and raw text from page HTML.
// An unparseable document is the only hard error.
func (p *Parser) Parse(html string) (*models.ExtractedProfile, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse page HTML: %w", err)
	}

	profile := &models.ExtractedProfile{ExtractedAt: time.Now()}
	var extracted []string

	if v := firstText(doc, fieldSelectors["identity"]); v != "" {
		profile.Identity = v
		extracted = append(extracted, "identity")
	}
	if v := firstText(doc, fieldSelectors["headline"]); v != "" {
		profile.Headline = v
		extracted = append(extracted, "headline")
	}
	if v := firstText(doc, fieldSelectors["location"]); v != "" {
		profile.Location = v
		extracted = append(extracted, "location")
	}
	if v := firstText(doc, fieldSelectors["summary"]); v != "" {
		profile.Summary = v
		extracted = append(extracted, "summary")
	}

	if entries := parseExperience(doc); len(entries) > 0 {
		profile.Experience = entries
		extracted = append(extracted, "experience")
	}
	if entries := parseEducation(doc); len(entries) > 0 {
		profile.Education = entries
		extracted = append(extracted, "education")
	}

	for field, selectors := range listSelectors {
		items := collectItems(doc, selectors)
		if len(items) == 0 {
			continue
		}
		switch field {
		case "skills":
			profile.Skills = items
		case "certifications":
			profile.Certifications = items
		case "publications":
			profile.Publications = items
		case "languages":
			profile.Languages = items
		}
		extracted = append(extracted, field)
	}

	profile.FieldsExtracted = extracted

	rawText := p.rawText(doc)

	p.logger.Debug().
		Int("fields", len(extracted)).
		Int("raw_text_len", len(rawText)).
		Msg("Profile page parsed")
	return profile, rawText, nil
}

// rawText renders the page body to markdown, truncated to the budget
func (p *Parser) rawText(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer").Remove()

	body := doc.Find("body")
	html, err := body.Html()
	if err != nil || html == "" {
		return ""
	}

	text, err := p.converter.ConvertString(html)
	if err != nil {
		// Fall back to plain text when markdown conversion chokes
		text = strings.TrimSpace(body.Text())
	}
	text = strings.TrimSpace(text)
	if p.maxRawText > 0 && len(text) > p.maxRawText {
		text = text[:p.maxRawText]
	}
	return text
}

// parseExperience walks the experience section's entry blocks
func parseExperience(doc *goquery.Document) []models.ExperienceEntry {
	var entries []models.ExperienceEntry
	doc.Find(".experience .entry, #experience .entry, [data-section=experience] .entry").Each(func(_ int, s *goquery.Selection) {
		entry := models.ExperienceEntry{
			Title:        cleanText(s.Find(".title, h3").First().Text()),
			Organization: cleanText(s.Find(".organization, .company, h4").First().Text()),
			DateRange:    cleanText(s.Find(".dates, .date-range, time").First().Text()),
			Description:  cleanText(s.Find(".description, p").First().Text()),
		}
		if entry.Title != "" || entry.Organization != "" {
			entries = append(entries, entry)
		}
	})
	return entries
}

// parseEducation walks the education section's entry blocks
func parseEducation(doc *goquery.Document) []models.EducationEntry {
	var entries []models.EducationEntry
	doc.Find(".education .entry, #education .entry, [data-section=education] .entry").Each(func(_ int, s *goquery.Selection) {
		entry := models.EducationEntry{
			Institution: cleanText(s.Find(".institution, .school, h3").First().Text()),
			Degree:      cleanText(s.Find(".degree, h4").First().Text()),
			DateRange:   cleanText(s.Find(".dates, .date-range, time").First().Text()),
		}
		if entry.Institution != "" {
			entries = append(entries, entry)
		}
	})
	return entries
}

// firstText returns the first non-empty text among candidate selectors
func firstText(doc *goquery.Document, selectors []string) string {
	for _, selector := range selectors {
		if text := cleanText(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// collectItems gathers unique non-empty item texts from the first selector
// that matches anything
func collectItems(doc *goquery.Document, selectors []string) []string {
	for _, selector := range selectors {
		var items []string
		seen := make(map[string]bool)
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := cleanText(s.Text())
			if text == "" || seen[text] {
				return
			}
			seen[text] = true
			items = append(items, text)
		})
		if len(items) > 0 {
			return items
		}
	}
	return nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
