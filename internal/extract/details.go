package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cornermap/sync-service/internal/models"
)

const detailsPrompt = "Extract the event on this page: its name, a short description, " +
	"the date and time as written on the page, the start date in ISO format (YYYY-MM-DD), " +
	"the venue or location name, the street address, and a Google Maps link if present."

var detailsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"description": {"type": "string"},
		"startDateTimeText": {"type": "string"},
		"startDateISO": {"type": "string"},
		"locationText": {"type": "string"},
		"address": {"type": "string"},
		"googleMapsUrl": {"type": "string"}
	}
}`)

// FetchEventDetails pulls structured fields for one event page, retrying the
// whole two-stage strategy up to the configured attempt count with linear
// backoff. Stage one is a schema-driven extract, accepted when it yields a
// name. Stage two scrapes the raw page and recovers fields heuristically,
// because structured extraction silently returns empty objects for some
// pages; any partial structured fields win over scraped ones.
func (c *Client) FetchEventDetails(ctx context.Context, url string) (models.RawEventDetails, error) {
	var details models.RawEventDetails

	err := Retry(ctx, c.cfg.RetryCount, c.cfg.RetryDelay, func() error {
		fetched, err := c.fetchEventDetailsOnce(ctx, url)
		if err != nil {
			return err
		}
		details = fetched
		return nil
	})
	if err != nil {
		return models.RawEventDetails{}, err
	}

	details.URL = url
	return details, nil
}

func (c *Client) fetchEventDetailsOnce(ctx context.Context, url string) (models.RawEventDetails, error) {
	structured, err := c.extractEventDetails(ctx, url)
	if err != nil {
		return models.RawEventDetails{}, err
	}
	if structured.Name != "" {
		return structured, nil
	}

	markdown, meta, err := c.Scrape(ctx, url)
	if err != nil {
		return models.RawEventDetails{}, fmt.Errorf("fallback scrape for %s: %w", url, err)
	}

	scraped := recoverEventFields(markdown, meta)
	return mergeEventDetails(structured, scraped), nil
}

func (c *Client) extractEventDetails(ctx context.Context, url string) (models.RawEventDetails, error) {
	data, err := c.Extract(ctx, []string{url}, detailsPrompt, detailsSchema)
	if err != nil {
		return models.RawEventDetails{}, err
	}

	var details models.RawEventDetails
	if len(data) > 0 {
		if err := json.Unmarshal(data, &details); err != nil {
			return models.RawEventDetails{}, fmt.Errorf("details payload for %s: %w", url, err)
		}
	}
	return details, nil
}

var (
	headingPattern   = regexp.MustCompile(`(?m)^#{1,2}\s+(.+)$`)
	isoDatePattern   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	writtenDate      = regexp.MustCompile(`(?i)\b((?:Mon|Tues?|Wednes|Thurs?|Fri|Satur|Sun)day,?\s+)?(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}(?:,?\s+(?:at\s+)?\d{1,2}(?::\d{2})?\s*(?:am|pm|AM|PM)?)?`)
	numericDate      = regexp.MustCompile(`\b\d{1,2}[./]\d{1,2}[./]\d{4}\b`)
	mapsLinkPattern  = regexp.MustCompile(`https?://(?:www\.)?(?:google\.[a-z.]+/maps|maps\.google\.[a-z.]+|maps\.app\.goo\.gl|goo\.gl/maps)[^\s)\]"']*`)
	labelledLocation = regexp.MustCompile(`(?im)^(?:location|venue|where|ort)\s*[:\-]\s*(.+)$`)
	labelledAddress  = regexp.MustCompile(`(?im)^(?:address|adresse)\s*[:\-]\s*(.+)$`)
)

// recoverEventFields digs event fields out of scraped markdown using heading,
// metadata and regex heuristics.
func recoverEventFields(markdown string, meta ScrapeMetadata) models.RawEventDetails {
	details := models.RawEventDetails{
		Name:        meta.Title,
		Description: meta.Description,
	}

	if m := headingPattern.FindStringSubmatch(markdown); m != nil {
		details.Name = strings.TrimSpace(m[1])
	}
	if details.Description == "" {
		details.Description = firstParagraph(markdown)
	}

	if m := isoDatePattern.FindString(markdown); m != "" {
		details.StartDateISO = m
		details.StartDateTimeText = m
	}
	if m := writtenDate.FindString(markdown); m != "" {
		details.StartDateTimeText = strings.TrimSpace(m)
	} else if details.StartDateTimeText == "" {
		if m := numericDate.FindString(markdown); m != "" {
			details.StartDateTimeText = m
		}
	}

	if m := labelledLocation.FindStringSubmatch(markdown); m != nil {
		details.LocationText = strings.TrimSpace(m[1])
	}
	if m := labelledAddress.FindStringSubmatch(markdown); m != nil {
		details.Address = strings.TrimSpace(m[1])
	}
	if m := mapsLinkPattern.FindString(markdown); m != "" {
		details.GoogleMapsURL = m
	}

	return details
}

// firstParagraph returns the first substantial non-heading text block.
func firstParagraph(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "![") {
			continue
		}
		if len(line) >= 40 {
			return line
		}
	}
	return ""
}

// mergeEventDetails overlays structured fields onto scraped ones; a structured
// field wins whenever it is non-empty.
func mergeEventDetails(structured, scraped models.RawEventDetails) models.RawEventDetails {
	merged := scraped
	if structured.Name != "" {
		merged.Name = structured.Name
	}
	if structured.Description != "" {
		merged.Description = structured.Description
	}
	if structured.StartDateTimeText != "" {
		merged.StartDateTimeText = structured.StartDateTimeText
	}
	if structured.StartDateISO != "" {
		merged.StartDateISO = structured.StartDateISO
	}
	if structured.LocationText != "" {
		merged.LocationText = structured.LocationText
	}
	if structured.Address != "" {
		merged.Address = structured.Address
	}
	if structured.GoogleMapsURL != "" {
		merged.GoogleMapsURL = structured.GoogleMapsURL
	}
	if structured.Lat != nil {
		merged.Lat = structured.Lat
	}
	if structured.Lng != nil {
		merged.Lng = structured.Lng
	}
	return merged
}
