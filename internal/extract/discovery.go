package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const discoverPrompt = "List the URLs of every individual event detail page linked from this " +
	"listing or calendar page. Only include links that lead to a single event, " +
	"not category, overview or map pages."

var discoverSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"links": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["links"]
}`)

type discoverPayload struct {
	Links []string `json:"links"`
}

// Discover finds candidate event-item URLs on one listing source. Results are
// deduplicated and filtered to the item-URL allowlist. When nothing usable is
// discovered but the source URL itself looks like an item page, the source URL
// is returned as the single candidate (self-fallback).
func (c *Client) Discover(ctx context.Context, sourceURL string) ([]string, error) {
	data, err := c.Extract(ctx, []string{sourceURL}, discoverPrompt, discoverSchema)
	if err != nil {
		return nil, fmt.Errorf("discovery extract for %s: %w", sourceURL, err)
	}

	var payload discoverPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("discovery payload for %s: %w", sourceURL, err)
		}
	}

	seen := make(map[string]bool, len(payload.Links))
	var candidates []string
	for _, link := range payload.Links {
		link = strings.TrimSpace(link)
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		if c.IsItemURL(link) {
			candidates = append(candidates, link)
		}
	}

	if len(candidates) == 0 && c.IsItemURL(sourceURL) {
		candidates = append(candidates, sourceURL)
	}

	return candidates, nil
}

// IsItemURL reports whether a URL matches the individual-item allowlist and
// avoids the known listing/overview sub-paths.
func (c *Client) IsItemURL(url string) bool {
	if !c.itemPattern.MatchString(url) {
		return false
	}
	lower := strings.ToLower(url)
	for _, excluded := range c.cfg.EventURLExclude {
		excluded = strings.TrimSpace(strings.ToLower(excluded))
		if excluded == "" {
			continue
		}
		if strings.Contains(lower, "/"+excluded+"/") || strings.HasSuffix(lower, "/"+excluded) {
			return false
		}
	}
	return true
}
