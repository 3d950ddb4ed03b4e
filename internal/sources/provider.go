// Package sources resolves the active set of event and place sources for a
// sync run.
package sources

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cornermap/sync-service/internal/config"
	"github.com/cornermap/sync-service/internal/models"
)

// Registry is the external source registry. The remote store satisfies it.
type Registry interface {
	ListSources(ctx context.Context) ([]models.Source, error)
}

// Provider reads the registry and substitutes configured fallback sources
// when a source type has no active entries. Pure read, no side effects, and
// no failure mode: an unreachable registry simply means "no active sources".
type Provider struct {
	registry Registry // nil when no registry is configured
	cfg      config.Sources
}

// NewProvider creates a provider over an optional registry.
func NewProvider(registry Registry, cfg config.Sources) *Provider {
	return &Provider{registry: registry, cfg: cfg}
}

// Snapshot returns the active event and spot sources.
func (p *Provider) Snapshot(ctx context.Context) models.SourceSnapshot {
	var registered []models.Source
	if p.registry != nil {
		listed, err := p.registry.ListSources(ctx)
		if err != nil {
			log.Printf("sources: registry unavailable, using fallbacks: %v", err)
		} else {
			registered = listed
		}
	}

	var snapshot models.SourceSnapshot
	for _, src := range registered {
		if src.Status != models.SourceStatusActive {
			continue
		}
		switch src.SourceType {
		case models.SourceTypeEvent:
			snapshot.EventSources = append(snapshot.EventSources, src)
		case models.SourceTypeSpot:
			snapshot.SpotSources = append(snapshot.SpotSources, src)
		}
	}

	if len(snapshot.EventSources) == 0 {
		snapshot.EventSources = fallbackSources(models.SourceTypeEvent, p.cfg.EventSourceURLs, p.cfg.DefaultEventURL)
	}
	if len(snapshot.SpotSources) == 0 {
		snapshot.SpotSources = fallbackSources(models.SourceTypeSpot, p.cfg.SpotSourceURLs, p.cfg.DefaultSpotURL)
	}

	return snapshot
}

// fallbackSources builds readonly sources from a configured URL list, or a
// single default URL when the list is empty. Readonly sources are excluded
// from status-update writes.
func fallbackSources(sourceType models.SourceType, urls []string, defaultURL string) []models.Source {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) == 0 {
		if defaultURL = strings.TrimSpace(defaultURL); defaultURL == "" {
			return nil
		}
		cleaned = []string{defaultURL}
	}

	sources := make([]models.Source, len(cleaned))
	for i, u := range cleaned {
		sources[i] = models.Source{
			ID:         fmt.Sprintf("fallback-%s-%d", sourceType, i+1),
			SourceType: sourceType,
			URL:        u,
			Label:      fmt.Sprintf("Fallback %s source %d", sourceType, i+1),
			Status:     models.SourceStatusActive,
			ReadOnly:   true,
		}
	}
	return sources
}
