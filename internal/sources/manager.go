package sources

import (
	"context"
	"fmt"
	"log/slog"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/logger"
)

// Store persists source rows.
type Store interface {
	UpsertSource(ctx context.Context, source core.Source) error
}

// Manager loads the configured sources and registers them with the store.
type Manager struct {
	store Store
	log   *slog.Logger
}

// NewManager creates a new source manager. store may be nil.
func NewManager(store Store) *Manager {
	return &Manager{store: store, log: logger.Get()}
}

// Prepare loads path, truncates to maxSources when positive, and upserts
// every kept source. The second return value reports whether truncation
// happened.
func (m *Manager) Prepare(ctx context.Context, path string, maxSources int) ([]core.Source, bool, error) {
	all, err := Load(path)
	if err != nil {
		return nil, false, err
	}

	selected, truncated := Limit(all, maxSources)
	if truncated {
		m.log.Warn("Sources truncated", "loaded", len(all), "kept", len(selected))
	}

	if m.store != nil {
		for _, src := range selected {
			if err := m.store.UpsertSource(ctx, src); err != nil {
				return nil, truncated, fmt.Errorf("failed to store source %s: %w", src.SourceID(), err)
			}
		}
	}
	m.log.Info("Loaded sources", "count", len(selected), "path", path)
	return selected, truncated, nil
}

// Limit keeps the first n items when n is positive.
func Limit[T any](items []T, n int) ([]T, bool) {
	if n <= 0 || len(items) <= n {
		return items, false
	}
	return items[:n], true
}

// ByPageType returns the sources of one page type.
func ByPageType(all []core.Source, pageType string) []core.Source {
	var out []core.Source
	for _, src := range all {
		if src.PageType == pageType {
			out = append(out, src)
		}
	}
	return out
}
