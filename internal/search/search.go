// Package search builds the bounded context bundle a pass is enriched
// with: related notes, calendar events, tasks, and prior messages drawn
// from the knowledge store. Searches are read-only and repeatable; the
// convergence loop re-runs them whenever a pass discovers new entities,
// so each call must stay cheap relative to LLM latency.
package search

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"noema/internal/config"
	"noema/internal/types"
)

// Store is the read side of the knowledge base the service queries.
// Implementations must be side-effect free for these methods.
type Store interface {
	SearchNotes(ctx context.Context, query string, topK int) ([]types.RelatedNote, error)
	SearchCalendar(ctx context.Context, query string, window time.Duration, topK int) ([]types.RelatedCalendarEvent, error)
	SearchTasks(ctx context.Context, query string, topK int) ([]types.RelatedTask, error)
	SearchMessages(ctx context.Context, sender, query string, topK int) ([]types.RelatedMessage, error)
}

// Service runs bounded context searches against a Store.
type Service struct {
	store  Store
	logger *zap.Logger

	// calendarWindow bounds how far around now calendar lookups reach.
	calendarWindow time.Duration
}

// NewService creates a context search service.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:          store,
		logger:         logger,
		calendarWindow: 14 * 24 * time.Hour,
	}
}

// Search queries all enabled sources concurrently and assembles a
// bounded bundle. Store failures degrade to an empty (or partial)
// bundle: missing context is acceptable, aborting the event's analysis
// is not. The returned bundle is deterministic for identical inputs
// against an unchanged store.
func (s *Service) Search(ctx context.Context, sender string, entities []types.Entity, cfg config.SearchConfig) *types.ContextBundle {
	bundle := &types.ContextBundle{}
	query := buildQuery(entities)
	if query == "" && sender == "" {
		return bundle
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		notes, err := s.store.SearchNotes(gctx, query, cfg.MaxNotes)
		if err != nil {
			s.logger.Warn("note search degraded", zap.Error(err))
			return nil
		}
		bundle.Notes = notes
		return nil
	})

	if cfg.IncludeCalendar {
		g.Go(func() error {
			events, err := s.store.SearchCalendar(gctx, query, s.calendarWindow, cfg.MaxCalendar)
			if err != nil {
				s.logger.Warn("calendar search degraded", zap.Error(err))
				return nil
			}
			bundle.Calendar = events
			return nil
		})
	}

	if cfg.IncludeTasks {
		g.Go(func() error {
			tasks, err := s.store.SearchTasks(gctx, query, cfg.MaxTasks)
			if err != nil {
				s.logger.Warn("task search degraded", zap.Error(err))
				return nil
			}
			bundle.Tasks = tasks
			return nil
		})
	}

	if cfg.IncludeMessages {
		g.Go(func() error {
			msgs, err := s.store.SearchMessages(gctx, sender, query, cfg.MaxMessages)
			if err != nil {
				s.logger.Warn("message search degraded", zap.Error(err))
				return nil
			}
			bundle.Messages = msgs
			return nil
		})
	}

	// Goroutines never return errors; Wait only observes ctx cancel.
	_ = g.Wait()

	bundle.Conflicts = detectConflicts(bundle)
	return bundle
}

// SearchEntities is a convenience wrapper over Search for follow-up
// lookups of newly discovered entity names.
func (s *Service) SearchEntities(ctx context.Context, names []string, cfg config.SearchConfig) *types.ContextBundle {
	entities := make([]types.Entity, 0, len(names))
	for _, n := range names {
		entities = append(entities, types.Entity{Type: types.EntityTopic, Value: n, Confidence: 1})
	}
	return s.Search(ctx, "", entities, cfg)
}

// buildQuery joins distinct entity values into a single search query.
func buildQuery(entities []types.Entity) string {
	return strings.Join(types.EntityNames(entities), " ")
}

// detectConflicts flags overlapping calendar events within the bundle.
func detectConflicts(b *types.ContextBundle) []types.ContextConflict {
	var conflicts []types.ContextConflict
	for i := 0; i < len(b.Calendar); i++ {
		for j := i + 1; j < len(b.Calendar); j++ {
			a, c := b.Calendar[i], b.Calendar[j]
			if a.Start.Before(c.End) && c.Start.Before(a.End) {
				conflicts = append(conflicts, types.ContextConflict{
					Kind:        "schedule_overlap",
					Description: "calendar events overlap: " + a.Title + " / " + c.Title,
					SourceA:     a.ID,
					SourceB:     c.ID,
				})
			}
		}
	}
	return conflicts
}
