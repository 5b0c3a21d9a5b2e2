// Package progress answers "list my progress": it pulls every progress record
// for a subject, resolves each distinct achievement once through the cache,
// and joins the two in the remote's order.
package progress

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"badgeup.io/relay/internal/api"
)

// Source lists all progress records of a subject. *api.Client satisfies it.
type Source interface {
	Progress(ctx context.Context, subject string) ([]api.ProgressRecord, error)
}

// Achievements resolves achievement definitions. *cache.Cache[api.Achievement] satisfies it.
type Achievements interface {
	Lookup(ctx context.Context, id string) (api.Achievement, error)
}

type Status string

const (
	StatusNone       Status = "NONE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
)

type Entry struct {
	Progress    api.ProgressRecord
	Achievement api.Achievement
}

func (e Entry) Status() Status {
	switch p := e.Progress.PercentComplete; {
	case p <= 0:
		return StatusNone
	case p < 1:
		return StatusInProgress
	default:
		return StatusComplete
	}
}

// Percent is the whole-number percentage, truncated.
func (e Entry) Percent() int {
	return int(e.Progress.PercentComplete * 100)
}

type Service struct {
	source       Source
	achievements Achievements
	parallelism  int
}

func NewService(source Source, achievements Achievements, parallelism int) *Service {
	if parallelism <= 0 {
		parallelism = 8
	}
	return &Service{source: source, achievements: achievements, parallelism: parallelism}
}

// ForSubject returns the subject's progress joined with achievement
// definitions. Any failure aborts the whole query.
func (s *Service) ForSubject(ctx context.Context, subject string) ([]Entry, error) {
	recs, err := s.source.Progress(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("fetch progress: %w", err)
	}
	if len(recs) == 0 {
		return []Entry{}, nil
	}

	ids := distinctIDs(recs)
	defs := make([]api.Achievement, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, id := range ids {
		g.Go(func() error {
			a, err := s.achievements.Lookup(gctx, id)
			if err != nil {
				return fmt.Errorf("achievement %s: %w", id, err)
			}
			defs[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]api.Achievement, len(ids))
	for i, id := range ids {
		byID[id] = defs[i]
	}
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, Entry{Progress: r, Achievement: byID[r.AchievementID]})
	}
	return out, nil
}

func distinctIDs(recs []api.ProgressRecord) []string {
	seen := make(map[string]bool, len(recs))
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		if seen[r.AchievementID] {
			continue
		}
		seen[r.AchievementID] = true
		ids = append(ids, r.AchievementID)
	}
	return ids
}
