package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries the index first and falls back to PG FTS.
type Service struct {
	index    Backend
	fallback *PgFTS
	logger   *slog.Logger
}

// NewService creates a search service. index may be nil when Meilisearch is
// not configured.
func NewService(index Backend, fallback *PgFTS, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{index: index, fallback: fallback, logger: logger.With("component", "search")}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back to PG FTS. Failures
// degrade to an empty result.
func (s *Service) Search(q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("index search failed, falling back to postgres", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("postgres search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTask indexes a task in the background.
func (s *Service) IndexTask(t TaskRecord) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexTasks([]TaskRecord{t}); err != nil {
			s.logger.Warn("index task failed", "task_id", t.ID, "error", err)
		}
	}()
}

// DeleteTask removes a task from the index in the background.
func (s *Service) DeleteTask(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeleteTask(id); err != nil {
			s.logger.Warn("delete task from index failed", "task_id", id, "error", err)
		}
	}()
}

// ReindexAllFromPG pushes every task from Postgres into the index.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexReady() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	if err := s.index.IndexTasks(records); err != nil {
		s.logger.Error("reindex tasks failed", "count", len(records), "error", err)
		return
	}
	s.logger.Info("reindexed tasks", "count", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
