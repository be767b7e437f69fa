package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

const (
	defaultTraceLimit = 20
	maxTraceLimit     = 100
)

// ConversationTraces lists, for every thread of the user, the root spans of
// the turns run in it, newest first. Children are not loaded.
func (s *Service) ConversationTraces(ctx context.Context, userID string) ([]domain.ConversationTraces, error) {
	threads, err := s.store.ListThreads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	out := make([]domain.ConversationTraces, 0, len(threads))
	for _, thread := range threads {
		summaries, err := s.ThreadTraces(ctx, userID, thread.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ConversationTraces{
			ThreadID:   thread.ID,
			Title:      thread.Title,
			UpdatedAt:  thread.UpdatedAt,
			TraceCount: len(summaries),
			Traces:     summaries,
		})
	}
	return out, nil
}

// ThreadTraces lists the root spans recorded for one thread, newest first.
func (s *Service) ThreadTraces(ctx context.Context, userID, threadID string) ([]domain.TraceSummary, error) {
	roots, err := s.store.ListRootSpansByThread(ctx, userID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list root spans: %w", err)
	}
	summaries := make([]domain.TraceSummary, 0, len(roots))
	for _, root := range roots {
		summaries = append(summaries, domain.TraceSummary{
			TraceID:   root.TraceID,
			Name:      root.Name,
			ThreadID:  root.ThreadID,
			StartTime: root.StartTime,
			EndTime:   root.EndTime,
			Duration:  durationMs(root.StartTime, root.EndTime),
			Error:     root.Error,
		})
	}
	return summaries, nil
}

// TraceSummaries pages through the user's spans newest first and groups
// each page by trace id. A trace ends at the latest end of its spans.
// hasMore reports whether any span lies beyond this page.
func (s *Service) TraceSummaries(ctx context.Context, userID string, limit, page int) (traces []domain.TraceSummary, hasMore bool, err error) {
	if limit <= 0 {
		limit = defaultTraceLimit
	}
	if limit > maxTraceLimit {
		limit = maxTraceLimit
	}
	if page < 1 {
		page = 1
	}

	spans, err := s.store.ListSpans(ctx, userID, limit+1, (page-1)*limit)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list spans: %w", err)
	}
	if len(spans) > limit {
		spans, hasMore = spans[:limit], true
	}

	order := []string{}
	groups := map[string]*domain.TraceSummary{}
	rootSeen := map[string]bool{}
	for _, span := range spans {
		sum, ok := groups[span.TraceID]
		if !ok {
			sum = &domain.TraceSummary{
				TraceID:   span.TraceID,
				Name:      span.Name,
				ThreadID:  span.ThreadID,
				StartTime: span.StartTime,
			}
			groups[span.TraceID] = sum
			order = append(order, span.TraceID)
		}
		sum.SpanCount++
		if span.StartTime.Before(sum.StartTime) {
			sum.StartTime = span.StartTime
		}
		if span.EndTime != nil && (sum.EndTime == nil || span.EndTime.After(*sum.EndTime)) {
			end := *span.EndTime
			sum.EndTime = &end
		}
		if span.IsRoot() && !rootSeen[span.TraceID] {
			rootSeen[span.TraceID] = true
			sum.Name = span.Name
			sum.Error = span.Error
		}
	}

	out := make([]domain.TraceSummary, 0, len(order))
	for _, id := range order {
		sum := groups[id]
		sum.Duration = durationMs(sum.StartTime, sum.EndTime)
		out = append(out, *sum)
	}
	return out, hasMore, nil
}

// GetTrace returns every span of a trace in start order together with the
// root metadata and overall duration.
func (s *Service) GetTrace(ctx context.Context, userID, traceID string) (*domain.Trace, error) {
	spans, err := s.store.GetTraceSpans(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trace spans: %w", err)
	}
	if len(spans) == 0 {
		return nil, domain.ErrNotFound
	}

	root := spans[0]
	for _, span := range spans {
		if span.IsRoot() {
			root = span
			break
		}
	}
	if root.UserID != "" && root.UserID != userID {
		return nil, domain.ErrNotFound
	}

	trace := &domain.Trace{
		TraceID:   traceID,
		Spans:     spans,
		StartTime: root.StartTime,
		Metadata:  root.Metadata,
	}
	for _, span := range spans {
		if span.StartTime.Before(trace.StartTime) {
			trace.StartTime = span.StartTime
		}
		if span.EndTime != nil && (trace.EndTime == nil || span.EndTime.After(*trace.EndTime)) {
			end := *span.EndTime
			trace.EndTime = &end
		}
	}
	trace.Duration = durationMs(trace.StartTime, trace.EndTime)
	return trace, nil
}

func durationMs(start time.Time, end *time.Time) int64 {
	if end == nil || end.Before(start) {
		return 0
	}
	return end.Sub(start).Milliseconds()
}
