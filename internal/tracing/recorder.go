// Package tracing records the execution tree of each assistant turn as spans.
package tracing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/observability"
)

// SpanWriter persists spans. Writes must be upserts keyed by span id.
type SpanWriter interface {
	UpsertSpan(ctx context.Context, span *domain.Span) error
}

// Recorder creates spans and persists them without ever failing the caller.
type Recorder struct {
	store        SpanWriter
	metrics      *observability.Metrics
	tracer       trace.Tracer
	logger       zerolog.Logger
	writeTimeout time.Duration
	retryDelay   time.Duration
	now          func() time.Time
	wg           sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithMetrics counts failed writes.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithTracer mirrors every span to an OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Recorder) { r.tracer = t }
}

// WithRetryDelay sets the pause before the single retry of a failed write.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Recorder) { r.retryDelay = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store SpanWriter, opts ...Option) *Recorder {
	r := &Recorder{
		store:        store,
		logger:       log.With().Str("component", "tracing").Logger(),
		writeTimeout: 5 * time.Second,
		retryDelay:   200 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SpanOptions describes a span being started.
type SpanOptions struct {
	Type     domain.SpanType
	Name     string
	Input    any
	Metadata domain.SpanMetadata
}

// Span is a started span that has not necessarily been sealed yet.
type Span struct {
	recorder *Recorder
	otelSpan trace.Span

	mu     sync.Mutex
	data   domain.Span
	sealed bool
}

// StartTrace starts the root span of a new trace for a thread.
func (r *Recorder) StartTrace(ctx context.Context, threadID, userID string, opts SpanOptions) *Span {
	return r.start(ctx, uuid.NewString(), nil, threadID, userID, opts)
}

// StartChild starts a span nested under s.
func (s *Span) StartChild(ctx context.Context, opts SpanOptions) *Span {
	parentID := s.data.ID
	if s.otelSpan != nil {
		ctx = trace.ContextWithSpan(ctx, s.otelSpan)
	}
	return s.recorder.start(ctx, s.data.TraceID, &parentID, s.data.ThreadID, s.data.UserID, opts)
}

func (r *Recorder) start(ctx context.Context, traceID string, parentID *string, threadID, userID string, opts SpanOptions) *Span {
	opts.Metadata.ThreadID = threadID
	opts.Metadata.UserID = userID

	s := &Span{
		recorder: r,
		data: domain.Span{
			ID:           uuid.NewString(),
			TraceID:      traceID,
			ParentSpanID: parentID,
			Type:         opts.Type,
			Name:         opts.Name,
			Input:        encode(opts.Input),
			Metadata:     encode(opts.Metadata),
			ThreadID:     threadID,
			UserID:       userID,
			StartTime:    r.now(),
		},
	}
	r.mirrorStart(ctx, s)

	snapshot := s.data
	r.write(ctx, &snapshot, "start")
	return s
}

// ID returns the span id.
func (s *Span) ID() string { return s.data.ID }

// TraceID returns the id of the trace the span belongs to.
func (s *Span) TraceID() string { return s.data.TraceID }

// End seals the span with its output or error. Sealing twice is a no-op.
func (s *Span) End(ctx context.Context, output any, err error) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	s.sealed = true
	end := s.recorder.now()
	if end.Before(s.data.StartTime) {
		end = s.data.StartTime
	}
	s.data.EndTime = &end
	s.data.Output = encode(output)
	if err != nil {
		msg := err.Error()
		s.data.Error = &msg
	}
	snapshot := s.data
	s.mu.Unlock()

	s.recorder.mirrorEnd(s, &snapshot, err)
	s.recorder.write(ctx, &snapshot, "seal")
}

// Snapshot returns a copy of the span as last written.
func (s *Span) Snapshot() domain.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Wait blocks until pending retries have finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) write(ctx context.Context, span *domain.Span, phase string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	err := r.store.UpsertSpan(writeCtx, span)
	cancel()
	if err == nil {
		return
	}

	r.metrics.TraceWriteFailed(phase)
	r.logger.Warn().Err(err).
		Str("trace_id", span.TraceID).
		Str("span_id", span.ID).
		Str("phase", phase).
		Msg("span write failed, retrying once")

	retryCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.retryDelay > 0 {
			time.Sleep(r.retryDelay)
		}
		ctx, cancel := context.WithTimeout(retryCtx, r.writeTimeout)
		defer cancel()
		if err := r.store.UpsertSpan(ctx, span); err != nil {
			r.metrics.TraceWriteFailed("retry")
			r.logger.Error().Err(err).
				Str("trace_id", span.TraceID).
				Str("span_id", span.ID).
				Msg("span write retry failed, dropping span")
		}
	}()
}

func (r *Recorder) mirrorStart(ctx context.Context, s *Span) {
	if r.tracer == nil {
		return
	}
	_, s.otelSpan = r.tracer.Start(ctx, string(s.data.Type)+" "+s.data.Name,
		trace.WithTimestamp(s.data.StartTime),
		trace.WithAttributes(
			attribute.String("assistant.span_id", s.data.ID),
			attribute.String("assistant.trace_id", s.data.TraceID),
			attribute.String("assistant.span_type", string(s.data.Type)),
			attribute.String("assistant.thread_id", s.data.ThreadID),
			attribute.String("assistant.user_id", s.data.UserID),
		),
	)
}

func (r *Recorder) mirrorEnd(s *Span, snapshot *domain.Span, err error) {
	if s.otelSpan == nil {
		return
	}
	if err != nil {
		s.otelSpan.RecordError(err)
		s.otelSpan.SetStatus(codes.Error, err.Error())
	} else {
		s.otelSpan.SetStatus(codes.Ok, "")
	}
	s.otelSpan.End(trace.WithTimestamp(*snapshot.EndTime))
}

func encode(v any) json.RawMessage {
	switch val := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return val
	case []byte:
		return json.RawMessage(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"encodeError": err.Error()})
	}
	return data
}
