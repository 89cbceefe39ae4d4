package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/pkg/logging"
)

// Record labels used in logs and metrics.
const (
	RecordEvaluation = "evaluation"
	RecordRequest    = "request_log"
)

const (
	defaultWriteTimeout = 10 * time.Second
	writeAttempts       = 2
	defaultRetryDelay   = 200 * time.Millisecond
)

// Sink is where the Recorder writes.
type Sink interface {
	UpsertEvaluation(ctx context.Context, res *domain.EvaluationResult) error
	LogRequest(ctx context.Context, entry RequestLog) error
}

// Observer counts persistence outcomes.
type Observer interface {
	ObservePersist(record string, err error)
}

// Recorder performs persistence writes in the background. Writes are
// detached from the caller's cancellation, retried once, and their failures
// are logged and counted but never returned: a report that was computed
// stays valid whether or not it was stored.
type Recorder struct {
	sink       Sink
	observer   Observer
	timeout    time.Duration
	retryDelay time.Duration
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithObserver counts write outcomes.
func WithObserver(o Observer) RecorderOption {
	return func(r *Recorder) { r.observer = o }
}

// WithWriteTimeout bounds each write attempt sequence.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.timeout = d }
}

// WithRetryDelay sets the pause before the second attempt.
func WithRetryDelay(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.retryDelay = d }
}

// NewRecorder returns a Recorder writing to sink. A nil sink makes every
// record call a no-op.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:       sink,
		timeout:    defaultWriteTimeout,
		retryDelay: defaultRetryDelay,
		logger:     slog.Default().With("component", "recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordEvaluation upserts res in the background.
func (r *Recorder) RecordEvaluation(ctx context.Context, res *domain.EvaluationResult) {
	if r == nil || r.sink == nil || res == nil {
		return
	}
	r.spawn(ctx, RecordEvaluation, res.CallID, func(ctx context.Context) error {
		return r.sink.UpsertEvaluation(ctx, res)
	})
}

// RecordRequest appends an audit row in the background.
func (r *Recorder) RecordRequest(ctx context.Context, entry RequestLog) {
	if r == nil || r.sink == nil {
		return
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = logging.CorrelationID(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = logging.RequestID(ctx)
	}
	r.spawn(ctx, RecordRequest, entry.Endpoint, func(ctx context.Context) error {
		return r.sink.LogRequest(ctx, entry)
	})
}

func (r *Recorder) spawn(parent context.Context, record, subject string, write func(context.Context) error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.WarnContext(parent, "recorder closed, dropping write", "record", record, "subject", subject)
		return
	}

	detached := context.WithoutCancel(parent)
	r.wg.Go(func() {
		ctx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()

		err := r.write(ctx, write)
		if r.observer != nil {
			r.observer.ObservePersist(record, err)
		}
		if err != nil {
			r.logger.ErrorContext(ctx, "persistence write failed",
				"record", record,
				"subject", subject,
				"attempts", writeAttempts,
				"error", err)
			return
		}
		r.logger.DebugContext(ctx, "persistence write stored", "record", record, "subject", subject)
	})
}

func (r *Recorder) write(ctx context.Context, write func(context.Context) error) error {
	var lastErr error
	for attempt := range writeAttempts {
		if attempt > 0 {
			select {
			case <-time.After(r.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = write(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// Close stops accepting writes and waits for in-flight ones until ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
