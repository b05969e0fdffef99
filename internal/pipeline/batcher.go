package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/studymesh/recall/internal/domain/entities"
)

// Sink delivers one partition's coalesced updates as a single bulk write.
// A returned error counts as a failed attempt and is retried by the batcher.
type Sink interface {
	WriteBatch(ctx context.Context, updates []entities.ProgressUpdate) error
}

// Config tunes the batching window and retry policy.
type Config struct {
	Window       time.Duration // how long a window accumulates before flushing
	MaxAttempts  int           // total write attempts per partition
	InitialDelay time.Duration // first retry delay, doubled on each attempt
	WriteTimeout time.Duration // per-attempt deadline
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Batcher buffers progress updates off the request path and flushes them in
// coalesced bulk writes once per window. One instance is created at startup
// and owned by the process for its lifetime.
//
// Enqueue never blocks the caller; the flush operates on a snapshot swapped
// out under the lock, so a new window starts accumulating while the previous
// flush is still in flight.
type Batcher struct {
	sink Sink
	log  *zap.Logger
	cfg  Config

	mu  sync.Mutex
	buf []entities.ProgressUpdate

	flushReq chan flushRequest
}

type flushRequest struct {
	done chan error
}

func NewBatcher(sink Sink, log *zap.Logger, cfg Config) *Batcher {
	return &Batcher{
		sink:     sink,
		log:      log,
		cfg:      cfg.withDefaults(),
		flushReq: make(chan flushRequest),
	}
}

// Enqueue accepts a progress update for the active window. Fire-and-forget:
// there is no backpressure signal and no error to handle. Updates without a
// timestamp are stamped on arrival.
func (b *Batcher) Enqueue(u entities.ProgressUpdate) {
	if u.OccurredAt.IsZero() {
		u.OccurredAt = time.Now()
	}

	b.mu.Lock()
	b.buf = append(b.buf, u)
	b.mu.Unlock()
}

// Run drives the window timer until ctx is cancelled, then makes one final
// best-effort flush of whatever accumulated.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Timer flushes are invisible to callers; failures are
			// already logged per partition.
			_ = b.flush(ctx)
		case req := <-b.flushReq:
			req.done <- b.flush(ctx)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), b.cfg.WriteTimeout)
			_ = b.flush(shutdownCtx)
			cancel()
			b.log.Info("progress batcher stopped")
			return
		}
	}
}

// Flush closes the current window early and reports the aggregated result
// of the forced flush. Callers that need delivery before proceeding (quiz
// completion) use this instead of waiting for the timer. Requires Run to be
// active.
func (b *Batcher) Flush(ctx context.Context) error {
	req := flushRequest{done: make(chan error, 1)}

	select {
	case b.flushReq <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flush swaps the buffer for a fresh one and writes the snapshot, one bulk
// write per partition. Partition failures are isolated: every partition is
// attempted regardless of siblings, and errors are aggregated only for
// logging and the force-flush return value.
func (b *Batcher) flush(ctx context.Context) error {
	b.mu.Lock()
	snapshot := b.buf
	b.buf = nil
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	partitions := Coalesce(snapshot)
	if len(partitions) == 0 {
		return nil
	}

	log := b.log.With(zap.String("batch_id", uuid.NewString()))
	log.Debug("flushing progress window",
		zap.Int("events", len(snapshot)),
		zap.Int("partitions", len(partitions)),
	)

	var (
		errMu sync.Mutex
		errs  error
	)

	var g errgroup.Group
	for key, updates := range partitions {
		key, updates := key, updates
		g.Go(func() error {
			if err := b.writePartition(ctx, updates); err != nil {
				log.Error("partition write failed, dropping events",
					zap.String("user_id", key.UserID),
					zap.String("course_id", key.CourseID),
					zap.Int("events", len(updates)),
					zap.Error(err),
				)

				errMu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("partition %s/%s: %w", key.UserID, key.CourseID, err))
				errMu.Unlock()
			}
			// Never propagate through the group: a failed partition must
			// not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	return errs
}

// writePartition attempts one bulk write with bounded exponential retries.
func (b *Batcher) writePartition(ctx context.Context, updates []entities.ProgressUpdate) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.InitialDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	attempt := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
		defer cancel()
		return b.sink.WriteBatch(attemptCtx, updates)
	}

	retries := uint64(b.cfg.MaxAttempts - 1)
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
}
