package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studymesh/recall/internal/domain/entities"
)

var errSinkDown = errors.New("sink unavailable")

// scriptedSink records every bulk write and fails a configured number of
// times per partition before succeeding.
type scriptedSink struct {
	mu       sync.Mutex
	calls    [][]entities.ProgressUpdate
	failures map[entities.PartitionKey]int
}

func newScriptedSink() *scriptedSink {
	return &scriptedSink{failures: make(map[entities.PartitionKey]int)}
}

func (s *scriptedSink) WriteBatch(_ context.Context, updates []entities.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, updates)

	key := updates[0].Partition()
	if s.failures[key] > 0 {
		s.failures[key]--
		return errSinkDown
	}
	return nil
}

func (s *scriptedSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedSink) callsFor(key entities.PartitionKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, call := range s.calls {
		if call[0].Partition() == key {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		Window:       time.Hour, // timer never fires during forced-flush tests
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		WriteTimeout: time.Second,
	}
}

func startBatcher(t *testing.T, sink Sink, cfg Config) *Batcher {
	t.Helper()

	b := NewBatcher(sink, zap.NewNop(), cfg)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return b
}

func event(course, chapter string, progress float64) entities.ProgressUpdate {
	return entities.ProgressUpdate{
		UserID:    "user-1",
		CourseID:  course,
		ChapterID: chapter,
		Kind:      entities.ProgressVideo,
		Progress:  progress,
	}
}

func TestBatcher_FlushWritesOnePartitionPerCourse(t *testing.T) {
	sink := newScriptedSink()
	b := startBatcher(t, sink, testConfig())

	for i := 0; i < 50; i++ {
		course := []string{"course-a", "course-b", "course-c"}[i%3]
		b.Enqueue(event(course, "ch-1", float64(i+1)))
	}

	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 3, sink.callCount(), "one bulk write per distinct (user, course)")
}

func TestBatcher_EmptyFlushIsNoop(t *testing.T) {
	sink := newScriptedSink()
	b := startBatcher(t, sink, testConfig())

	require.NoError(t, b.Flush(context.Background()))
	assert.Zero(t, sink.callCount())
}

func TestBatcher_FlushedEventsDoNotCarryOver(t *testing.T) {
	sink := newScriptedSink()
	b := startBatcher(t, sink, testConfig())

	b.Enqueue(event("course-a", "ch-1", 50))
	require.NoError(t, b.Flush(context.Background()))
	require.Equal(t, 1, sink.callCount())

	// The window was swapped; a second flush has nothing to write.
	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 1, sink.callCount())
}

func TestBatcher_RetryCeiling(t *testing.T) {
	sink := newScriptedSink()
	key := entities.PartitionKey{UserID: "user-1", CourseID: "course-a"}
	sink.failures[key] = 100 // never recovers

	b := startBatcher(t, sink, testConfig())
	b.Enqueue(event("course-a", "ch-1", 50))

	err := b.Flush(context.Background())
	require.ErrorIs(t, err, errSinkDown)
	assert.Equal(t, 3, sink.callsFor(key), "exactly MaxAttempts attempts, no more")
}

func TestBatcher_TransientFailureRecovers(t *testing.T) {
	sink := newScriptedSink()
	key := entities.PartitionKey{UserID: "user-1", CourseID: "course-a"}
	sink.failures[key] = 2 // fails twice, third attempt succeeds

	b := startBatcher(t, sink, testConfig())
	b.Enqueue(event("course-a", "ch-1", 50))

	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 3, sink.callsFor(key))
}

func TestBatcher_PartitionFailureIsolated(t *testing.T) {
	sink := newScriptedSink()
	broken := entities.PartitionKey{UserID: "user-1", CourseID: "course-a"}
	healthy := entities.PartitionKey{UserID: "user-1", CourseID: "course-b"}
	sink.failures[broken] = 100

	b := startBatcher(t, sink, testConfig())
	b.Enqueue(event("course-a", "ch-1", 50))
	b.Enqueue(event("course-b", "ch-1", 75))

	err := b.Flush(context.Background())
	require.ErrorIs(t, err, errSinkDown)

	assert.Equal(t, 3, sink.callsFor(broken))
	assert.Equal(t, 1, sink.callsFor(healthy), "sibling partition written despite the failure")
}

func TestBatcher_RetryDelaysDouble(t *testing.T) {
	sink := newScriptedSink()
	key := entities.PartitionKey{UserID: "user-1", CourseID: "course-a"}
	sink.failures[key] = 100

	cfg := testConfig()
	cfg.InitialDelay = 50 * time.Millisecond

	b := startBatcher(t, sink, cfg)
	b.Enqueue(event("course-a", "ch-1", 50))

	start := time.Now()
	err := b.Flush(context.Background())
	elapsed := time.Since(start)

	require.ErrorIs(t, err, errSinkDown)
	// Three attempts spaced 50ms then 100ms apart.
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond)
}

func TestBatcher_WindowTimerFlushes(t *testing.T) {
	sink := newScriptedSink()
	cfg := testConfig()
	cfg.Window = 30 * time.Millisecond

	b := startBatcher(t, sink, cfg)
	b.Enqueue(event("course-a", "ch-1", 50))

	require.Eventually(t, func() bool { return sink.callCount() == 1 },
		2*time.Second, 10*time.Millisecond, "window timer should flush without an explicit call")
}

func TestBatcher_FinalFlushOnShutdown(t *testing.T) {
	sink := newScriptedSink()
	b := NewBatcher(sink, zap.NewNop(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	b.Enqueue(event("course-a", "ch-1", 50))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batcher did not stop")
	}
	assert.Equal(t, 1, sink.callCount(), "shutdown performs one final flush")
}

func TestBatcher_FlushHonorsCallerContext(t *testing.T) {
	// No Run loop: the request channel never drains.
	b := NewBatcher(newScriptedSink(), zap.NewNop(), testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Flush(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBatcher_EnqueueStampsMissingTimestamp(t *testing.T) {
	sink := newScriptedSink()
	b := startBatcher(t, sink, testConfig())

	before := time.Now()
	b.Enqueue(event("course-a", "ch-1", 50)) // no OccurredAt set

	require.NoError(t, b.Flush(context.Background()))
	require.Equal(t, 1, sink.callCount())

	got := sink.calls[0][0].OccurredAt
	assert.False(t, got.IsZero())
	assert.False(t, got.Before(before))
}
