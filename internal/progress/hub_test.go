package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sampleEvent(stage Stage) Event {
	evt := Event{
		TaskID: UUIDToBytes(uuid.New()),
		TS:     time.Now().UTC(),
		Stage:  stage,
	}
	if stage == StageConvertDone {
		evt.URL = "https://a.com/x.png"
		evt.Site = "a.com"
		evt.Status = "success"
	}
	return evt
}

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageTaskStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageConvertDone))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageTaskDone))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

// TestHubCloseFlushesWithCanceledBaseContext ensures the shutdown flush does
// not inherit a canceled base context: the final batch still reaches sinks
// under a live context.
func TestHubCloseFlushesWithCanceledBaseContext(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
		BaseContext:    canceled,
	}, sink)

	hub.Emit(sampleEvent(StageTaskDone))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	for _, err := range sink.CtxErrs() {
		require.NoError(t, err)
	}
}

// TestHubDiscardsInvalidEvents asserts malformed events never reach sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   10 * time.Millisecond,
	}, sink)

	hub.Emit(Event{Stage: StageTaskStart}) // missing task id and timestamp
	hub.Emit(sampleEvent("BOGUS"))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageConvertDone)
	require.NoError(t, valid.Validate())

	missingURL := valid
	missingURL.URL = ""
	require.Error(t, missingURL.Validate())

	pendingStatus := valid
	pendingStatus.Status = "pending"
	require.Error(t, pendingStatus.Validate())

	negativeDur := valid
	negativeDur.Dur = -time.Second
	require.Error(t, negativeDur.Validate())
}

func TestSiteOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a.com", SiteOf("https://a.com/x.png"))
	require.Equal(t, "a.com:8080", SiteOf("http://a.com:8080/y"))
	require.Equal(t, "unknown", SiteOf("not a url"))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	ctxErrs []error
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(ctx context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) CtxErrs() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.ctxErrs...)
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}
