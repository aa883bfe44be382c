// Package registry holds the process-wide mapping from task ID to task state.
// It is written by completing conversion workers and read by the progress
// endpoints; all access to a single task is serialized by a per-task lock so
// unrelated tasks never contend.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nas2net/oss-relay/internal/relay"
	"github.com/nas2net/oss-relay/internal/rewrite"
)

// Sentinel errors surfaced to handlers and workers.
var (
	// ErrTaskNotFound signals a lookup for an unknown or evicted task ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrResultAlreadyRecorded guards the once-per-occurrence discipline.
	ErrResultAlreadyRecorded = errors.New("result already recorded for occurrence")
)

const defaultSweepInterval = 30 * time.Second

// Config controls registry eviction behavior.
//   - EvictionTTL: how long a done task stays readable (0 disables eviction).
//   - SweepInterval: how often the TTL sweep runs (default 30s).
//   - MaxTasks: cap on stored tasks; the oldest done task is evicted to make
//     room (0 means unbounded).
type Config struct {
	EvictionTTL   time.Duration
	SweepInterval time.Duration
	MaxTasks      int
}

// Registry stores tasks in memory for the process lifetime, bounded by the
// configured eviction policy. The top-level map is guarded by an RWMutex so
// concurrent lookups proceed alongside occasional inserts; each task carries
// its own mutex for result recording.
type Registry struct {
	cfg    Config
	clock  relay.Clock
	ids    relay.IDGenerator
	logger *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*entry

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type entry struct {
	mu       sync.Mutex
	task     relay.Task
	recorded []bool
	subs     map[int]chan relay.Task
	nextSub  int
	doneAt   time.Time
}

// New constructs a Registry and starts the eviction sweeper when a TTL is
// configured.
func New(cfg Config, clock relay.Clock, ids relay.IDGenerator, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	r := &Registry{
		cfg:    cfg,
		clock:  clock,
		ids:    ids,
		logger: logger,
		tasks:  make(map[string]*entry),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if cfg.EvictionTTL > 0 {
		go r.sweep()
	} else {
		close(r.doneCh)
	}
	return r
}

// Create allocates a task for the given text and occurrences. The task is
// visible to Get before Create returns, so a client polling immediately after
// receiving the ID never observes "not found". A task with zero occurrences
// is born done.
func (r *Registry) Create(text string, occs []relay.URLOccurrence) (relay.Task, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return relay.Task{}, fmt.Errorf("generate task id: %w", err)
	}

	urls := make([]relay.TaskURL, len(occs))
	for i, occ := range occs {
		urls[i] = relay.TaskURL{
			Original:   occ.Raw,
			Status:     relay.StatusPending,
			StatusText: relay.StatusPending.StatusText(),
		}
	}
	now := r.clock.Now()
	e := &entry{
		task: relay.Task{
			ID:            id,
			Total:         len(occs),
			URLs:          urls,
			Occurrences:   append([]relay.URLOccurrence(nil), occs...),
			OriginalText:  text,
			ConvertedText: text,
			CreatedAt:     now,
			Done:          len(occs) == 0,
		},
		recorded: make([]bool, len(occs)),
		subs:     make(map[int]chan relay.Task),
	}
	if e.task.Done {
		e.doneAt = now
	}

	r.mu.Lock()
	if r.cfg.MaxTasks > 0 && len(r.tasks) >= r.cfg.MaxTasks {
		r.evictOldestDoneLocked()
	}
	r.tasks[id] = e
	r.mu.Unlock()

	return e.snapshot(), nil
}

// Get returns a copy of the task state or ErrTaskNotFound.
func (r *Registry) Get(taskID string) (relay.Task, error) {
	e, err := r.lookup(taskID)
	if err != nil {
		return relay.Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), nil
}

// RecordResult applies the result for one occurrence index, exactly once.
// It bumps the completion counter, recomputes the converted text, and wakes
// any subscribers. A second call for the same index returns
// ErrResultAlreadyRecorded and changes nothing.
func (r *Registry) RecordResult(taskID string, index int, res relay.ConversionResult) (relay.Task, error) {
	e, err := r.lookup(taskID)
	if err != nil {
		return relay.Task{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index >= e.task.Total {
		return relay.Task{}, fmt.Errorf("occurrence index %d out of range [0,%d)", index, e.task.Total)
	}
	if e.recorded[index] {
		return relay.Task{}, ErrResultAlreadyRecorded
	}
	e.recorded[index] = true

	u := &e.task.URLs[index]
	u.Status = res.Status
	u.StatusText = res.Status.StatusText()
	u.Converted = res.NewURL
	u.Error = res.Reason

	e.task.Completed++
	e.task.Done = e.task.Completed == e.task.Total
	e.task.ConvertedText = rewrite.Text(e.task.OriginalText, e.task.Occurrences, e.task.URLs)
	if e.task.Done {
		e.doneAt = r.clock.Now()
	}

	snap := e.snapshotLocked()
	e.notifyLocked(snap)
	return snap, nil
}

// Subscribe registers for task updates. The returned channel immediately
// carries the current state, then one snapshot per recorded result; it is
// closed after the final (done) snapshot is delivered, or when the cancel
// function runs. Channels are buffered for the full task so a prompt reader
// never misses an update.
func (r *Registry) Subscribe(taskID string) (<-chan relay.Task, func(), error) {
	e, err := r.lookup(taskID)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan relay.Task, e.task.Total+2)
	ch <- e.snapshotLocked()
	if e.task.Done {
		close(ch)
		return ch, func() {}, nil
	}

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Len reports the number of stored tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Close stops the eviction sweeper. Tasks remain readable.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.doneCh
}

func (r *Registry) lookup(taskID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrTaskNotFound
	}
	return e, nil
}

func (r *Registry) sweep() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Registry) evictExpired() {
	cutoff := r.clock.Now().Add(-r.cfg.EvictionTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.tasks {
		e.mu.Lock()
		expired := e.task.Done && e.doneAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(r.tasks, id)
			r.logger.Debug("task evicted", zap.String("task_id", id))
		}
	}
}

// evictOldestDoneLocked frees one slot when the task cap is hit. Running
// tasks are never evicted; if everything is still in flight the cap is
// exceeded rather than losing live progress state.
func (r *Registry) evictOldestDoneLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, e := range r.tasks {
		e.mu.Lock()
		done, at := e.task.Done, e.doneAt
		e.mu.Unlock()
		if !done {
			continue
		}
		if oldestID == "" || at.Before(oldestAt) {
			oldestID, oldestAt = id, at
		}
	}
	if oldestID == "" {
		r.logger.Warn("task cap reached with no done task to evict")
		return
	}
	delete(r.tasks, oldestID)
}

func (e *entry) snapshot() relay.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *entry) snapshotLocked() relay.Task {
	t := e.task
	t.URLs = append([]relay.TaskURL(nil), e.task.URLs...)
	t.Occurrences = append([]relay.URLOccurrence(nil), e.task.Occurrences...)
	return t
}

// notifyLocked fans the snapshot out to subscribers without ever blocking the
// recording worker; a subscriber that stopped draining just misses updates.
// The final snapshot closes every channel.
func (e *entry) notifyLocked(snap relay.Task) {
	for id, ch := range e.subs {
		select {
		case ch <- snap:
		default:
		}
		if snap.Done {
			delete(e.subs, id)
			close(ch)
		}
	}
}
