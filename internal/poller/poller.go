// Package poller runs keyed background fetches on independent schedules.
//
// Each key owns one goroutine and one ticker. A key never has more than one
// fetch in flight: interval ticks that arrive while a fetch is running are
// dropped, and invalidations are folded into a single follow-up fetch that
// starts once the running one resolves. The last successful value is kept
// next to the last error, so a failing poll never erases good data.
package poller

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-inbox/pkg/logger"
	"github.com/capitalize-ai/support-inbox/pkg/metrics"
)

// ErrStopped is returned when scheduling on a stopped scheduler.
var ErrStopped = errors.New("poller: scheduler stopped")

// Key identifies a poll task. ID is empty for singleton resources.
type Key struct {
	Kind string
	ID   string
}

// String renders the key for logs and events.
func (k Key) String() string {
	if k.ID == "" {
		return k.Kind
	}
	return k.Kind + ":" + k.ID
}

// FetchFunc loads the current value of a resource.
type FetchFunc func(ctx context.Context) (any, error)

// EqualFunc reports whether two fetched values are the same.
type EqualFunc func(a, b any) bool

// Options configures one poll task.
type Options struct {
	// Interval between scheduled fetches. Zero disables interval polling;
	// the task then only fetches on creation, Invalidate and Refresh.
	Interval time.Duration
	// Stale is the age after which Refresh fetches again.
	Stale time.Duration
	// Equal decides change detection. Defaults to reflect.DeepEqual.
	Equal EqualFunc
	// OnChange is called after a successful fetch whose value differs from
	// the previous one. The first success, and the first success after a
	// failure, always count as a change.
	OnChange func(key Key, value any)
	// OnError is called after a failed fetch.
	OnError func(key Key, err error)
}

// Snapshot is the observable state of a task.
type Snapshot struct {
	Value     any
	HasValue  bool
	Err       error
	UpdatedAt time.Time
	Fetching  bool
}

type task struct {
	key     Key
	opts    Options
	fetch   FetchFunc
	ctx     context.Context
	cancel  context.CancelFunc
	trigger chan struct{}

	mu        sync.Mutex
	value     any
	hasValue  bool
	err       error
	updatedAt time.Time
	inFlight  bool
	// pending is set when the task was invalidated during a fetch.
	pending bool
}

// Scheduler owns every poll task of one engine instance.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[Key]*task
	stopped bool
	wg      sync.WaitGroup
	log     *logger.Logger
}

// New creates a scheduler.
func New(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Global()
	}
	return &Scheduler{
		tasks: make(map[Key]*task),
		log:   log.With(zap.String("component", "poller")),
	}
}

// Schedule starts polling key. An existing task for the same key is cancelled
// and replaced; its in-flight result, if any, is discarded. The new task
// fetches immediately.
func (s *Scheduler) Schedule(key Key, opts Options, fetch FetchFunc) error {
	if opts.Equal == nil {
		opts.Equal = reflect.DeepEqual
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		key:     key,
		opts:    opts,
		fetch:   fetch,
		ctx:     ctx,
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return ErrStopped
	}
	if old, ok := s.tasks[key]; ok {
		old.cancel()
	}
	s.tasks[key] = t
	metrics.ActivePollTasks.Set(float64(len(s.tasks)))
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Debug("Poll task scheduled",
		zap.String("key", key.String()),
		zap.Duration("interval", opts.Interval),
	)

	go s.run(t)
	return nil
}

// Cancel stops the task for key. It reports whether a task existed.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.cancel()
	delete(s.tasks, key)
	metrics.ActivePollTasks.Set(float64(len(s.tasks)))
	return true
}

// CancelKind stops every task of the given kind.
func (s *Scheduler) CancelKind(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, t := range s.tasks {
		if key.Kind == kind {
			t.cancel()
			delete(s.tasks, key)
			n++
		}
	}
	metrics.ActivePollTasks.Set(float64(len(s.tasks)))
	return n
}

// Invalidate forces a fetch. When one is already in flight, a single
// follow-up fetch runs after it resolves, so the result always reflects state
// newer than the call. It returns false when the key is unknown.
func (s *Scheduler) Invalidate(key Key) bool {
	t := s.get(key)
	if t == nil {
		return false
	}
	return t.kick(true)
}

// Refresh fetches only when the last success is older than the task's stale
// window, or when there has been no success yet.
func (s *Scheduler) Refresh(key Key) bool {
	t := s.get(key)
	if t == nil {
		return false
	}

	t.mu.Lock()
	fresh := t.hasValue && time.Since(t.updatedAt) < t.opts.Stale
	t.mu.Unlock()
	if fresh {
		return false
	}
	return t.kick(false)
}

// Snapshot returns the current state of the task for key.
func (s *Scheduler) Snapshot(key Key) (Snapshot, bool) {
	t := s.get(key)
	if t == nil {
		return Snapshot{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Value:     t.value,
		HasValue:  t.hasValue,
		Err:       t.err,
		UpdatedAt: t.updatedAt,
		Fetching:  t.inFlight,
	}, true
}

// Active returns the number of live tasks.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every task and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, t := range s.tasks {
		t.cancel()
		delete(s.tasks, key)
	}
	metrics.ActivePollTasks.Set(0)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) get(key Key) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[key]
}

func (s *Scheduler) run(t *task) {
	defer s.wg.Done()

	var tick <-chan time.Time
	if t.opts.Interval > 0 {
		ticker := time.NewTicker(t.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.poll(t)
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-tick:
		case <-t.trigger:
		}
		s.poll(t)

		// Drop ticks that piled up while the fetch was running.
		select {
		case <-tick:
		default:
		}
	}
}

// kick requests a fetch. A request during a fetch is queued when follow is
// set and dropped otherwise.
func (t *task) kick(follow bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return false
	}
	if t.inFlight {
		if follow {
			t.pending = true
		}
		return follow
	}
	select {
	case t.trigger <- struct{}{}:
	default:
	}
	return true
}

func (s *Scheduler) poll(t *task) {
	if t.ctx.Err() != nil {
		return
	}

	t.mu.Lock()
	t.inFlight = true
	t.mu.Unlock()

	value, err := t.fetch(t.ctx)

	t.mu.Lock()
	t.inFlight = false
	if t.pending {
		t.pending = false
		select {
		case t.trigger <- struct{}{}:
		default:
		}
	}
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		s.log.Debug("Discarding result of cancelled poll", zap.String("key", t.key.String()))
		return
	}

	changed := false
	if err != nil {
		t.err = err
	} else {
		changed = !t.hasValue || t.err != nil || !t.opts.Equal(t.value, value)
		t.value = value
		t.hasValue = true
		t.err = nil
		t.updatedAt = time.Now()
	}
	t.mu.Unlock()

	metrics.RecordPoll(t.key.Kind, err, changed)

	if err != nil {
		s.log.Warn("Poll failed",
			zap.String("key", t.key.String()),
			zap.Error(err),
		)
		if t.opts.OnError != nil {
			t.opts.OnError(t.key, err)
		}
		return
	}
	if changed && t.opts.OnChange != nil {
		t.opts.OnChange(t.key, value)
	}
}
