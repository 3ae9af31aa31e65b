package reactor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type watchKind uint8

const (
	kindWatch watchKind = iota
	kindTimer
	kindIdle
)

type entry struct {
	handle   Handle
	kind     watchKind
	ch       Channel
	cond     Condition
	fn       Callback
	interval time.Duration
	deadline time.Time
	removed  bool
}

// Iterator runs one loop iteration. block tells whether the iteration may wait for events.
// It returns whether any callback was dispatched.
type Iterator func(l *Loop, block bool) bool

// LoopOption configures a [Loop].
type LoopOption func(*Loop)

// WithIterator replaces the iteration strategy of the loop. Custom strategies can wrap [*Loop.Iterate].
func WithIterator(it Iterator) LoopOption {
	return func(l *Loop) {
		l.iterator = it
	}
}

// WithClock replaces time.Now. Tests use it to control timers.
func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) {
		l.now = now
	}
}

// Loop is a level triggered event loop that implements [Reactor].
//
// Only [Loop.Invoke], [Loop.Quit] and [Loop.Wakeup] may get called from other goroutines.
// Everything else has to run on the loop goroutine (e.g. inside callbacks or before Run).
type Loop struct {
	entries  []*entry
	next     Handle
	iterator Iterator
	now      func() time.Time

	wake    chan struct{}
	quit    atomic.Bool
	mu      sync.Mutex
	invokes []func()
}

// NewLoop returns a ready to use Loop.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.iterator == nil {
		l.iterator = (*Loop).Iterate
	}
	return l
}

var _ Reactor = (*Loop)(nil)

func (l *Loop) add(e *entry) Handle {
	l.next++
	e.handle = l.next
	l.entries = append(l.entries, e)
	return e.handle
}

func (l *Loop) watch(ch Channel, cond Condition, fn Callback) Handle {
	ch.SetWaker(l.Wakeup)
	return l.add(&entry{kind: kindWatch, ch: ch, cond: cond, fn: fn})
}

// WatchReadable calls fn whenever ch is readable.
func (l *Loop) WatchReadable(ch Channel, fn Callback) Handle {
	return l.watch(ch, CondIn, fn)
}

// WatchWritable calls fn whenever ch accepts writes.
func (l *Loop) WatchWritable(ch Channel, fn Callback) Handle {
	return l.watch(ch, CondOut, fn)
}

// WatchError calls fn when ch broke.
func (l *Loop) WatchError(ch Channel, fn Callback) Handle {
	return l.watch(ch, CondErr, fn)
}

// WatchFlushed calls fn while the output queue of ch is empty.
func (l *Loop) WatchFlushed(ch Channel, fn Callback) Handle {
	return l.watch(ch, CondFlushed, fn)
}

// AddTimer calls fn every interval.
func (l *Loop) AddTimer(interval time.Duration, fn Callback) Handle {
	return l.add(&entry{kind: kindTimer, fn: fn, interval: interval, deadline: l.now().Add(interval)})
}

// AddIdle calls fn when nothing else is pending.
func (l *Loop) AddIdle(fn Callback) Handle {
	return l.add(&entry{kind: kindIdle, fn: fn})
}

// Remove unregisters h. Unknown or already removed handles are ignored.
func (l *Loop) Remove(h Handle) {
	if h == 0 {
		return
	}
	for _, e := range l.entries {
		if e.handle == h {
			e.removed = true
			return
		}
	}
}

// Len returns the number of registered watches, timers and idle callbacks.
func (l *Loop) Len() int {
	n := 0
	for _, e := range l.entries {
		if !e.removed {
			n++
		}
	}
	return n
}

// Invoke schedules fn to run on the loop goroutine. It is safe to call from any goroutine.
func (l *Loop) Invoke(fn func()) {
	l.mu.Lock()
	l.invokes = append(l.invokes, fn)
	l.mu.Unlock()
	l.Wakeup()
}

// Wakeup interrupts a blocking iteration. It is safe to call from any goroutine.
func (l *Loop) Wakeup() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Quit makes Run return after the current iteration. It is safe to call from any goroutine.
func (l *Loop) Quit() {
	l.quit.Store(true)
	l.Wakeup()
}

// Run iterates until Quit gets called or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.quit.Store(false)
	stop := context.AfterFunc(ctx, l.Quit)
	defer stop()
	for !l.quit.Load() {
		l.iterator(l, true)
	}
	return ctx.Err()
}

// RunUntil iterates until done returns true, Quit gets called or ctx is done.
func (l *Loop) RunUntil(ctx context.Context, done func() bool) error {
	l.quit.Store(false)
	stop := context.AfterFunc(ctx, l.Quit)
	defer stop()
	for !done() && !l.quit.Load() {
		l.iterator(l, true)
	}
	return ctx.Err()
}

// Iterate runs one iteration of the default strategy:
// queued Invoke functions, ready watches and due timers, idle callbacks when nothing else ran.
// With block set it waits for a wakeup or the next timer when nothing is ready.
func (l *Loop) Iterate(block bool) bool {
	dispatched := l.dispatch()
	if dispatched || !block || l.quit.Load() {
		l.compact()
		return dispatched
	}

	var timeout <-chan time.Time
	if d, ok := l.nextTimer(); ok {
		if d <= 0 {
			d = time.Millisecond
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-l.wake:
	case <-timeout:
	}
	dispatched = l.dispatch()
	l.compact()
	return dispatched
}

func (l *Loop) dispatch() bool {
	dispatched := l.runInvokes()

	now := l.now()
	// snapshot: callbacks may add or remove entries
	snapshot := append([]*entry(nil), l.entries...)
	var ready []*entry
	for _, e := range snapshot {
		if e.removed {
			continue
		}
		switch e.kind {
		case kindWatch:
			if e.ch.Poll()&e.cond != 0 {
				ready = append(ready, e)
			}
		case kindTimer:
			if !now.Before(e.deadline) {
				ready = append(ready, e)
			}
		}
	}
	for _, e := range ready {
		if e.removed {
			continue
		}
		if e.kind == kindTimer {
			e.deadline = now.Add(e.interval)
		}
		dispatched = true
		if !e.fn() {
			e.removed = true
		}
	}
	if dispatched {
		return true
	}
	for _, e := range snapshot {
		if e.removed || e.kind != kindIdle {
			continue
		}
		dispatched = true
		if !e.fn() {
			e.removed = true
		}
	}
	return dispatched
}

func (l *Loop) runInvokes() bool {
	l.mu.Lock()
	invokes := l.invokes
	l.invokes = nil
	l.mu.Unlock()
	for _, fn := range invokes {
		fn()
	}
	return len(invokes) > 0
}

func (l *Loop) nextTimer() (time.Duration, bool) {
	var next time.Time
	found := false
	for _, e := range l.entries {
		if e.removed || e.kind != kindTimer {
			continue
		}
		if !found || e.deadline.Before(next) {
			next = e.deadline
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return next.Sub(l.now()), true
}

func (l *Loop) compact() {
	kept := l.entries[:0]
	for _, e := range l.entries {
		if !e.removed {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = kept
}
