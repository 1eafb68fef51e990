package observe

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Async hands events to a background goroutine. Observe never blocks: when
// the buffer is full the event is dropped and counted.
type Async struct {
	next    Observer
	logger  zerolog.Logger
	events  chan Event
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Observer, buffer int, logger zerolog.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		next:   next,
		logger: logger,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer close(a.done)
	for e := range a.events {
		deliver(a.next, e, a.logger)
	}
}

func (a *Async) Observe(e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- e:
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			a.logger.Warn().Uint64("dropped", n).Msg("observer buffer full, dropping events")
		}
	}
}

// Dropped reports how many events were discarded.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting events and waits until the buffered ones are
// delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()
	<-a.done
}
