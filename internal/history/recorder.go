package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/match"
	"github.com/rs/zerolog/log"
)

const (
	DefaultQueueDepth   = 64
	DefaultWriteTimeout = 2 * time.Second
)

// Recorder is a match.Observer that writes session results to a Store from
// its own goroutine. SessionEnded never blocks: when the queue is full the
// result is dropped and counted.
type Recorder struct {
	store   *Store
	queue   chan match.Result
	timeout time.Duration
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64
}

var _ match.Observer = (*Recorder)(nil)

func NewRecorder(store *Store, depth int) *Recorder {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	r := &Recorder{
		store:   store,
		queue:   make(chan match.Result, depth),
		timeout: DefaultWriteTimeout,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) BoardChanged(uint8, game.Board, game.Mark) {}

func (r *Recorder) SessionEnded(res match.Result) {
	if r.closed.Load() {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- res:
	default:
		r.dropped.Add(1)
		log.Warn().Uint8("session", res.ID).Msg("history queue full, result dropped")
	}
}

// Dropped reports how many results never reached the store.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

// Close stops accepting results and waits for queued ones to be written.
// It must not race with SessionEnded; the server calls it after Run returns.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.queue)
	})
	<-r.done
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for res := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.store.Record(ctx, res)
		cancel()
		if err != nil {
			r.dropped.Add(1)
			log.Error().Err(err).Uint8("session", res.ID).Msg("history write failed")
			continue
		}
		r.written.Add(1)
	}
}
