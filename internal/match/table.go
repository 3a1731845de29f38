package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/observability"
	"github.com/danmuck/tictacd/internal/protocol/frame"
	"github.com/danmuck/tictacd/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCapacity = 10
	MaxCapacity     = 256
)

var (
	ErrNoCapacity      = errors.New("match: no free session slot")
	ErrInvalidCapacity = errors.New("match: invalid capacity")
)

// SweepEvent records what the idle sweep did to one session.
type SweepEvent struct {
	ID     uint8
	Action session.Action
}

// Table is a fixed set of session slots. Slot index is the session id.
type Table struct {
	cfg      session.Config
	slots    []*Session
	observer Observer
	active   int
}

func NewTable(capacity int, cfg session.Config, observer Observer) (*Table, error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if observer == nil {
		observer = NopObserver{}
	}
	cfg = cfg.WithDefaults()
	t := &Table{
		cfg:      cfg,
		slots:    make([]*Session, capacity),
		observer: observer,
	}
	for i := range t.slots {
		t.slots[i] = newSession(uint8(i), cfg.MaxTry)
	}
	return t, nil
}

func (t *Table) Capacity() int {
	return len(t.slots)
}

func (t *Table) Active() int {
	return t.active
}

func (t *Table) Config() session.Config {
	return t.cfg
}

// Allocate binds ep to the first free slot.
func (t *Table) Allocate(ep Endpoint, now time.Time) (*Session, error) {
	for _, s := range t.slots {
		if s.Allocated() {
			continue
		}
		s.endpoint = ep
		s.phase = PhaseAwaitingHello
		s.started = now
		s.lastActivity = now
		t.active++
		observability.SetActiveSessions(t.active)
		log.Debug().Uint8("session", s.id).Str("remote", s.remote()).Msg("slot allocated")
		return s, nil
	}
	return nil, ErrNoCapacity
}

// Lookup returns the allocated session with id.
func (t *Table) Lookup(id uint8) (*Session, bool) {
	if int(id) >= len(t.slots) {
		return nil, false
	}
	s := t.slots[id]
	if !s.Allocated() {
		return nil, false
	}
	return s, true
}

// Release closes the session's endpoint and returns its slot to the pool.
func (t *Table) Release(id uint8, reason Reason) {
	s, ok := t.Lookup(id)
	if !ok {
		return
	}
	result := Result{
		ID:      s.id,
		Remote:  s.remote(),
		Reason:  reason,
		Outcome: game.Evaluate(s.board, game.O),
		Moves:   s.board.Moves(),
		Board:   s.board,
		Started: s.started,
		Ended:   time.Now(),
	}
	if s.endpoint != nil {
		if err := s.endpoint.Close(); err != nil {
			log.Debug().Err(err).Uint8("session", s.id).Msg("close endpoint")
		}
	}
	s.reset()
	t.active--
	observability.SetActiveSessions(t.active)
	observability.RecordRelease(string(reason))
	if reason == ReasonCompleted {
		observability.RecordResult(result.Outcome.String())
	}
	log.Info().
		Uint8("session", id).
		Str("reason", string(reason)).
		Str("outcome", result.Outcome.String()).
		Int("moves", result.Moves).
		Msg("session released")
	t.observer.SessionEnded(result)
}

// SweepIdle resends or evicts every session idle for at least the session
// timeout. Resends and duplicates share the retry cap.
func (t *Table) SweepIdle(now time.Time) []SweepEvent {
	var events []SweepEvent
	for _, s := range t.slots {
		if !s.Allocated() || now.Sub(s.lastActivity) < t.cfg.SessionTimeout {
			continue
		}
		action := s.retry.OnTimeout()
		switch action {
		case session.Resend:
			log.Debug().Uint8("session", s.id).Int("count", s.retry.Count()).Msg("idle, resending last frame")
			s.write(s.retry.Last())
			s.touch(now)
			observability.RecordResend("timeout")
			if err := s.takeWriteErr(); err != nil {
				t.Release(s.id, ReasonTransport)
			}
		case session.Evict:
			s.send(frame.ErrorFrame(frame.FaultTimeout, s.id, t.closingSeq(s)), false)
			t.Release(s.id, ReasonTimeout)
		}
		events = append(events, SweepEvent{ID: s.id, Action: action})
	}
	return events
}

// Shutdown announces the shutdown to every peer and releases all slots.
func (t *Table) Shutdown() {
	for _, s := range t.slots {
		if !s.Allocated() {
			continue
		}
		s.send(frame.ErrorFrame(frame.FaultShutdown, s.id, t.closingSeq(s)), false)
		t.Release(s.id, ReasonShutdown)
	}
}

// closingSeq numbers an unsolicited error frame. After the handshake it
// repeats the sequence number of the last reply; before it, the number a
// handshake reply would carry.
func (t *Table) closingSeq(s *Session) uint8 {
	if s.phase == PhaseAwaitingHello {
		return session.ClientBaseline
	}
	return s.ladder.Expected() - 1
}

// Snapshot lists allocated sessions in slot order.
func (t *Table) Snapshot() []SessionInfo {
	out := make([]SessionInfo, 0, t.active)
	for _, s := range t.slots {
		if s.Allocated() {
			out = append(out, s.info())
		}
	}
	return out
}
