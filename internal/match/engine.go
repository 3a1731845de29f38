package match

import (
	"time"

	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/observability"
	"github.com/danmuck/tictacd/internal/protocol/frame"
	"github.com/danmuck/tictacd/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Engine applies inbound frames to the sessions of a Table. The server
// plays O and the client X.
type Engine struct {
	table    *Table
	strategy game.Strategy
	observer Observer
}

func NewEngine(t *Table, strategy game.Strategy) *Engine {
	if strategy == nil {
		strategy = game.FirstFree{}
	}
	return &Engine{table: t, strategy: strategy, observer: t.observer}
}

func (e *Engine) Table() *Table {
	return e.table
}

// Handle processes one inbound frame for s. decodeErr is the error Decode
// returned for m, if any. A write failure while replying releases the slot.
func (e *Engine) Handle(s *Session, m frame.Message, decodeErr error, now time.Time) {
	if !s.Allocated() {
		return
	}
	observability.RecordFrameIn(m.Type.String())
	e.dispatch(s, m, decodeErr, now)
	if err := s.takeWriteErr(); err != nil && s.Allocated() {
		log.Warn().Err(err).Uint8("session", s.id).Msg("reply failed")
		e.table.Release(s.id, ReasonTransport)
	}
}

// Disconnected releases s after its peer closed the stream or a read failed.
func (e *Engine) Disconnected(s *Session, err error) {
	if !s.Allocated() {
		return
	}
	reason := ReasonDisconnect
	if err != nil {
		reason = ReasonTransport
		log.Debug().Err(err).Uint8("session", s.id).Msg("read failed")
	}
	e.table.Release(s.id, reason)
}

func (e *Engine) dispatch(s *Session, m frame.Message, decodeErr error, now time.Time) {
	if decodeErr != nil {
		log.Debug().Err(decodeErr).Uint8("session", s.id).Msg("undecodable frame")
		e.malformed(s, m)
		return
	}
	if s.phase == PhaseAwaitingHello {
		e.hello(s, m, now)
		return
	}
	// A repeated handshake cannot know its slot yet; the ladder sorts it out.
	handshake := m.Type == frame.TypeNewSession || m.Type == frame.TypeReconnect
	if !handshake && m.SessionID != s.id {
		log.Debug().Uint8("session", s.id).Uint8("claimed", m.SessionID).Msg("session id mismatch")
		e.malformed(s, m)
		return
	}

	switch order := s.ladder.Classify(m.Seq); order {
	case session.Duplicate:
		observability.RecordSequenceViolation(order.String())
		e.duplicate(s, m, now)
		return
	case session.OutOfOrder:
		observability.RecordSequenceViolation(order.String())
		log.Debug().Uint8("session", s.id).Uint8("seq", m.Seq).Uint8("expected", s.ladder.Expected()).Msg("out of order")
		e.malformed(s, m)
		return
	}

	if m.Status == frame.StatusError {
		log.Info().Uint8("session", s.id).Str("fault", m.Fault().String()).Msg("peer reported error")
		e.table.Release(s.id, ReasonPeerError)
		return
	}
	if err := m.Validate(); err != nil {
		log.Debug().Err(err).Uint8("session", s.id).Msg("invalid frame")
		e.malformed(s, m)
		return
	}

	switch m.Type {
	case frame.TypeMove:
		e.move(s, m, now)
	case frame.TypeEndSession:
		e.endSession(s, m, now)
	default:
		log.Debug().Uint8("session", s.id).Str("type", m.Type.String()).Msg("handshake on established session")
		e.malformed(s, m)
	}
}

// hello handles the first frame of a slot, which must open or resume a match.
func (e *Engine) hello(s *Session, m frame.Message, now time.Time) {
	if order := s.ladder.Classify(m.Seq); order != session.InOrder {
		observability.RecordSequenceViolation(order.String())
		e.malformed(s, m)
		return
	}
	if err := m.Validate(); err != nil {
		log.Debug().Err(err).Uint8("session", s.id).Msg("invalid handshake")
		e.malformed(s, m)
		return
	}
	switch m.Type {
	case frame.TypeNewSession:
		seq := s.ladder.Accept(m.Seq)
		s.retry.Reset()
		s.touch(now)
		s.phase = PhaseAwaitingMove
		log.Info().Uint8("session", s.id).Str("remote", s.remote()).Msg("match started")
		s.send(frame.Message{
			Status:    frame.StatusOngoing,
			Type:      frame.TypeMove,
			SessionID: s.id,
			Seq:       seq,
		}, true)
	case frame.TypeReconnect:
		e.reconnect(s, m, now)
	default:
		e.malformed(s, m)
	}
}

func (e *Engine) reconnect(s *Session, m frame.Message, now time.Time) {
	b, err := game.FromSnapshot(m.Snapshot, game.X)
	if err == nil {
		err = b.Legal()
	}
	if err != nil {
		log.Debug().Err(err).Uint8("session", s.id).Msg("rejected reconnect snapshot")
		e.malformed(s, m)
		return
	}

	s.board = b
	s.ladder.Reset(session.ServerBaseline)
	seq := s.ladder.Accept(m.Seq)
	s.retry.Reset()
	s.touch(now)
	e.observer.BoardChanged(s.id, s.board, game.O)
	log.Info().
		Uint8("session", s.id).
		Uint8("previous", m.SessionID).
		Str("board", BoardString(b)).
		Msg("match resumed")

	reply := frame.Message{Type: frame.TypeMove, SessionID: s.id, Seq: seq}
	switch {
	case game.Evaluate(b, game.O) == game.Win:
		reply.Status = frame.StatusComplete
		reply.Modifier = uint8(frame.ResultWin)
		s.phase = PhaseAwaitingEnd
	case game.Evaluate(b, game.X) == game.Win:
		e.finish(s, seq, frame.ResultLose)
		return
	case game.Evaluate(b, game.X) == game.Draw:
		e.finish(s, seq, frame.ResultDraw)
		return
	case b.ToMove() == game.O:
		e.counterMove(s, seq)
		return
	default:
		s.phase = PhaseAwaitingMove
	}
	s.send(reply, true)
}

func (e *Engine) move(s *Session, m frame.Message, now time.Time) {
	if s.phase == PhaseAwaitingEnd {
		log.Debug().Uint8("session", s.id).Msg("move after terminal board")
		e.protocolError(s, m)
		return
	}
	if !game.IsValidMove(s.board, m.Choice) {
		log.Debug().Uint8("session", s.id).Uint8("choice", m.Choice).Msg("invalid move")
		e.malformed(s, m)
		return
	}

	seq := s.ladder.Accept(m.Seq)
	s.retry.Reset()
	s.touch(now)
	_ = s.board.Place(m.Choice, game.X)
	e.observer.BoardChanged(s.id, s.board, game.O)
	outcome := game.Evaluate(s.board, game.X)

	switch m.Status {
	case frame.StatusOngoing:
		if outcome.Terminal() {
			log.Debug().Uint8("session", s.id).Str("outcome", outcome.String()).Msg("peer missed terminal board")
			e.protocolError(s, m)
			return
		}
		e.counterMove(s, seq)
	case frame.StatusComplete:
		if !outcome.Terminal() || resultOf(outcome) != m.Result() {
			log.Debug().
				Uint8("session", s.id).
				Str("claimed", m.Result().String()).
				Str("local", outcome.String()).
				Msg("terminal result mismatch")
			e.protocolError(s, m)
			return
		}
		if outcome == game.Win {
			e.finish(s, seq, frame.ResultLose)
		} else {
			e.finish(s, seq, frame.ResultDraw)
		}
	}
}

// counterMove plays the server's mark and replies with it.
func (e *Engine) counterMove(s *Session, seq uint8) {
	choice := e.strategy.Choose(s.board, game.O)
	if !game.IsValidMove(s.board, choice) {
		choice = game.ChooseMove(s.board)
	}
	_ = s.board.Place(choice, game.O)
	e.observer.BoardChanged(s.id, s.board, game.O)

	reply := frame.Message{
		Choice:    choice,
		Status:    frame.StatusOngoing,
		Type:      frame.TypeMove,
		SessionID: s.id,
		Seq:       seq,
	}
	s.phase = PhaseAwaitingMove
	if outcome := game.Evaluate(s.board, game.O); outcome.Terminal() {
		reply.Status = frame.StatusComplete
		reply.Modifier = uint8(resultOf(outcome))
		s.phase = PhaseAwaitingEnd
	}
	s.send(reply, true)
}

func (e *Engine) endSession(s *Session, m frame.Message, now time.Time) {
	outcome := game.Evaluate(s.board, game.X)
	if outcome != game.Lose && outcome != game.Draw {
		log.Debug().Uint8("session", s.id).Str("local", outcome.String()).Msg("premature end session")
		e.protocolError(s, m)
		return
	}
	if m.Status != frame.StatusComplete || m.Result() != resultOf(outcome) {
		log.Debug().
			Uint8("session", s.id).
			Str("status", m.Status.String()).
			Str("claimed", m.Result().String()).
			Str("local", outcome.String()).
			Msg("end session result mismatch")
		e.protocolError(s, m)
		return
	}
	s.ladder.Accept(m.Seq)
	s.touch(now)
	e.table.Release(s.id, ReasonCompleted)
}

// finish acknowledges a finished match and frees the slot.
func (e *Engine) finish(s *Session, seq uint8, result frame.Result) {
	s.send(frame.Message{
		Status:    frame.StatusComplete,
		Modifier:  uint8(result),
		Type:      frame.TypeEndSession,
		SessionID: s.id,
		Seq:       seq,
	}, true)
	e.table.Release(s.id, ReasonCompleted)
}

func (e *Engine) duplicate(s *Session, m frame.Message, now time.Time) {
	switch s.retry.OnDuplicate() {
	case session.Resend:
		log.Debug().Uint8("session", s.id).Uint8("seq", m.Seq).Int("count", s.retry.Count()).Msg("duplicate, resending last frame")
		s.write(s.retry.Last())
		s.touch(now)
		observability.RecordResend("duplicate")
	case session.Evict:
		log.Info().Uint8("session", s.id).Msg("duplicate retry cap reached")
		e.table.Release(s.id, ReasonRetryCap)
	}
}

// malformed answers with ERROR/MALFORMED and leaves the session untouched.
func (e *Engine) malformed(s *Session, m frame.Message) {
	s.send(frame.ErrorFrame(frame.FaultMalformed, s.id, session.ReplySeq(m.Seq)), false)
}

// protocolError answers with ERROR/MALFORMED and tears the session down.
func (e *Engine) protocolError(s *Session, m frame.Message) {
	e.malformed(s, m)
	e.table.Release(s.id, ReasonProtocol)
}

func resultOf(o game.Outcome) frame.Result {
	switch o {
	case game.Win:
		return frame.ResultWin
	case game.Lose:
		return frame.ResultLose
	case game.Draw:
		return frame.ResultDraw
	default:
		return frame.ResultNone
	}
}
