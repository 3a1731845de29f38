package match

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/observability"
	"github.com/danmuck/tictacd/internal/protocol/frame"
	"github.com/danmuck/tictacd/internal/protocol/session"
)

// Endpoint is the transport a session replies on.
type Endpoint interface {
	Send(b []byte) error
	Close() error
	RemoteAddr() string
}

type Phase int

const (
	PhaseFree Phase = iota
	PhaseAwaitingHello
	PhaseAwaitingMove
	PhaseAwaitingEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseFree:
		return "free"
	case PhaseAwaitingHello:
		return "awaiting_hello"
	case PhaseAwaitingMove:
		return "awaiting_move"
	case PhaseAwaitingEnd:
		return "awaiting_end"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Session is one slot of the Table.
type Session struct {
	id           uint8
	generation   uint64
	endpoint     Endpoint
	phase        Phase
	ladder       session.Ladder
	retry        *session.Retransmitter
	board        game.Board
	started      time.Time
	lastActivity time.Time
	writeErr     error
}

func newSession(id uint8, maxTry int) *Session {
	return &Session{
		id:     id,
		ladder: session.NewLadder(session.ServerBaseline),
		retry:  session.NewRetransmitter(maxTry),
	}
}

func (s *Session) ID() uint8 { return s.id }
func (s *Session) Generation() uint64 { return s.generation }
func (s *Session) Phase() Phase { return s.phase }
func (s *Session) Board() game.Board { return s.board }
func (s *Session) Expected() uint8 { return s.ladder.Expected() }
func (s *Session) ResendCount() int { return s.retry.Count() }
func (s *Session) LastActivity() time.Time { return s.lastActivity }
func (s *Session) Allocated() bool { return s.phase != PhaseFree }
func (s *Session) LastSent() []byte { return s.retry.Last() }
func (s *Session) Endpoint() Endpoint { return s.endpoint }

func (s *Session) remote() string {
	if s.endpoint == nil {
		return ""
	}
	return s.endpoint.RemoteAddr()
}

func (s *Session) touch(now time.Time) {
	s.lastActivity = now
}

// send writes m and, when remember is set, caches it for retransmission.
// Write failures are kept on the session and handled by the caller.
func (s *Session) send(m frame.Message, remember bool) {
	b := frame.Encode(m)
	if remember {
		s.retry.Remember(b)
	}
	s.write(b)
	observability.RecordFrameOut(m.Type.String(), m.Status.String())
}

func (s *Session) write(b []byte) {
	if s.endpoint == nil || s.writeErr != nil {
		return
	}
	if err := s.endpoint.Send(b); err != nil {
		s.writeErr = err
	}
}

func (s *Session) takeWriteErr() error {
	err := s.writeErr
	s.writeErr = nil
	return err
}

func (s *Session) reset() {
	s.endpoint = nil
	s.phase = PhaseFree
	s.ladder.Reset(session.ServerBaseline)
	s.retry.Clear()
	s.board = game.Board{}
	s.started = time.Time{}
	s.lastActivity = time.Time{}
	s.writeErr = nil
	s.generation++
}

// SessionInfo is a read-only view of an allocated slot.
type SessionInfo struct {
	ID           uint8     `json:"id"`
	Generation   uint64    `json:"generation"`
	Phase        string    `json:"phase"`
	Remote       string    `json:"remote"`
	Expected     uint8     `json:"expected_seq"`
	ResendCount  int       `json:"resend_count"`
	Moves        int       `json:"moves"`
	Board        string    `json:"board"`
	Started      time.Time `json:"started"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:           s.id,
		Generation:   s.generation,
		Phase:        s.phase.String(),
		Remote:       s.remote(),
		Expected:     s.ladder.Expected(),
		ResendCount:  s.retry.Count(),
		Moves:        s.board.Moves(),
		Board:        BoardString(s.board),
		Started:      s.started,
		LastActivity: s.lastActivity,
	}
}

// BoardString renders a board as nine characters, '.' for empty cells.
func BoardString(b game.Board) string {
	var sb strings.Builder
	for _, c := range b {
		if c == game.Empty {
			sb.WriteByte('.')
			continue
		}
		sb.WriteString(c.String())
	}
	return sb.String()
}
