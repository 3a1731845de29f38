package match

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/protocol/frame"
	"github.com/danmuck/tictacd/internal/protocol/session"
)

var errBrokenPipe = errors.New("broken pipe")

type fakeEndpoint struct {
	frames  [][]byte
	closed  bool
	sendErr error
}

func (f *fakeEndpoint) Send(b []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, append([]byte(nil), b...))
	return nil
}

func (f *fakeEndpoint) Close() error {
	f.closed = true
	return nil
}

func (f *fakeEndpoint) RemoteAddr() string {
	return "127.0.0.1:40000"
}

func (f *fakeEndpoint) last(t *testing.T) frame.Message {
	t.Helper()
	if len(f.frames) == 0 {
		t.Fatalf("no frames sent")
	}
	m, err := frame.Decode(f.frames[len(f.frames)-1])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return m
}

type recorder struct {
	boards []game.Board
	ended  []Result
}

func (r *recorder) BoardChanged(_ uint8, b game.Board, _ game.Mark) {
	r.boards = append(r.boards, b)
}

func (r *recorder) SessionEnded(res Result) {
	r.ended = append(r.ended, res)
}

type harness struct {
	t      *testing.T
	table  *Table
	engine *Engine
	obs    *recorder
	now    time.Time
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.SessionTimeout = 10 * time.Second
	return cfg
}

func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()
	obs := &recorder{}
	table, err := NewTable(capacity, testConfig(), obs)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	return &harness{
		t:      t,
		table:  table,
		engine: NewEngine(table, game.FirstFree{}),
		obs:    obs,
		now:    time.Unix(1700000000, 0),
	}
}

func (h *harness) connect() (*Session, *fakeEndpoint) {
	h.t.Helper()
	ep := &fakeEndpoint{}
	s, err := h.table.Allocate(ep, h.now)
	if err != nil {
		h.t.Fatalf("allocate: %v", err)
	}
	return s, ep
}

func (h *harness) send(s *Session, m frame.Message) {
	h.t.Helper()
	m.Version = frame.Version
	h.engine.Handle(s, m, nil, h.now)
}

// start opens a match and returns the session after the handshake reply.
func (h *harness) start() (*Session, *fakeEndpoint) {
	h.t.Helper()
	s, ep := h.connect()
	h.send(s, frame.Message{Type: frame.TypeNewSession})
	return s, ep
}

func move(id, choice, seq uint8) frame.Message {
	return frame.Message{Type: frame.TypeMove, Choice: choice, SessionID: id, Seq: seq}
}

func complete(id, choice, seq uint8, r frame.Result) frame.Message {
	return frame.Message{
		Type:      frame.TypeMove,
		Choice:    choice,
		Status:    frame.StatusComplete,
		Modifier:  uint8(r),
		SessionID: id,
		Seq:       seq,
	}
}

func reconnect(cells string) frame.Message {
	var snap [frame.Cells]uint8
	for i, r := range cells {
		switch r {
		case 'X':
			snap[i] = frame.CellMine
		case 'O':
			snap[i] = frame.CellOpponent
		}
	}
	return frame.Message{Type: frame.TypeReconnect, SessionID: 7, Snapshot: snap}
}

func expectError(t *testing.T, m frame.Message, fault frame.Fault, seq uint8) {
	t.Helper()
	if m.Status != frame.StatusError || m.Fault() != fault || m.Seq != seq {
		t.Fatalf("expected error %s seq=%d, got %s", fault, seq, m)
	}
}
