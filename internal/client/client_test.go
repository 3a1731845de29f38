package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/protocol/frame"
	"github.com/danmuck/tictacd/internal/protocol/session"
	"github.com/danmuck/tictacd/internal/server"
	"github.com/danmuck/tictacd/internal/testutil/testlog"
)

func startServer(t *testing.T, capacity int, disc net.PacketConn) string {
	t.Helper()
	cfg := server.DefaultServiceConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Capacity = capacity
	cfg.Discovery.Enabled = false
	cfg.Session.SweepInterval = 20 * time.Millisecond
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc, err := server.NewService(cfg, game.FirstFree{}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Serve(ctx, ln, disc)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.ServerAddr = addr
	cfg.Discovery.Enabled = false
	cfg.Session.ReplyTimeout = 2 * time.Second
	cfg.Session.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond}
	return cfg
}

func play(t *testing.T, cfg Config, moves ...uint8) (Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var renders int
	c := New(cfg, &ScriptedSource{Moves: moves}, func(game.Board, game.Mark) { renders++ })
	out, err := c.Play(ctx)
	if err == nil && renders == 0 {
		t.Fatalf("display callback never invoked")
	}
	return out, err
}

func TestPlayWins(t *testing.T) {
	testlog.Start(t)
	addr := startServer(t, 2, nil)

	out, err := play(t, testConfig(addr), 1, 5, 4, 8, 9)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if out.Result != frame.ResultWin || out.Board.Moves() != 9 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestPlayLoses(t *testing.T) {
	testlog.Start(t)
	addr := startServer(t, 2, nil)

	out, err := play(t, testConfig(addr), 5, 9, 7)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if out.Result != frame.ResultLose {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Board[0] != game.O || out.Board[1] != game.O || out.Board[2] != game.O {
		t.Fatalf("expected server row, got %v", out.Board)
	}
}

func TestStrategySourcePlaysToTheEnd(t *testing.T) {
	testlog.Start(t)
	addr := startServer(t, 2, nil)

	c := New(testConfig(addr), StrategySource{}, nil)
	out, err := c.Play(context.Background())
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	// first-free against first-free: X takes 1 3 5 7 on the anti-diagonal
	if out.Result != frame.ResultWin {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestCannotEstablishWithoutServer(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := testConfig(addr)
	cfg.DialTimeout = 200 * time.Millisecond
	if _, err := play(t, cfg, 5); !errors.Is(err, ErrCannotEstablish) {
		t.Fatalf("expected ErrCannotEstablish, got %v", err)
	}
}

func TestEstablishGivesUpWhenServerFull(t *testing.T) {
	testlog.Start(t)
	addr := startServer(t, 1, nil)
	holder, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer holder.Close()
	if err := frame.WriteFrame(holder, frame.Message{Type: frame.TypeNewSession}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = holder.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := frame.ReadFrame(holder); err != nil {
		t.Fatalf("read: %v", err)
	}

	cfg := testConfig(addr)
	cfg.Session.MaxTry = 1
	if _, err := play(t, cfg, 5); !errors.Is(err, ErrCannotEstablish) {
		t.Fatalf("expected ErrCannotEstablish, got %v", err)
	}
}

func TestDiscoveryFallback(t *testing.T) {
	testlog.Start(t)
	disc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	startServer(t, 2, disc)

	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := dead.Addr().String()
	dead.Close()

	cfg := testConfig(deadAddr)
	cfg.Discovery.Enabled = true
	cfg.Discovery.Locator.Group = disc.LocalAddr().String()
	cfg.Discovery.Locator.Timeout = 2 * time.Second
	out, err := play(t, cfg, 5, 9, 7)
	if err != nil {
		t.Fatalf("play via discovery: %v", err)
	}
	if out.Result != frame.ResultLose {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

// fakeServer accepts connections and runs one script per connection.
func fakeServer(t *testing.T, scripts ...func(net.Conn) error) (string, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errc := make(chan error, len(scripts))
	go func() {
		defer ln.Close()
		for _, script := range scripts {
			conn, err := ln.Accept()
			if err != nil {
				errc <- err
				return
			}
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
			errc <- script(conn)
			conn.Close()
		}
	}()
	return ln.Addr().String(), errc
}

func expect(conn net.Conn, check func(frame.Message) bool) (frame.Message, error) {
	m, err := frame.ReadFrame(conn)
	if err != nil {
		return m, err
	}
	if !check(m) {
		return m, errors.New("unexpected frame: " + m.String())
	}
	return m, nil
}

func handshake(conn net.Conn, id uint8) error {
	if _, err := expect(conn, func(m frame.Message) bool { return m.Type == frame.TypeNewSession && m.Seq == 0 }); err != nil {
		return err
	}
	return frame.WriteFrame(conn, frame.Message{Type: frame.TypeMove, SessionID: id, Seq: 1})
}

func TestReplyTimeoutResendsLastFrame(t *testing.T) {
	testlog.Start(t)
	addr, errc := fakeServer(t, func(conn net.Conn) error {
		if err := handshake(conn, 2); err != nil {
			return err
		}
		first, err := expect(conn, func(m frame.Message) bool { return m.Type == frame.TypeMove && m.Choice == 5 && m.Seq == 2 && m.SessionID == 2 })
		if err != nil {
			return err
		}
		if _, err := expect(conn, func(m frame.Message) bool { return m == first }); err != nil {
			return err
		}
		return frame.WriteFrame(conn, frame.ErrorFrame(frame.FaultShutdown, 2, 3))
	})

	cfg := testConfig(addr)
	cfg.Session.ReplyTimeout = 100 * time.Millisecond
	_, err := play(t, cfg, 5)
	if !errors.Is(err, ErrSessionFault) {
		t.Fatalf("expected ErrSessionFault, got %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server script: %v", err)
	}
}

func TestReplyTimeoutCapEndsSession(t *testing.T) {
	testlog.Start(t)
	release := make(chan struct{})
	addr, _ := fakeServer(t, func(conn net.Conn) error {
		if err := handshake(conn, 0); err != nil {
			return err
		}
		<-release
		return nil
	})
	defer close(release)

	cfg := testConfig(addr)
	cfg.Session.ReplyTimeout = 50 * time.Millisecond
	cfg.Session.MaxTry = 2
	if _, err := play(t, cfg, 5); !errors.Is(err, ErrSessionFault) {
		t.Fatalf("expected ErrSessionFault, got %v", err)
	}
}

func TestReconnectAfterTransportFailure(t *testing.T) {
	testlog.Start(t)
	addr, errc := fakeServer(t,
		func(conn net.Conn) error {
			if err := handshake(conn, 4); err != nil {
				return err
			}
			// swallow the move and drop the connection
			_, err := expect(conn, func(m frame.Message) bool { return m.Choice == 5 })
			return err
		},
		func(conn net.Conn) error {
			want := [frame.Cells]uint8{0, 0, 0, 0, frame.CellMine, 0, 0, 0, 0}
			if _, err := expect(conn, func(m frame.Message) bool {
				return m.Type == frame.TypeReconnect && m.Seq == 0 && m.SessionID == 4 && m.Snapshot == want
			}); err != nil {
				return err
			}
			if err := frame.WriteFrame(conn, frame.Message{Type: frame.TypeMove, Choice: 1, SessionID: 6, Seq: 1}); err != nil {
				return err
			}
			if _, err := expect(conn, func(m frame.Message) bool {
				return m.Type == frame.TypeMove && m.Choice == 9 && m.SessionID == 6 && m.Seq == 2
			}); err != nil {
				return err
			}
			return frame.WriteFrame(conn, frame.ErrorFrame(frame.FaultShutdown, 6, 3))
		},
	)

	_, err := play(t, testConfig(addr), 5, 9)
	if !errors.Is(err, ErrSessionFault) {
		t.Fatalf("expected ErrSessionFault, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("server script %d: %v", i, err)
		}
	}
}

func TestInconsistentServerResult(t *testing.T) {
	testlog.Start(t)
	addr, errc := fakeServer(t, func(conn net.Conn) error {
		if err := handshake(conn, 0); err != nil {
			return err
		}
		if _, err := expect(conn, func(m frame.Message) bool { return m.Choice == 5 }); err != nil {
			return err
		}
		// claims a win the board does not show
		if err := frame.WriteFrame(conn, frame.Message{Type: frame.TypeMove, Choice: 1, Status: frame.StatusComplete, Modifier: uint8(frame.ResultWin), Seq: 3}); err != nil {
			return err
		}
		_, err := expect(conn, func(m frame.Message) bool { return m.Status == frame.StatusError && m.Fault() == frame.FaultMalformed })
		return err
	})

	if _, err := play(t, testConfig(addr), 5); !errors.Is(err, ErrSessionFault) {
		t.Fatalf("expected ErrSessionFault, got %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server script: %v", err)
	}
}

func TestStaleAndEarlyReplies(t *testing.T) {
	testlog.Start(t)
	addr, errc := fakeServer(t, func(conn net.Conn) error {
		if err := handshake(conn, 2); err != nil {
			return err
		}
		first, err := expect(conn, func(m frame.Message) bool { return m.Choice == 5 && m.Seq == 2 })
		if err != nil {
			return err
		}
		// the handshake reply again: the client resends its move
		if err := frame.WriteFrame(conn, frame.Message{Type: frame.TypeMove, SessionID: 2, Seq: 1}); err != nil {
			return err
		}
		if _, err := expect(conn, func(m frame.Message) bool { return m == first }); err != nil {
			return err
		}
		// a reply from the future is answered with MALFORMED
		if err := frame.WriteFrame(conn, frame.Message{Type: frame.TypeMove, Choice: 1, SessionID: 2, Seq: 9}); err != nil {
			return err
		}
		if _, err := expect(conn, func(m frame.Message) bool {
			return m.Status == frame.StatusError && m.Fault() == frame.FaultMalformed && m.Seq == 10
		}); err != nil {
			return err
		}
		return frame.WriteFrame(conn, frame.ErrorFrame(frame.FaultShutdown, 2, 3))
	})

	if _, err := play(t, testConfig(addr), 5); !errors.Is(err, ErrSessionFault) {
		t.Fatalf("expected ErrSessionFault, got %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server script: %v", err)
	}
}

func TestStaleReplyCapEndsSession(t *testing.T) {
	testlog.Start(t)
	addr, errc := fakeServer(t, func(conn net.Conn) error {
		if err := handshake(conn, 0); err != nil {
			return err
		}
		stale := frame.Message{Type: frame.TypeMove, SessionID: 0, Seq: 1}
		if _, err := expect(conn, func(m frame.Message) bool { return m.Choice == 5 }); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			if err := frame.WriteFrame(conn, stale); err != nil {
				return err
			}
		}
		// one resend, then the cap
		_, err := expect(conn, func(m frame.Message) bool { return m.Choice == 5 })
		return err
	})

	cfg := testConfig(addr)
	cfg.Session.MaxTry = 1
	if _, err := play(t, cfg, 5); !errors.Is(err, ErrSessionFault) {
		t.Fatalf("expected ErrSessionFault, got %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server script: %v", err)
	}
}
