// Package client plays the X side of a match against a tictacd server.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/protocol/discovery"
	"github.com/danmuck/tictacd/internal/protocol/frame"
	"github.com/danmuck/tictacd/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrCannotEstablish = errors.New("client: cannot establish session")
	ErrSessionFault    = errors.New("client: session ended: error")
)

// Outcome is a finished match, seen from the client.
type Outcome struct {
	Result    frame.Result
	SessionID uint8
	Board     game.Board
}

// Client runs one match at a time. It is not safe for concurrent use.
type Client struct {
	cfg     Config
	moves   MoveSource
	display Display
	rng     *rand.Rand

	conn      net.Conn
	ladder    session.Ladder
	retry     *session.Retransmitter
	board     game.Board
	sessionID uint8
}

func New(cfg Config, moves MoveSource, display Display) *Client {
	cfg = cfg.withDefaults()
	if display == nil {
		display = func(game.Board, game.Mark) {}
	}
	return &Client{
		cfg:     cfg,
		moves:   moves,
		display: display,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		ladder:  session.NewLadder(session.ClientBaseline),
		retry:   session.NewRetransmitter(cfg.Session.MaxTry),
	}
}

// Play opens a match and runs it to completion. The error is ErrCannotEstablish
// or ErrSessionFault (wrapped), or the move source's error.
func (c *Client) Play(ctx context.Context) (Outcome, error) {
	defer c.drop()
	c.board = game.Board{}
	if err := c.establish(ctx); err != nil {
		return Outcome{}, err
	}
	c.display(c.board, game.X)

	for {
		choice, err := c.moves.NextMove(ctx, c.board)
		if err != nil {
			return Outcome{}, err
		}
		if !game.IsValidMove(c.board, choice) {
			log.Warn().Uint8("choice", choice).Msg("move source offered an unusable cell")
			continue
		}
		_ = c.board.Place(choice, game.X)
		c.display(c.board, game.X)

		m := frame.Message{
			Choice:    choice,
			Status:    frame.StatusOngoing,
			Type:      frame.TypeMove,
			SessionID: c.sessionID,
			Seq:       c.nextSeq(),
		}
		if mine := game.Evaluate(c.board, game.X); mine.Terminal() {
			m.Status = frame.StatusComplete
			m.Modifier = uint8(resultOf(mine))
		}
		reply, err := c.exchange(ctx, m)
		if err != nil {
			return Outcome{}, err
		}
		out, done, err := c.apply(reply)
		if err != nil || done {
			return out, err
		}
	}
}

// establish sends NewSession until the server opens a slot. Refusals that
// invite a retry re-dial after a backoff; the total number of sends is
// bounded by MaxTry+1.
func (c *Client) establish(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Session.MaxTry+1; attempt++ {
		if attempt > 1 {
			if err := c.waitBackoff(ctx, attempt-1); err != nil {
				return err
			}
		}
		if c.conn == nil {
			if err := c.connect(ctx); err != nil {
				lastErr = err
				continue
			}
		}
		c.ladder.Reset(session.ClientBaseline)
		if err := c.send(frame.Message{Type: frame.TypeNewSession}); err != nil {
			c.drop()
			lastErr = err
			continue
		}
		reply, err := c.await(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !isTimeout(err) {
				c.drop()
			}
			lastErr = err
			continue
		}
		if reply.Status == frame.StatusError {
			if reply.Fault().Retryable() {
				log.Info().Int("attempt", attempt).Str("fault", reply.Fault().String()).Msg("server refused session")
				c.drop()
				lastErr = fmt.Errorf("server refused: %s", reply.Fault())
				continue
			}
			return fmt.Errorf("%w: %s", ErrSessionFault, reply.Fault())
		}
		c.sessionID = reply.SessionID
		log.Info().Uint8("session", c.sessionID).Str("server", c.conn.RemoteAddr().String()).Msg("session established")
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCannotEstablish, lastErr)
}

// exchange sends m and waits for its in-order reply, resending on reply
// timeouts and resuming over a fresh connection on transport failure.
func (c *Client) exchange(ctx context.Context, m frame.Message) (frame.Message, error) {
	c.retry.Reset()
	if err := c.send(m); err != nil {
		return c.reconnect(ctx, err)
	}
	for {
		reply, err := c.await(ctx)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return frame.Message{}, ctx.Err()
		}
		if errors.Is(err, ErrSessionFault) {
			return frame.Message{}, err
		}
		if !isTimeout(err) {
			return c.reconnect(ctx, err)
		}
		if c.retry.OnTimeout() != session.Resend {
			return frame.Message{}, fmt.Errorf("%w: %s", ErrSessionFault, frame.FaultTimeout)
		}
		log.Debug().Uint8("seq", m.Seq).Int("count", c.retry.Count()).Msg("no reply, resending")
		if err := c.write(c.retry.Last()); err != nil {
			return c.reconnect(ctx, err)
		}
	}
}

// reconnect re-dials and resumes the match from the cached board. The
// board already holds the move whose reply was lost, so the server's answer
// to RECONNECT stands in for that reply.
func (c *Client) reconnect(ctx context.Context, cause error) (frame.Message, error) {
	log.Warn().Err(cause).Uint8("session", c.sessionID).Msg("connection lost, resuming")
	c.drop()
	for attempt := 1; attempt <= c.cfg.MaxRedials; attempt++ {
		if err := c.waitBackoff(ctx, attempt); err != nil {
			return frame.Message{}, err
		}
		if err := c.connect(ctx); err != nil {
			continue
		}
		c.ladder.Reset(session.ClientBaseline)
		c.retry.Clear()
		err := c.send(frame.Message{
			Type:      frame.TypeReconnect,
			SessionID: c.sessionID,
			Snapshot:  c.board.Snapshot(game.X),
		})
		if err != nil {
			c.drop()
			continue
		}
		reply, err := c.await(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return frame.Message{}, ctx.Err()
			}
			c.drop()
			continue
		}
		if reply.Status == frame.StatusError && reply.Fault().Retryable() {
			c.drop()
			continue
		}
		if reply.Status != frame.StatusError {
			c.sessionID = reply.SessionID
		}
		log.Info().Uint8("session", c.sessionID).Int("attempt", attempt).Msg("match resumed")
		return reply, nil
	}
	return frame.Message{}, fmt.Errorf("%w: reconnect attempts exhausted", ErrCannotEstablish)
}

// apply interprets an in-order reply. done is set when the match is over.
func (c *Client) apply(reply frame.Message) (Outcome, bool, error) {
	if reply.Status == frame.StatusError {
		return Outcome{}, true, fmt.Errorf("%w: %s", ErrSessionFault, reply.Fault())
	}
	switch reply.Type {
	case frame.TypeEndSession:
		mine := game.Evaluate(c.board, game.X)
		if !mine.Terminal() {
			return c.inconsistent("end session on an ongoing board")
		}
		return c.outcome(resultOf(mine)), true, nil
	case frame.TypeMove:
		if reply.Choice != 0 {
			if !game.IsValidMove(c.board, reply.Choice) {
				return c.inconsistent("server played an unusable cell")
			}
			_ = c.board.Place(reply.Choice, game.O)
			c.display(c.board, game.X)
		}
		mine := game.Evaluate(c.board, game.X)
		if reply.Status == frame.StatusOngoing {
			if mine.Terminal() {
				return c.inconsistent("server missed a terminal board")
			}
			return Outcome{}, false, nil
		}
		if want := mirror(reply.Result()); want == game.Ongoing || mine != want {
			return c.inconsistent("terminal result mismatch")
		}
		c.sendBestEffort(frame.Message{
			Status:    frame.StatusComplete,
			Modifier:  uint8(resultOf(mine)),
			Type:      frame.TypeEndSession,
			SessionID: c.sessionID,
			Seq:       c.nextSeq(),
		})
		return c.outcome(resultOf(mine)), true, nil
	default:
		return c.inconsistent("unexpected reply type")
	}
}

func (c *Client) inconsistent(reason string) (Outcome, bool, error) {
	log.Warn().Uint8("session", c.sessionID).Str("board", fmt.Sprint(c.board)).Msg(reason)
	c.sendBestEffort(frame.ErrorFrame(frame.FaultMalformed, c.sessionID, c.nextSeq()))
	return Outcome{}, true, fmt.Errorf("%w: %s: %s", ErrSessionFault, frame.FaultMalformed, reason)
}

func (c *Client) outcome(r frame.Result) Outcome {
	return Outcome{Result: r, SessionID: c.sessionID, Board: c.board}
}

// await reads until an error frame or the in-order reply arrives, or the
// reply timeout passes. Stale and undecodable frames are skipped.
func (c *Client) await(ctx context.Context) (frame.Message, error) {
	if c.conn == nil {
		return frame.Message{}, net.ErrClosed
	}
	conn := c.conn
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.Session.ReplyTimeout)); err != nil {
		return frame.Message{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		m, err := frame.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, frame.ErrMalformed) {
				log.Debug().Err(err).Msg("skipping undecodable frame")
				continue
			}
			return frame.Message{}, err
		}
		if m.Status == frame.StatusError {
			return m, nil
		}
		switch order := c.ladder.Classify(m.Seq); order {
		case session.Duplicate:
			switch c.retry.OnDuplicate() {
			case session.Evict:
				return frame.Message{}, fmt.Errorf("%w: duplicate retry cap", ErrSessionFault)
			case session.Nothing:
				continue
			}
			log.Debug().Uint8("seq", m.Seq).Int("count", c.retry.Count()).Msg("stale reply, resending last frame")
			if err := c.write(c.retry.Last()); err != nil {
				return frame.Message{}, err
			}
			continue
		case session.OutOfOrder:
			log.Debug().Uint8("seq", m.Seq).Uint8("expected", c.ladder.Expected()).Msg("reply out of order")
			c.sendBestEffort(frame.ErrorFrame(frame.FaultMalformed, c.sessionID, session.ReplySeq(m.Seq)))
			continue
		}
		c.ladder.Accept(m.Seq)
		c.retry.Reset()
		return m, nil
	}
}

func (c *Client) connect(ctx context.Context) error {
	if c.cfg.ServerAddr != "" {
		conn, err := c.dial(ctx, c.cfg.ServerAddr)
		if err == nil {
			c.conn = conn
			return nil
		}
		log.Debug().Err(err).Str("addr", c.cfg.ServerAddr).Msg("direct dial failed")
		if !c.cfg.Discovery.Enabled {
			return err
		}
	}
	if !c.cfg.Discovery.Enabled {
		return errors.New("client: no server address and discovery disabled")
	}
	addr, err := discovery.Locate(ctx, c.cfg.Discovery.Locator)
	if err != nil {
		return err
	}
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// send writes m and caches it for resends.
func (c *Client) send(m frame.Message) error {
	b := frame.Encode(m)
	c.retry.Remember(b)
	return c.write(b)
}

func (c *Client) sendBestEffort(m frame.Message) {
	if err := c.write(frame.Encode(m)); err != nil {
		log.Debug().Err(err).Msg("final frame not delivered")
	}
}

func (c *Client) write(b []byte) error {
	if c.conn == nil {
		return net.ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Session.WriteTimeout))
	_, err := c.conn.Write(b)
	return err
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// nextSeq is the sequence number of the client's next frame.
func (c *Client) nextSeq() uint8 {
	return c.ladder.Expected() - 1
}

func (c *Client) waitBackoff(ctx context.Context, attempt int) error {
	delay := session.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
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

// mirror maps the server's reported result to the outcome expected locally.
func mirror(r frame.Result) game.Outcome {
	switch r {
	case frame.ResultWin:
		return game.Lose
	case frame.ResultLose:
		return game.Win
	case frame.ResultDraw:
		return game.Draw
	default:
		return game.Ongoing
	}
}
