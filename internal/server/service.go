package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/match"
	"github.com/danmuck/tictacd/internal/observability"
	"github.com/danmuck/tictacd/internal/protocol/discovery"
	"github.com/danmuck/tictacd/internal/protocol/frame"
	"github.com/danmuck/tictacd/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// inbound is one frame, or the end of the stream, read for a slot.
type inbound struct {
	id     uint8
	gen    uint64
	msg    frame.Message
	err    error
	closed bool
}

type datagram struct {
	data []byte
	from net.Addr
}

// Service owns the session table and runs the multiplexer loop.
type Service struct {
	cfg      ServiceConfig
	table    *match.Table
	engine   *match.Engine
	sessions atomic.Pointer[[]match.SessionInfo]
	started  time.Time
	serving  atomic.Bool

	readers sync.WaitGroup
}

func NewService(cfg ServiceConfig, strategy game.Strategy, observer match.Observer) (*Service, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultServiceConfig().HeartbeatInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := match.NewTable(cfg.Capacity, cfg.Session, observer)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:     cfg,
		table:   table,
		engine:  match.NewEngine(table, strategy),
		started: time.Now(),
	}
	s.publish()
	return s, nil
}

// Sessions returns the table as of the end of the last loop iteration.
func (s *Service) Sessions() []match.SessionInfo {
	p := s.sessions.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (s *Service) Capacity() int {
	return s.table.Capacity()
}

// Serving reports whether the loop is running.
func (s *Service) Serving() bool {
	return s.serving.Load()
}

func (s *Service) Uptime() time.Duration {
	return time.Since(s.started)
}

// Run binds the configured listener and discovery socket, then serves until
// ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}

	var disc net.PacketConn
	if s.cfg.Discovery.Enabled {
		iface, err := lookupInterface(s.cfg.Discovery.Interface)
		if err != nil {
			ln.Close()
			return err
		}
		disc, err = discovery.ListenGroup(ctx, s.cfg.Discovery.Group, iface)
		if err != nil {
			ln.Close()
			return err
		}
	}
	return s.Serve(ctx, ln, disc)
}

// Serve runs the loop on an open listener and an optional discovery socket.
// Both are closed on return. Only a listener failure is returned as an error.
func (s *Service) Serve(ctx context.Context, ln net.Listener, disc net.PacketConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer ln.Close()
	if disc != nil {
		defer disc.Close()
	}

	conns := make(chan net.Conn)
	acceptErr := make(chan error, 1)
	events := make(chan inbound)
	datagrams := make(chan datagram)

	go s.acceptLoop(ctx, ln, conns, acceptErr)
	var responder *discovery.Responder
	if disc != nil {
		responder = discovery.NewResponder(s.advertisedPort(ln))
		go s.discoveryLoop(ctx, disc, datagrams)
	}

	sweep := time.NewTicker(s.cfg.Session.SweepInterval)
	defer sweep.Stop()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	s.serving.Store(true)
	defer s.serving.Store(false)
	log.Info().
		Str("addr", ln.Addr().String()).
		Int("capacity", s.table.Capacity()).
		Bool("discovery", disc != nil).
		Msg("server listening")

	for {
		s.table.SweepIdle(time.Now())
		s.publish()

		select {
		case <-ctx.Done():
			s.shutdown(cancel, ln)
			log.Info().Msg("server shutdown")
			return nil
		case err := <-acceptErr:
			s.shutdown(cancel, ln)
			return fmt.Errorf("server: accept: %w", err)
		case conn := <-conns:
			s.admit(ctx, conn, events)
		case ev := <-events:
			s.dispatch(ev)
		case dg := <-datagrams:
			s.answer(disc, responder, dg)
		case <-heartbeat.C:
			log.Info().
				Int("active", s.table.Active()).
				Int("capacity", s.table.Capacity()).
				Dur("uptime", s.Uptime()).
				Msg("server heartbeat")
		case <-sweep.C:
		}
	}
}

// admit binds conn to a free slot or refuses it with OUT_OF_RESOURCES.
func (s *Service) admit(ctx context.Context, conn net.Conn, events chan<- inbound) {
	ep := newConnEndpoint(conn, s.cfg.Session.WriteTimeout)
	sess, err := s.table.Allocate(ep, time.Now())
	if err != nil {
		log.Warn().Str("remote", ep.RemoteAddr()).Err(err).Msg("refusing connection")
		refusal := frame.ErrorFrame(frame.FaultOutOfResources, 0, session.ClientBaseline)
		_ = ep.Send(frame.Encode(refusal))
		observability.RecordFrameOut(refusal.Type.String(), refusal.Status.String())
		_ = ep.Close()
		return
	}
	s.readers.Add(1)
	go s.readLoop(ctx, conn, sess.ID(), sess.Generation(), events)
}

func (s *Service) dispatch(ev inbound) {
	sess, ok := s.table.Lookup(ev.id)
	if !ok || sess.Generation() != ev.gen {
		return
	}
	if ev.closed {
		s.engine.Disconnected(sess, ev.err)
		return
	}
	s.engine.Handle(sess, ev.msg, ev.err, time.Now())
}

func (s *Service) answer(disc net.PacketConn, responder *discovery.Responder, dg datagram) {
	resp, err := responder.Reply(dg.data)
	if err != nil {
		observability.RecordDiscovery("rejected")
		log.Debug().Err(err).Str("from", dg.from.String()).Msg("discovery request rejected")
		return
	}
	if _, err := disc.WriteTo(resp, dg.from); err != nil {
		observability.RecordDiscovery("failed")
		log.Warn().Err(err).Str("from", dg.from.String()).Msg("discovery reply failed")
		return
	}
	observability.RecordDiscovery("answered")
	log.Debug().Str("from", dg.from.String()).Uint16("port", responder.Port()).Msg("discovery answered")
}

// shutdown cancels the readers, announces SHUTDOWN to every peer and waits
// for the reader goroutines to exit.
func (s *Service) shutdown(cancel context.CancelFunc, ln net.Listener) {
	cancel()
	_ = ln.Close()
	s.table.Shutdown()
	s.publish()
	s.readers.Wait()
}

func (s *Service) publish() {
	snap := s.table.Snapshot()
	s.sessions.Store(&snap)
}

// acceptLoop retries temporary accept failures, such as running out of file
// descriptors, with a capped backoff. Any other failure ends the loop.
func (s *Service) acceptLoop(ctx context.Context, ln net.Listener, conns chan<- net.Conn, errc chan<- error) {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if !isTemporary(err) {
				errc <- err
				return
			}
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			log.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		delay = 0
		select {
		case conns <- conn:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}
	}
}

// readLoop hands frames to the loop one at a time. Undecodable frames are
// forwarded with their error; any other read error ends the stream.
func (s *Service) readLoop(ctx context.Context, conn net.Conn, id uint8, gen uint64, events chan<- inbound) {
	defer s.readers.Done()
	for {
		m, err := frame.ReadFrame(conn)
		ev := inbound{id: id, gen: gen, msg: m, err: err}
		if err != nil && !errors.Is(err, frame.ErrMalformed) {
			ev.closed = true
			if errors.Is(err, io.EOF) {
				ev.err = nil
			}
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
		if ev.closed {
			return
		}
	}
}

func isTemporary(err error) bool {
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}

func (s *Service) discoveryLoop(ctx context.Context, disc net.PacketConn, out chan<- datagram) {
	buf := make([]byte, 64)
	for {
		n, from, err := disc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Msg("discovery read failed")
			}
			return
		}
		data := append([]byte(nil), buf[:n]...)
		select {
		case out <- datagram{data: data, from: from}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) advertisedPort(ln net.Listener) uint16 {
	if s.cfg.Discovery.AdvertisePort != 0 {
		return s.cfg.Discovery.AdvertisePort
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return 0
}

func lookupInterface(name string) (*net.Interface, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("server: discovery interface %q: %w", name, err)
	}
	return iface, nil
}
