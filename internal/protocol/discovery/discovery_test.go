package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/danmuck/tictacd/internal/protocol/frame"
	"github.com/danmuck/tictacd/internal/testutil/testlog"
)

func TestCodec(t *testing.T) {
	testlog.Start(t)
	if err := DecodeRequest(EncodeRequest()); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if err := DecodeRequest([]byte{frame.Version, ResponseCode}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if err := DecodeRequest([]byte{7, RequestCode}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for version, got %v", err)
	}

	b := EncodeResponse(0x1f90)
	if b[2] != 0x1f || b[3] != 0x90 {
		t.Fatalf("port not big endian: %v", b)
	}
	port, err := DecodeResponse(b)
	if err != nil || port != 8080 {
		t.Fatalf("decode response: port=%d err=%v", port, err)
	}
	if _, err := DecodeResponse(b[:3]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for short response, got %v", err)
	}
}

func TestResponderReply(t *testing.T) {
	testlog.Start(t)
	r := NewResponder(9000)
	resp, err := r.Reply(EncodeRequest())
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if port, _ := DecodeResponse(resp); port != 9000 {
		t.Fatalf("unexpected port %d", port)
	}
	if _, err := r.Reply([]byte{frame.Version}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

// serveOnce answers datagrams on conn: first a junk reply, then the real one.
func serveOnce(t *testing.T, conn net.PacketConn, r *Responder) {
	t.Helper()
	go func() {
		buf := make([]byte, 64)
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		resp, err := r.Reply(buf[:n])
		if err != nil {
			return
		}
		_, _ = conn.WriteTo([]byte{frame.Version, 9}, src)
		_, _ = conn.WriteTo(resp, src)
	}()
}

func TestLocateUnicast(t *testing.T) {
	testlog.Start(t)
	conn, err := ListenGroup(context.Background(), "127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()
	serveOnce(t, conn, NewResponder(4242))

	cfg := DefaultLocatorConfig()
	cfg.Group = conn.LocalAddr().String()
	cfg.Timeout = 2 * time.Second
	addr, err := Locate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if addr != net.JoinHostPort("127.0.0.1", strconv.Itoa(4242)) {
		t.Fatalf("unexpected address %s", addr)
	}
}

func TestLocateNoResponse(t *testing.T) {
	testlog.Start(t)
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	cfg := DefaultLocatorConfig()
	cfg.Group = conn.LocalAddr().String()
	cfg.Timeout = 100 * time.Millisecond
	if _, err := Locate(context.Background(), cfg); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
}

func TestLocateCancelled(t *testing.T) {
	testlog.Start(t)
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	cfg := DefaultLocatorConfig()
	cfg.Group = conn.LocalAddr().String()
	cfg.Timeout = 5 * time.Second
	if _, err := Locate(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLocateMulticastLoopback(t *testing.T) {
	testlog.Start(t)
	const group = "239.0.0.77:35077"
	conn, err := ListenGroup(context.Background(), group, nil)
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer conn.Close()
	serveOnce(t, conn, NewResponder(4343))

	cfg := DefaultLocatorConfig()
	cfg.Group = group
	cfg.Timeout = 500 * time.Millisecond
	addr, err := Locate(context.Background(), cfg)
	if err != nil {
		t.Skipf("multicast loopback not delivered: %v", err)
	}
	if _, port, _ := net.SplitHostPort(addr); port != "4343" {
		t.Fatalf("unexpected address %s", addr)
	}
}
