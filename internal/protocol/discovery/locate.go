package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
)

// LocatorConfig controls one locate attempt.
type LocatorConfig struct {
	Group     string
	Timeout   time.Duration
	TTL       int
	Loopback  bool
	Interface *net.Interface
}

func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{
		Group:    DefaultGroup,
		Timeout:  3 * time.Second,
		TTL:      1,
		Loopback: true,
	}
}

// Locate sends one request to the group and waits for the first valid reply.
// It returns host:port of the advertised stream endpoint, using the source
// address of the reply as host.
func Locate(ctx context.Context, cfg LocatorConfig) (string, error) {
	group, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return "", fmt.Errorf("discovery: resolve group: %w", err)
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return "", fmt.Errorf("discovery: listen: %w", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if group.IP.IsMulticast() {
		if cfg.TTL > 0 {
			if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
				return "", fmt.Errorf("discovery: multicast ttl: %w", err)
			}
		}
		if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
			return "", fmt.Errorf("discovery: multicast loopback: %w", err)
		}
		if cfg.Interface != nil {
			if err := pc.SetMulticastInterface(cfg.Interface); err != nil {
				return "", fmt.Errorf("discovery: multicast interface: %w", err)
			}
		}
	}

	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if _, err := pc.WriteTo(EncodeRequest(), nil, group); err != nil {
		return "", fmt.Errorf("discovery: send request: %w", err)
	}
	log.Debug().Str("group", group.String()).Msg("locate request sent")

	buf := make([]byte, 64)
	for {
		n, _, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return "", ErrNoResponse
			}
			return "", fmt.Errorf("discovery: read: %w", err)
		}
		port, err := DecodeResponse(buf[:n])
		if err != nil {
			log.Debug().Err(err).Str("from", src.String()).Msg("ignoring datagram")
			continue
		}
		udp, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		addr := net.JoinHostPort(udp.IP.String(), strconv.Itoa(int(port)))
		log.Info().Str("server", addr).Msg("server located")
		return addr, nil
	}
}
