package discovery

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// ListenGroup binds the group port with address reuse and joins the group on
// iface, or on the default interface when iface is nil. A unicast address is
// bound as is.
func ListenGroup(ctx context.Context, group string, iface *net.Interface) (net.PacketConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve group: %w", err)
	}
	bind := addr.String()
	if addr.IP.IsMulticast() {
		bind = fmt.Sprintf("0.0.0.0:%d", addr.Port)
	}
	lc := net.ListenConfig{Control: reuseAddrControl}
	conn, err := lc.ListenPacket(ctx, "udp4", bind)
	if err != nil {
		return nil, fmt.Errorf("discovery: listen %s: %w", bind, err)
	}
	if !addr.IP.IsMulticast() {
		return conn, nil
	}
	if err := ipv4.NewPacketConn(conn).JoinGroup(iface, &net.UDPAddr{IP: addr.IP}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: join %s: %w", addr.IP, err)
	}
	return conn, nil
}
