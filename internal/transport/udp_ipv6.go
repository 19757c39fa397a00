package transport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv6"

	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/protocol"
)

// UDPv6Transport implements Transport for IPv6 UDP multicast (ff02::fb:5353),
// mirroring UDPv4Transport's approach for the IPv4 group.
type UDPv6Transport struct {
	conn net.PacketConn
}

// NewUDPv6Transport creates a UDP multicast transport bound to mDNS port
// 5353 on the ff02::fb link-local multicast group.
func NewUDPv6Transport() (*UDPv6Transport, error) {
	return NewUDPv6TransportOn(nil)
}

// NewUDPv6TransportOn binds the multicast socket on one specific
// interface; a nil interface joins ff02::fb on every up+multicast
// interface, mirroring the IPv4 transport's ListenConfig +
// golang.org/x/net/ipv6 group membership.
func NewUDPv6TransportOn(ifi *net.Interface) (*UDPv6Transport, error) {
	return NewUDPv6TransportWith(ifi, false)
}

// NewUDPv6TransportWith additionally controls the AWDL (apple_p2p)
// socket option, a no-op off Darwin.
func NewUDPv6TransportWith(ifi *net.Interface, appleP2P bool) (*UDPv6Transport, error) {
	lc := net.ListenConfig{Control: controlWith(appleP2P)}

	conn, err := lc.ListenPacket(context.Background(), "udp6", fmt.Sprintf("[::]:%d", protocol.Port))
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind to port %d (is Avahi/Bonjour running without SO_REUSEPORT?)", protocol.Port),
		}
	}

	p := ipv6.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6)}

	if ifi != nil {
		if err := p.JoinGroup(ifi, group); err != nil {
			_ = conn.Close()
			return nil, &errors.NetworkError{
				Operation: "join multicast group",
				Err:       err,
				Details:   fmt.Sprintf("failed to join %s on %s", protocol.MulticastAddrIPv6, ifi.Name),
			}
		}
	} else {
		ifaces, err := net.Interfaces()
		if err != nil {
			_ = conn.Close()
			return nil, &errors.NetworkError{
				Operation: "enumerate interfaces",
				Err:       err,
				Details:   "failed to get network interfaces for multicast join",
			}
		}
		joined := 0
		for i := range ifaces {
			candidate := &ifaces[i]
			if candidate.Flags&net.FlagUp == 0 || candidate.Flags&net.FlagMulticast == 0 {
				continue
			}
			if err := p.JoinGroup(candidate, group); err != nil {
				continue
			}
			joined++
		}
		if joined == 0 {
			_ = conn.Close()
			return nil, &errors.NetworkError{
				Operation: "join multicast group",
				Err:       fmt.Errorf("no interfaces available"),
				Details:   fmt.Sprintf("failed to join %s on any interface", protocol.MulticastAddrIPv6),
			}
		}
	}

	// RFC 6762 §11: hop limit 255; loopback on so local listeners hear us
	_ = p.SetMulticastHopLimit(255)
	_ = p.SetMulticastLoopback(true)

	if udpConn, ok := conn.(*net.UDPConn); ok {
		if err := udpConn.SetReadBuffer(65536); err != nil {
			_ = conn.Close()
			return nil, &errors.NetworkError{
				Operation: "configure socket",
				Err:       err,
				Details:   "failed to set read buffer size",
			}
		}
	}

	return &UDPv6Transport{conn: conn}, nil
}

// Send transmits a packet to dest, or the IPv6 multicast group if dest is nil.
func (t *UDPv6Transport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &errors.NetworkError{Operation: "send query", Err: ctx.Err(), Details: "context canceled before send"}
	default:
	}

	if dest == nil {
		dest = protocol.MulticastGroupIPv6()
	}

	n, err := t.conn.WriteTo(packet, dest)
	if err != nil {
		return &errors.NetworkError{
			Operation: "send query",
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s", len(packet), dest),
		}
	}
	if n != len(packet) {
		return &errors.NetworkError{
			Operation: "send query",
			Err:       fmt.Errorf("partial write: %d/%d bytes", n, len(packet)),
			Details:   "incomplete transmission",
		}
	}
	return nil
}

// Receive waits for an incoming IPv6 packet, respecting context
// cancellation/deadline.
func (t *UDPv6Transport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, nil, &errors.NetworkError{Operation: "receive response", Err: ctx.Err(), Details: "context canceled before receive"}
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, &errors.NetworkError{
				Operation: "set read timeout",
				Err:       err,
				Details:   fmt.Sprintf("failed to set deadline %v", deadline),
			}
		}
	}

	bufPtr := GetBuffer()
	defer PutBuffer(bufPtr)
	buffer := *bufPtr

	n, srcAddr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, &errors.NetworkError{Operation: "receive response", Err: err, Details: "timeout"}
		}
		return nil, nil, &errors.NetworkError{Operation: "receive response", Err: err, Details: "failed to read from socket"}
	}

	result := make([]byte, n)
	copy(result, buffer[:n])
	return result, srcAddr, nil
}

// Close releases IPv6 transport resources.
func (t *UDPv6Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return &errors.NetworkError{Operation: "close socket", Err: err, Details: "failed to close UDP connection"}
	}
	return nil
}

// Compile-time verification that UDPv6Transport implements Transport interface
var _ Transport = (*UDPv6Transport)(nil)
