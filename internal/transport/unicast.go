package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/protocol"
)

// UnicastUDPTransport is a Transport bound to an ephemeral port instead
// of 5353. Queries sent through it elicit unicast replies (the source
// port not being 5353 marks the querier as a one-shot resolver per
// RFC 6762 §5.1), which arrive on the same socket.
type UnicastUDPTransport struct {
	conn  net.PacketConn
	ipv6  bool
	group *net.UDPAddr
}

// controlWith composes the platform socket options with the optional
// AWDL (apple_p2p) option, for use as a net.ListenConfig Control hook.
func controlWith(appleP2P bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		if err := platformControl(network, address, c); err != nil {
			return err
		}
		if appleP2P {
			return setAppleP2P(c)
		}
		return nil
	}
}

// NewUnicastUDPTransport binds an ephemeral-port UDP socket for one-shot
// queries. appleP2P additionally marks the socket for AWDL (peer-to-peer
// Wi-Fi) traffic on platforms that support it; elsewhere the flag is
// ignored.
func NewUnicastUDPTransport(ipv6, appleP2P bool) (*UnicastUDPTransport, error) {
	network, listenAddr := "udp4", ":0"
	group := protocol.MulticastGroupIPv4()
	if ipv6 {
		network = "udp6"
		group = protocol.MulticastGroupIPv6()
	}

	lc := net.ListenConfig{Control: controlWith(appleP2P)}

	conn, err := lc.ListenPacket(context.Background(), network, listenAddr)
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind ephemeral %s socket", network),
		}
	}

	return &UnicastUDPTransport{conn: conn, ipv6: ipv6, group: group}, nil
}

// Send transmits packet to dest, defaulting to the mDNS multicast group
// of this transport's family. Sending a query from the ephemeral port is
// what requests the unicast reply.
func (t *UnicastUDPTransport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &errors.NetworkError{Operation: "send query", Err: ctx.Err(), Details: "context canceled before send"}
	default:
	}

	if dest == nil {
		dest = t.group
	}
	if _, err := t.conn.WriteTo(packet, dest); err != nil {
		return &errors.NetworkError{
			Operation: "send query",
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s", len(packet), dest),
		}
	}
	return nil
}

// Receive waits for a unicast reply, respecting ctx.
func (t *UnicastUDPTransport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, &errors.NetworkError{Operation: "receive response", Err: err, Details: "failed to set read deadline"}
		}
	}

	bufPtr := GetBuffer()
	defer PutBuffer(bufPtr)
	buffer := *bufPtr

	n, src, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, &errors.NetworkError{
			Operation: "receive response",
			Err:       err,
			Details:   "failed to read from ephemeral socket",
		}
	}

	result := make([]byte, n)
	copy(result, buffer[:n])
	return result, src, nil
}

// Close releases the socket.
func (t *UnicastUDPTransport) Close() error {
	if err := t.conn.Close(); err != nil {
		return &errors.NetworkError{Operation: "close socket", Err: err, Details: "failed to close ephemeral socket"}
	}
	return nil
}

// LocalPort reports the ephemeral port the socket landed on.
func (t *UnicastUDPTransport) LocalPort() int {
	udp, ok := t.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return 0
	}
	return udp.Port
}

var _ Transport = (*UnicastUDPTransport)(nil)
