package transport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/protocol"
)

// UDPv4Transport implements Transport interface for IPv4 UDP multicast.
//
// This implementation:
// - Migrates logic from internal/network/socket.go (CreateSocket, SendQuery, ReceiveResponse)
// - Adds context support for cancellation and deadlines (F-9 REQ-F9-7)
// - Fixes error propagation in Close()
//
// Migrate internal/network/socket.go CreateSocket logic to make pass
type UDPv4Transport struct {
	conn net.PacketConn
}

// NewUDPv4Transport creates a UDP multicast transport bound to mDNS port 5353.
//
// This migrates CreateSocket() from internal/network/socket.go:24-58.
//
// RFC 6762 §5: mDNS uses UDP port 5353 and multicast address 224.0.0.251
//
// System MUST use mDNS port 5353 and multicast address 224.0.0.251
// System MUST return NetworkError for socket creation failures
//
// Returns:
//   - *UDPv4Transport: Configured transport ready for Send/Receive
//   - error: NetworkError if socket creation fails
//
// Socket creation, multicast join
func NewUDPv4Transport() (*UDPv4Transport, error) {
	return NewUDPv4TransportOn(nil)
}

// NewUDPv4TransportOn binds the multicast socket on one specific
// interface; a nil interface joins the group on every up+multicast
// interface.
func NewUDPv4TransportOn(ifi *net.Interface) (*UDPv4Transport, error) {
	return NewUDPv4TransportWith(ifi, false)
}

// NewUDPv4TransportWith additionally controls the AWDL (apple_p2p)
// socket option, a no-op off Darwin.
//
// Binding uses net.ListenConfig with the platform Control hook
// (SO_REUSEADDR everywhere, SO_REUSEPORT on Linux/macOS) so the socket
// coexists with Avahi/Bonjour, then golang.org/x/net/ipv4 for group
// membership, TTL=255 (RFC 6762 §11), and loopback.
func NewUDPv4TransportWith(ifi *net.Interface, appleP2P bool) (*UDPv4Transport, error) {
	lc := net.ListenConfig{Control: controlWith(appleP2P)}

	// Bind 0.0.0.0:5353, NOT the multicast address
	// (ListenMulticastUDP had bugs, see Go issues #73484, #34728)
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", protocol.Port))
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind to port %d (is Avahi/Bonjour running without SO_REUSEPORT?)", protocol.Port),
		}
	}

	p := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4)}

	if ifi != nil {
		if err := p.JoinGroup(ifi, group); err != nil {
			_ = conn.Close()
			return nil, &errors.NetworkError{
				Operation: "join multicast group",
				Err:       err,
				Details:   fmt.Sprintf("failed to join %s on %s", protocol.MulticastAddrIPv4, ifi.Name),
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
				continue // interface might not support multicast
			}
			joined++
		}
		if joined == 0 {
			_ = conn.Close()
			return nil, &errors.NetworkError{
				Operation: "join multicast group",
				Err:       fmt.Errorf("no interfaces available"),
				Details:   fmt.Sprintf("failed to join %s on any interface", protocol.MulticastAddrIPv4),
			}
		}
	}

	// RFC 6762 §11: TTL=255; loopback on so local listeners hear us
	_ = p.SetMulticastTTL(255)
	_ = p.SetMulticastLoopback(true)

	if udpConn, ok := conn.(*net.UDPConn); ok {
		if err := udpConn.SetReadBuffer(65536); err != nil { // 64KB buffer for DNS messages
			_ = conn.Close() // Ignore error, already returning primary error
			return nil, &errors.NetworkError{
				Operation: "configure socket",
				Err:       err,
				Details:   "failed to set read buffer size",
			}
		}
	}

	return &UDPv4Transport{conn: conn}, nil
}

// Send transmits a packet to the specified destination address.
//
// This migrates SendQuery() from internal/network/socket.go:73-104.
//
// RFC 6762 §5: Queries are sent to 224.0.0.251:5353
//
// System MUST send queries to multicast group 224.0.0.251:5353
// System MUST return NetworkError for transmission failures
//
// Migrate internal/network SendQuery logic, make pass
func (t *UDPv4Transport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
	// Check context cancellation before sending
	select {
	case <-ctx.Done():
		return &errors.NetworkError{
			Operation: "send query",
			Err:       ctx.Err(),
			Details:   "context canceled before send",
		}
	default:
	}

	// Send query to destination
	n, err := t.conn.WriteTo(packet, dest)
	if err != nil {
		return &errors.NetworkError{
			Operation: "send query",
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s", len(packet), dest),
		}
	}

	// Verify full message was sent
	if n != len(packet) {
		return &errors.NetworkError{
			Operation: "send query",
			Err:       fmt.Errorf("partial write: %d/%d bytes", n, len(packet)),
			Details:   "incomplete transmission",
		}
	}

	return nil
}

// Receive waits for an incoming packet, respecting context cancellation/deadline.
//
// This migrates ReceiveResponse() from internal/network/socket.go:118-155
// with context support added for F-9 REQ-F9-7.
//
// System MUST receive responses with configurable timeout
// System MUST return NetworkError for timeout or receive errors
// Context propagation
//
// Migrate internal/network ReceiveResponse, add ctx.Done() checking to make -pass
func (t *UDPv4Transport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	// Check context cancellation before receive
	select {
	case <-ctx.Done():
		return nil, nil, &errors.NetworkError{
			Operation: "receive response",
			Err:       ctx.Err(),
			Details:   "context canceled before receive",
		}
	default:
	}

	// Propagate context deadline to socket (F-9 REQ-F9-7)
	if deadline, ok := ctx.Deadline(); ok {
		err := t.conn.SetReadDeadline(deadline)
		if err != nil {
			return nil, nil, &errors.NetworkError{
				Operation: "set read timeout",
				Err:       err,
				Details:   fmt.Sprintf("failed to set deadline %v", deadline),
			}
		}
	}

	// Get buffer from pool (buffer pooling optimization)
	// This eliminates hot path allocations (9KB/receive → near-zero after warmup)
	bufPtr := GetBuffer()
	defer PutBuffer(bufPtr) // Return buffer to pool on function exit

	buffer := *bufPtr

	// Read response
	n, srcAddr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		// Check if it's a timeout error
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, &errors.NetworkError{
				Operation: "receive response",
				Err:       err,
				Details:   "timeout",
			}
		}

		return nil, nil, &errors.NetworkError{
			Operation: "receive response",
			Err:       err,
			Details:   "failed to read from socket",
		}
	}

	// Return copy to caller (pool owns buffer, caller owns result)
	// This ensures caller can use result after buffer is returned to pool
	result := make([]byte, n)
	copy(result, buffer[:n])
	return result, srcAddr, nil
}

// Close releases network resources.
//
// This migrates CloseSocket() from internal/network/socket.go:166-179
// with FIX for propagate errors instead of swallowing them.
//
// System MUST close socket after query completion
// FIX: Return errors to caller (was swallowing errors at line 172-176)
//
// Migrate internal/network CloseSocket, FIX error propagation to make pass
func (t *UDPv4Transport) Close() error {
	if t.conn == nil {
		return nil // Gracefully handle nil connection
	}

	err := t.conn.Close()
	if err != nil {
		// FIX: Propagate error to caller (don't swallow it)
		return &errors.NetworkError{
			Operation: "close socket",
			Err:       err,
			Details:   "failed to close UDP connection",
		}
	}

	return nil
}
