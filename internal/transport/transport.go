// Package transport provides network transport abstractions for mDNS
// communication, decoupling the responder, querier, and reactor from any
// one concrete socket implementation.
package transport

import (
	"context"
	"net"
)

// Transport abstracts network operations for sending and receiving mDNS
// packets. It is implemented by UDPv4Transport and UDPv6Transport for
// production use and by MockTransport for tests.
type Transport interface {
	// Send transmits a packet to dest. A nil dest means the mDNS multicast
	// group for this transport's address family.
	Send(ctx context.Context, packet []byte, dest net.Addr) error

	// Receive waits for an incoming packet, respecting context
	// cancellation/deadline.
	Receive(ctx context.Context) (packet []byte, srcAddr net.Addr, err error)

	// Close releases network resources.
	Close() error
}
