package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/beacon-mdns/beacon/internal/transport"
)

// Contract test - UDPv6Transport implements Transport interface.
func TestUDPv6Transport_ImplementsTransportInterface(_ *testing.T) {
	var _ transport.Transport = (*transport.UDPv6Transport)(nil)
}

// Unit test - UDPv6Transport.Send() sends packet to the ff02::fb group.
//
// Skips when the host has no usable IPv6 multicast interface, since CI
// sandboxes commonly disable IPv6.
func TestUDPv6Transport_Send_SendsToMulticastAddress(t *testing.T) {
	tr, err := transport.NewUDPv6Transport()
	if err != nil {
		t.Skipf("IPv6 multicast unavailable: %v", err)
	}
	defer func() { _ = tr.Close() }()

	ctx := context.Background()
	packet := []byte{0x00, 0x00, 0x00, 0x00}
	mdnsAddr := &net.UDPAddr{IP: net.ParseIP("ff02::fb"), Port: 5353}

	if err := tr.Send(ctx, packet, mdnsAddr); err != nil {
		t.Errorf("Send() failed: %v", err)
	}
}

// Unit test - UDPv6Transport.Receive() respects context cancellation.
func TestUDPv6Transport_Receive_RespectsContextCancellation(t *testing.T) {
	tr, err := transport.NewUDPv6Transport()
	if err != nil {
		t.Skipf("IPv6 multicast unavailable: %v", err)
	}
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = tr.Receive(ctx)
	if err == nil {
		t.Error("Receive() should return error when context is already canceled")
	}
}

// Unit test - UDPv6Transport.Receive() respects a context deadline.
func TestUDPv6Transport_Receive_PropagatesContextDeadline(t *testing.T) {
	tr, err := transport.NewUDPv6Transport()
	if err != nil {
		t.Skipf("IPv6 multicast unavailable: %v", err)
	}
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err = tr.Receive(ctx)
	if err == nil {
		t.Error("Receive() should time out when no packet arrives before deadline")
	}
}
