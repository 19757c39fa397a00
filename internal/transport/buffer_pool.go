package transport

import (
	"sync"

	"github.com/beacon-mdns/beacon/internal/protocol"
)

// receiveBuffers recycles the receive buffers shared by every transport
// in this package (multicast IPv4/IPv6 and the ephemeral unicast socket).
// Each Receive call borrows one buffer, reads into it, copies out the
// n bytes actually received, and returns it — so the pool's buffers never
// escape to callers and do not need to be cleared between uses.
//
// Buffers are sized to protocol.MaxMessageSize (9000 bytes, RFC 6762
// §17): large enough that a jumbo-frame message is never truncated,
// small enough that an idle pool costs a handful of frames of memory.
var receiveBuffers = sizedBufferPool{
	size: protocol.MaxMessageSize,
}

// sizedBufferPool is a sync.Pool of fixed-size byte slices. It hands out
// *[]byte (not []byte) so Put does not allocate a fresh interface box on
// every return.
type sizedBufferPool struct {
	size int
	pool sync.Pool
}

func (p *sizedBufferPool) get() *[]byte {
	if buf, ok := p.pool.Get().(*[]byte); ok {
		return buf
	}
	buf := make([]byte, p.size)
	return &buf
}

func (p *sizedBufferPool) put(buf *[]byte) {
	// a resliced or foreign buffer would shrink every future Receive
	// that draws it; discard anything that is not exactly pool-sized
	if buf == nil || len(*buf) != p.size {
		return
	}
	p.pool.Put(buf)
}

// GetBuffer borrows a protocol.MaxMessageSize receive buffer from the
// shared pool. The caller must return it with PutBuffer (use defer) and
// must copy out any bytes it wants to keep first.
func GetBuffer() *[]byte {
	return receiveBuffers.get()
}

// PutBuffer returns a buffer obtained from GetBuffer. The buffer contents
// are not cleared: every Receive overwrites only what it exposes (the
// first n read bytes, copied out before return), so stale tail bytes are
// never observable and a 9KB wipe per packet buys nothing.
func PutBuffer(bufPtr *[]byte) {
	receiveBuffers.put(bufPtr)
}
