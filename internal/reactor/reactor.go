// Package reactor multiplexes the engine's UDP sockets and timers.
//
// A Reactor owns one socket per selected interface/address family, runs a
// receive goroutine per socket plus a single timer goroutine, and hands
// every parsed inbound datagram to the engine's handler. All scheduled
// work (cache reaping, probe and announce steps, query retries) runs on
// the timer goroutine, keyed by absolute deadline in a min-heap.
package reactor

import (
	"container/heap"
	"context"
	goerrors "errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/transport"
)

// Family selects an address family for socket matching.
type Family int

const (
	// FamilyIPv4 matches IPv4 sockets (group 224.0.0.251).
	FamilyIPv4 Family = iota
	// FamilyIPv6 matches IPv6 sockets (group ff02::fb).
	FamilyIPv6
	// FamilyAll matches every socket.
	FamilyAll
)

// reopenBackoff is how long an unhealthy socket stays down before the
// receive loop attempts to reopen it.
const reopenBackoff = 5 * time.Second

// receivePollInterval bounds each blocking Receive call so the loop can
// observe shutdown without a poller wakeup primitive.
const receivePollInterval = 500 * time.Millisecond

// Handler consumes one parsed inbound datagram. It runs on the receiving
// socket's goroutine: per-interface receive order is preserved, so
// handlers must not block for long.
type Handler func(msg *message.DNSMessage, src net.Addr)

// Socket pairs a transport with its family and an optional factory used
// to reopen it after a receive failure. A nil Reopen means failures only
// back off and retry the existing transport.
type Socket struct {
	Transport transport.Transport
	Family    Family
	Reopen    func() (transport.Transport, error)
}

type socketState struct {
	mu      sync.Mutex
	current transport.Transport
	family  Family
	reopen  func() (transport.Transport, error)
}

func (s *socketState) transport() transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *socketState) replace(t transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = t
}

// Reactor runs the receive and timer loops over a fixed socket set.
type Reactor struct {
	sockets []*socketState
	handler Handler
	log     *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	timers  timerHeap
	nextID  uint64
	kick    chan struct{}
	closed  bool
	started bool
}

// New creates a Reactor over sockets, dispatching parsed datagrams to
// handler. A nil log falls back to the process-wide standard logger.
func New(sockets []Socket, handler Handler, log *logrus.Logger) *Reactor {
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := &Reactor{
		handler: handler,
		log:     log,
		kick:    make(chan struct{}, 1),
	}
	for _, s := range sockets {
		r.sockets = append(r.sockets, &socketState{
			current: s.Transport,
			family:  s.Family,
			reopen:  s.Reopen,
		})
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.group, _ = errgroup.WithContext(r.ctx)
	return r
}

// Start launches one receive goroutine per socket and the timer loop.
// It is a no-op after the first call.
func (r *Reactor) Start() {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	for _, s := range r.sockets {
		s := s
		r.group.Go(func() error {
			r.receiveLoop(s)
			return nil
		})
	}
	r.group.Go(func() error {
		r.timerLoop()
		return nil
	})
}

// receiveLoop reads datagrams from one socket until shutdown. Transient
// receive errors mark the socket unhealthy: the loop backs off, then
// reopens the socket (when a factory was provided) and resumes. Errors on
// one socket never stop the reactor.
func (r *Reactor) receiveLoop(s *socketState) {
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		recvCtx, cancel := context.WithTimeout(r.ctx, receivePollInterval)
		packet, src, err := s.transport().Receive(recvCtx)
		cancel()

		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			if isDeadline(err) {
				continue
			}
			r.log.WithError(err).Warn("socket receive failed, backing off")
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(reopenBackoff):
			}
			r.reopenSocket(s)
			continue
		}

		msg, err := message.ParseMessage(packet)
		if err != nil {
			// Protocol-violating datagrams are dropped, never surfaced.
			r.log.WithError(err).WithField("source", addrString(src)).
				Debug("dropping malformed datagram")
			continue
		}

		r.handler(msg, src)
	}
}

func (r *Reactor) reopenSocket(s *socketState) {
	if s.reopen == nil {
		return
	}
	replacement, err := s.reopen()
	if err != nil {
		r.log.WithError(err).Warn("socket reopen failed, will retry")
		return
	}
	old := s.transport()
	s.replace(replacement)
	if old != nil {
		_ = old.Close()
	}
	r.log.Info("socket reopened after backoff")
}

// isDeadline reports whether err is a context deadline or a net timeout,
// i.e. an idle poll rather than a socket failure.
func isDeadline(err error) bool {
	if goerrors.Is(err, context.DeadlineExceeded) || goerrors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if goerrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func addrString(a net.Addr) string {
	if a == nil {
		return "unknown"
	}
	return a.String()
}

// Schedule queues fn to run on the timer goroutine after delay, returning
// a token usable with Cancel. After Close, the callback is silently
// dropped and the zero token returned.
func (r *Reactor) Schedule(delay time.Duration, fn func()) uint64 {
	return r.ScheduleAt(time.Now().Add(delay), fn)
}

// ScheduleAt queues fn to run at the absolute time at.
func (r *Reactor) ScheduleAt(at time.Time, fn func()) uint64 {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	r.nextID++
	id := r.nextID
	heap.Push(&r.timers, &timerEntry{at: at, fn: fn, id: id})
	r.mu.Unlock()

	select {
	case r.kick <- struct{}{}:
	default:
	}
	return id
}

// Cancel removes a previously scheduled callback. Cancelling an already
// fired or unknown token is a no-op.
func (r *Reactor) Cancel(id uint64) {
	if id == 0 {
		return
	}
	r.mu.Lock()
	r.timers.removeByID(id)
	r.mu.Unlock()
}

// timerLoop sleeps until the earliest deadline, runs everything due, and
// repeats. Schedule/Cancel wake it early via the kick channel.
func (r *Reactor) timerLoop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var wait time.Duration
		r.mu.Lock()
		if len(r.timers) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(r.timers[0].at)
		}
		r.mu.Unlock()

		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-r.ctx.Done():
			return
		case <-r.kick:
		case <-timer.C:
		}

		for _, fn := range r.popDue(time.Now()) {
			fn()
		}
	}
}

// popDue removes and returns every callback whose deadline has passed.
func (r *Reactor) popDue(now time.Time) []func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []func()
	for len(r.timers) > 0 && !r.timers[0].at.After(now) {
		entry := heap.Pop(&r.timers).(*timerEntry)
		due = append(due, entry.fn)
	}
	return due
}

// Send transmits packet on every socket matching family. A nil dest means
// each socket's mDNS multicast group; a unicast dest is only sent on
// sockets of its own family. The first send error is returned after all
// sockets have been attempted.
func (r *Reactor) Send(ctx context.Context, packet []byte, family Family, dest net.Addr) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &errors.ClosedError{Operation: "send"}
	}
	r.mu.Unlock()

	if dest != nil {
		family = destFamily(dest)
	}

	var firstErr error
	for _, s := range r.sockets {
		if family != FamilyAll && s.family != family {
			continue
		}
		if err := s.transport().Send(ctx, packet, dest); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// destFamily classifies a unicast destination address.
func destFamily(dest net.Addr) Family {
	udp, ok := dest.(*net.UDPAddr)
	if !ok || udp.IP.To4() != nil {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// Close stops the receive and timer loops, waits for them to exit, and
// closes every socket. Safe to call more than once.
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.timers = nil
	r.mu.Unlock()

	r.cancel()
	_ = r.group.Wait()

	var firstErr error
	for _, s := range r.sockets {
		if t := s.transport(); t != nil {
			if err := t.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
