package state

import (
	"context"
	"time"

	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
	"github.com/beacon-mdns/beacon/internal/records"
)

// Announcer broadcasts a service's record set: fresh-TTL unsolicited
// responses while the service comes up (RFC 6762 §8.3), and TTL=0
// goodbyes while it goes down (RFC 6762 §10.1). The record set is
// supplied once via SetRecords; both phases build their datagrams from
// it through the message assembler, so oversized sets fragment with the
// TC bit instead of overflowing.
type Announcer struct {
	// send transmits a built datagram. Nil leaves the announcer
	// capture-only, which unit tests rely on.
	send func(ctx context.Context, packet []byte) error

	// Test hooks for injection
	onSendAnnouncement func()
	lastDestAddr       string

	// Message capture for contract test validation
	lastAnnounceMessage []byte // Last sent announcement message (wire format)
	lastGoodbyeMessage  []byte // Last sent goodbye message (wire format)

	// Resource records to announce (DNS wire format serialization)
	resourceRecords []*records.ResourceRecord
}

// Announcement repetition per RFC 6762: §8.3 requires at least two
// fresh-TTL announcements one second apart; goodbyes repeat three times
// so a single lost datagram does not strand stale records in peer caches.
const (
	announcementCount    = 2
	goodbyeCount         = 3
	announcementInterval = 1 * time.Second
)

// NewAnnouncer creates a new announcer.
func NewAnnouncer() *Announcer {
	return &Announcer{
		lastDestAddr: "224.0.0.251:5353", // RFC 6762 §5 multicast address
	}
}

// Announce sends the unsolicited fresh-TTL responses that publish the
// record set: announcementCount transmissions, announcementInterval
// apart, aborted by ctx.
func (a *Announcer) Announce(ctx context.Context) error {
	return a.broadcast(ctx, announcementCount, false)
}

// Goodbye withdraws the record set: the same records go out with TTL=0,
// goodbyeCount times, so peers flush their caches (RFC 6762 §10.1).
func (a *Announcer) Goodbye(ctx context.Context) error {
	return a.broadcast(ctx, goodbyeCount, true)
}

// broadcast builds the response datagrams (zero-TTL copies when saying
// goodbye) and transmits them count times at the announcement interval.
func (a *Announcer) broadcast(ctx context.Context, count int, goodbye bool) error {
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		datagrams, err := a.buildDatagrams(goodbye)
		if err != nil {
			return err
		}

		if goodbye {
			a.lastGoodbyeMessage = datagrams[0]
		} else {
			a.lastAnnounceMessage = datagrams[0]
		}

		if a.onSendAnnouncement != nil {
			a.onSendAnnouncement()
		}

		if a.send != nil {
			for _, datagram := range datagrams {
				if err := a.send(ctx, datagram); err != nil {
					return err
				}
			}
		}

		// Wait before the next repetition (except after the last)
		if i < count-1 {
			timer := time.NewTimer(announcementInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return nil
}

// buildDatagrams renders the record set as one or more unsolicited
// response datagrams. An announcer with no records yields a bare QR|AA
// header, which unit tests drive the timing paths with.
func (a *Announcer) buildDatagrams(goodbye bool) ([][]byte, error) {
	out := &message.Outgoing{Flags: protocol.FlagQR | protocol.FlagAA}
	for _, rr := range a.resourceRecords {
		record := *rr
		if goodbye {
			record.TTL = 0
		}
		out.Answers = append(out.Answers, &record)
	}
	return out.Datagrams(protocol.MaxDatagramPayload)
}

// GetLastAnnounceMessage returns the last sent announcement message.
//
// Contract test support for RFC 6762 §8.3 validation
func (a *Announcer) GetLastAnnounceMessage() []byte {
	return a.lastAnnounceMessage
}

// SetLastAnnounceMessage sets the last announcement message (for testing/transport integration).
func (a *Announcer) SetLastAnnounceMessage(msg []byte) {
	a.lastAnnounceMessage = msg
}

// GetLastGoodbyeMessage returns the last sent goodbye message.
func (a *Announcer) GetLastGoodbyeMessage() []byte {
	return a.lastGoodbyeMessage
}

// SetOnSendAnnouncement sets the callback to be called when an announcement is sent.
//
// Contract test support for RFC 6762 §8.3 validation
func (a *Announcer) SetOnSendAnnouncement(callback func()) {
	a.onSendAnnouncement = callback
}

// GetLastDestAddr returns the last destination address used for announcements.
//
// Contract test support for RFC 6762 §5 multicast address validation
func (a *Announcer) GetLastDestAddr() string {
	return a.lastDestAddr
}

// SetRecords supplies the resource records both Announce and Goodbye
// transmit. Called by the responder before the machine runs.
func (a *Announcer) SetRecords(records []*records.ResourceRecord) {
	a.resourceRecords = records
}

// SetSendFunc wires the announcer to a transport. Messages built before
// a send func is set are captured but not transmitted.
func (a *Announcer) SetSendFunc(send func(ctx context.Context, packet []byte) error) {
	a.send = send
}
