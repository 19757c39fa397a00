package state

import (
	"context"
	"time"

	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
)

// ProbeResult represents the result of probing.
type ProbeResult struct {
	Conflict bool  // true if naming conflict detected
	Error    error // error if probing failed
}

// Prober performs probing per RFC 6762 §8.1.
//
// RFC 6762 §8.1: "Before claiming a unique record, a host MUST send at least
// two probe queries, 250 milliseconds apart."
//
// Beacon implementation: Send exactly 3 probes for robust conflict detection.
//
// Implement Prober
// Integrate ConflictDetector with Prober
type Prober struct {
	// send transmits a built probe datagram. Nil leaves probing
	// capture-only, which unit tests rely on.
	send func(ctx context.Context, packet []byte) error

	// Test hooks for injection
	onSendQuery         func()
	injectConflictAfter int

	// ConflictDetector integration
	ourRecords       []message.ResourceRecord  // Our records being probed
	incomingRecords  []message.ResourceRecord  // Incoming probe responses (test hook)
	conflictDetector ConflictDetectorInterface // For detecting conflicts

	// Message capture for contract test validation
	lastProbeMessage []byte // Last sent probe message (wire format)
}

// ConflictDetectorInterface is the record-level tiebreak the prober
// consults: the responder package's ConflictDetector satisfies it with
// the RFC 6762 §8.2 lexicographic comparison, without this package
// depending on responder directly.
type ConflictDetectorInterface interface {
	DetectRecordConflict(ourRecord, incomingRecord message.ResourceRecord) (bool, error)
}

// NewProber creates a new prober.
func NewProber() *Prober {
	return &Prober{}
}

// Probe sends probe queries to detect naming conflicts.
//
// RFC 6762 §8.1: Probing process
//   - Send 3 probe queries
//   - 250ms intervals between probes
//   - Total duration: ~750ms
//
// Parameters:
//   - ctx: Context for cancellation
//   - serviceName: Full service name (e.g., "My Printer._http._tcp.local")
//
// Returns:
//   - ProbeResult: Result with Conflict flag and any error
//
// Implement probing with 3 queries × 250ms intervals
func (p *Prober) Probe(ctx context.Context, serviceName string) ProbeResult {
	const probeCount = 3

	for i := 0; i < probeCount; i++ {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return ProbeResult{Error: ctx.Err()}
		default:
		}

		// Send probe query
		// RFC 6762 §8.1: a type-ANY (255) question for the probed name,
		// with our proposed records in the authority section so a
		// simultaneous prober can run the §8.2 tiebreak.
		probeMsg, err := p.buildProbeMessage(serviceName)
		if err != nil {
			return ProbeResult{Error: err}
		}
		p.lastProbeMessage = probeMsg

		// Notify test hooks
		if p.onSendQuery != nil {
			p.onSendQuery()
		}

		if p.send != nil {
			if err := p.send(ctx, probeMsg); err != nil {
				return ProbeResult{Error: err}
			}
		}

		// Run the §8.2 tiebreak against any probe responses observed so
		// far: each of their records is compared with each of ours, and a
		// single lost comparison ends probing with a conflict
		if p.conflictDetector != nil && len(p.incomingRecords) > 0 && len(p.ourRecords) > 0 {
			for _, ourRecord := range p.ourRecords {
				for _, incomingRecord := range p.incomingRecords {
					conflict, err := p.conflictDetector.DetectRecordConflict(ourRecord, incomingRecord)
					if err != nil {
						return ProbeResult{Error: err}
					}
					if conflict {
						return ProbeResult{Conflict: true}
					}
				}
			}
		}

		// Check for injected conflict (test hook - legacy)
		if p.injectConflictAfter > 0 && i >= p.injectConflictAfter {
			return ProbeResult{Conflict: true}
		}

		// Wait 250ms before next probe (except after last probe)
		if i < probeCount-1 {
			timer := time.NewTimer(protocol.ProbeInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ProbeResult{Error: ctx.Err()}
			case <-timer.C:
				// Continue to next probe
			}
		}
	}

	// No conflict detected
	return ProbeResult{Conflict: false}
}

// buildProbeMessage assembles the wire-format probe datagram: one ANY
// question for serviceName plus the proposed record set as authorities.
// The assembler's name writer accepts DNS-SD instance labels with spaces
// and UTF-8 (RFC 6763 §4.3).
func (p *Prober) buildProbeMessage(serviceName string) ([]byte, error) {
	out := &message.Outgoing{
		Questions: []message.QueryQuestion{{
			Name: serviceName,
			Type: uint16(protocol.RecordTypeANY),
		}},
	}
	for i := range p.ourRecords {
		out.Authorities = append(out.Authorities, &p.ourRecords[i])
	}

	datagrams, err := out.Datagrams(protocol.MaxDatagramPayload)
	if err != nil {
		return nil, err
	}
	return datagrams[0], nil
}

// SetSendFunc wires the prober to a transport. Probes built before a
// send func is set are captured but not transmitted.
func (p *Prober) SetSendFunc(send func(ctx context.Context, packet []byte) error) {
	p.send = send
}

// SetOurRecords supplies the tentative record set being probed for: the
// records ride in the probe's authority section and are our side of any
// §8.2 tiebreak.
func (p *Prober) SetOurRecords(records []message.ResourceRecord) {
	p.ourRecords = records
}

// InjectIncomingResponse feeds probe responses observed on the wire (or
// by a test) into the tiebreak check.
func (p *Prober) InjectIncomingResponse(records []message.ResourceRecord) {
	p.incomingRecords = records
}

// SetConflictDetector sets the conflict detector to use.
//
// Allow injection of ConflictDetector for testing
func (p *Prober) SetConflictDetector(detector ConflictDetectorInterface) {
	p.conflictDetector = detector
}

// GetLastProbeMessage returns the last sent probe message.
//
// Contract test support for RFC 6762 §8.1 validation
func (p *Prober) GetLastProbeMessage() []byte {
	return p.lastProbeMessage
}

// SetLastProbeMessage sets the last probe message (for testing/transport integration).
//
// Allow transport layer to record sent messages
func (p *Prober) SetLastProbeMessage(msg []byte) {
	p.lastProbeMessage = msg
}

// SetOnSendQuery sets the callback to be called when a probe query is sent.
//
// Contract test support for RFC 6762 §8.1 validation
func (p *Prober) SetOnSendQuery(callback func()) {
	p.onSendQuery = callback
}
