// Package state implements the mDNS service registration lifecycle per RFC 6762 §8:
// INIT -> PROBING -> ANNOUNCING -> STEADY, with conflict handling and goodbye.
package state

// State is a node in a locally-owned service's registration lifecycle.
type State int

const (
	// StateInitial is where a freshly registered service starts: nothing
	// has gone out on the wire yet.
	StateInitial State = iota

	// StateProbing covers the three ANY-type probe queries RFC 6762 §8.1
	// requires before a name may be claimed (~250ms apart).
	StateProbing

	// StateAnnouncing covers the unsolicited response broadcasts that
	// follow a clean probe (RFC 6762 §8.3).
	StateAnnouncing

	// StateEstablished is steady state: the service is live and answering
	// queries until updated or unregistered.
	StateEstablished

	// StateConflictDetected marks that a probe response claimed the same
	// name; the owner must pick a new one and probe again from scratch.
	StateConflictDetected

	// StateGoodbye covers the TTL=0 departure broadcasts sent while a
	// service is being withdrawn (RFC 6762 §10.1).
	StateGoodbye

	// StateTerminated is the end of the lifecycle: goodbyes are out and
	// the service no longer answers for its name.
	StateTerminated
)

var stateNames = [...]string{
	StateInitial:          "Initial",
	StateProbing:          "Probing",
	StateAnnouncing:       "Announcing",
	StateEstablished:      "Established",
	StateConflictDetected: "ConflictDetected",
	StateGoodbye:          "Goodbye",
	StateTerminated:       "Terminated",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) && stateNames[s] != "" {
		return stateNames[s]
	}
	return "Unknown"
}
