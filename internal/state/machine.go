// Package state implements the registration lifecycle of a locally-owned
// mDNS service per RFC 6762 §§8-10:
//
//	Initial → Probing → Announcing → Established
//	Probing → ConflictDetected (owner renames and reruns the machine)
//	Established → Goodbye → Terminated (on unregister)
//
// Probing (§8.1) sends three type-ANY queries 250ms apart to detect a
// competing claim on the name, with the §8.2 lexicographic tiebreak
// deciding simultaneous probes. Announcing (§8.3) publishes the record
// set with unsolicited responses. Goodbye (§10.1) withdraws it with
// TTL=0 responses. Each service runs its own machine in its own
// goroutine; every blocking phase respects context cancellation.
package state

import (
	"context"
	"sync"
)

// Machine drives one service through the registration lifecycle. Run
// covers Initial through Established (or ConflictDetected); Shutdown
// covers Goodbye through Terminated. The embedded Prober and Announcer
// do the wire work; the responder wires both to its transport and feeds
// the announcer the record set before Run.
//
// Thread safety: state reads/writes go through an RWMutex; transition
// callbacks fire without the lock held so they may query the machine.
type Machine struct {
	prober         *Prober
	announcer      *Announcer
	mu             sync.RWMutex
	onStateChange  func(State)
	currentState   State
	injectConflict bool
}

// NewMachine creates a machine in the Initial state with fresh prober
// and announcer stages.
func NewMachine() *Machine {
	return &Machine{
		currentState: StateInitial,
		prober:       NewProber(),
		announcer:    NewAnnouncer(),
	}
}

// Run executes the registration half of the lifecycle: probe the name,
// then announce the record set.
//
// On a clean run the machine ends in StateEstablished. A conflicting
// probe response leaves it in StateConflictDetected and returns nil; the
// caller renames the service and runs a fresh machine. Context
// cancellation aborts whichever phase is in flight.
func (sm *Machine) Run(ctx context.Context, serviceName string) error {
	sm.setState(StateProbing)

	result := sm.prober.Probe(ctx, serviceName)
	if result.Error != nil {
		return result.Error
	}

	if result.Conflict || sm.injectConflict {
		// the caller owns renaming; this machine's work is done
		sm.setState(StateConflictDetected)
		return nil
	}

	sm.setState(StateAnnouncing)
	if err := sm.announcer.Announce(ctx); err != nil {
		return err
	}

	sm.setState(StateEstablished)
	return nil
}

// Shutdown executes the withdrawal half of the lifecycle: the announcer
// repeats the record set with TTL=0 so peers flush it, and the machine
// ends in StateTerminated. Safe to call from any state; a service that
// never finished announcing still says goodbye for whatever records it
// may have leaked.
func (sm *Machine) Shutdown(ctx context.Context) error {
	sm.setState(StateGoodbye)
	err := sm.announcer.Goodbye(ctx)
	sm.setState(StateTerminated)
	return err
}

// GetState returns the current state.
func (sm *Machine) GetState() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// setState transitions to a new state.
func (sm *Machine) setState(newState State) {
	// Manual unlock required: the transition callback may read machine
	// state, so it must run without the lock held.
	sm.mu.Lock() // nosemgrep: beacon-mutex-defer-unlock
	sm.currentState = newState
	sm.mu.Unlock()

	if sm.onStateChange != nil {
		sm.onStateChange(newState)
	}
}

// SetInjectConflict is a test hook to inject conflict during probing.
//
// Test hook for max rename attempts testing
func (sm *Machine) SetInjectConflict(inject bool) {
	sm.injectConflict = inject
}

// GetProber returns the probing stage, so the responder can wire its
// transport and record set before Run.
func (sm *Machine) GetProber() *Prober {
	return sm.prober
}

// GetAnnouncer returns the announcing stage, so the responder can wire
// its transport and record set before Run.
func (sm *Machine) GetAnnouncer() *Announcer {
	return sm.announcer
}
