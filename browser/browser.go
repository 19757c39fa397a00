// Package browser implements continuous DNS-SD service browsing: for a
// set of service types it watches PTR records enter, refresh, and leave
// the shared record cache, emitting Added/Updated/Removed events to a
// caller-supplied listener per RFC 6763 §4.
package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/beacon-mdns/beacon/internal/cache"
	"github.com/beacon-mdns/beacon/internal/engine"
	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
)

// EventKind classifies a service instance transition.
type EventKind int

const (
	// Added fires the first time an instance is observed.
	Added EventKind = iota
	// Updated fires when a known instance's PTR refreshes.
	Updated
	// Removed fires on a goodbye (TTL=0) or TTL expiry.
	Removed
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case Added:
		return "Added"
	case Updated:
		return "Updated"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// Listener receives service state transitions. Calls arrive on the
// engine's receive goroutine or the browser's query goroutine; per
// instance, Added precedes Updated precedes Removed, while ordering
// across instances is unspecified.
type Listener interface {
	ServiceStateChanged(serviceType, instanceName string, kind EventKind)
}

// maxQueryInterval caps the periodic PTR re-query backoff, RFC 6762 §5.2.
const maxQueryInterval = time.Hour

// Browser watches a set of service types and emits instance events. It
// repeats PTR queries on an exponential schedule (1s, 2s, 4s, ... capped
// at one hour), resetting whenever a new answer arrives, and attaches the
// currently-valid PTR set as known answers to each query.
type Browser struct {
	eng      *engine.Engine
	listener Listener

	// types maps lowercased service type -> display form.
	types map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	seen    map[string]map[string]string // type key -> instance key -> display name
	backoff *engine.Backoff
	reset   chan struct{}
	closed  bool
}

// New starts browsing serviceTypes, delivering events to listener. The
// browser registers itself on the engine and detaches on Close.
func New(eng *engine.Engine, serviceTypes []string, listener Listener) (*Browser, error) {
	if len(serviceTypes) == 0 {
		return nil, &errors.ValidationError{Field: "serviceTypes", Message: "at least one service type required"}
	}
	if listener == nil {
		return nil, &errors.ValidationError{Field: "listener", Message: "listener cannot be nil"}
	}

	b := &Browser{
		eng:      eng,
		listener: listener,
		types:    make(map[string]string, len(serviceTypes)),
		seen:     make(map[string]map[string]string),
		backoff:  engine.NewBackoff(maxQueryInterval),
		reset:    make(chan struct{}, 1),
	}
	for _, t := range serviceTypes {
		if err := protocol.ValidateName(t); err != nil {
			return nil, err
		}
		key := nameKey(t)
		b.types[key] = t
		b.seen[key] = make(map[string]string)
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	eng.AddListener(b)

	b.wg.Add(1)
	go b.queryLoop()
	return b, nil
}

// RecordUpdated implements engine.RecordListener: PTR transitions for a
// browsed type become instance events.
func (b *Browser) RecordUpdated(rec cache.Record, now time.Time) {
	if rec.Type != protocol.RecordTypePTR {
		return
	}
	typeKey := nameKey(rec.Name)

	b.mu.Lock()
	serviceType, watched := b.types[typeKey]
	if !watched {
		b.mu.Unlock()
		return
	}

	instance, ok := decodePTRTarget(rec.Data)
	if !ok {
		b.mu.Unlock()
		return
	}
	instanceKey := nameKey(instance)

	var kind EventKind
	_, known := b.seen[typeKey][instanceKey]
	switch {
	case rec.TTL == 0 || rec.Expired(now):
		if !known {
			b.mu.Unlock()
			return
		}
		delete(b.seen[typeKey], instanceKey)
		kind = Removed
	case !known:
		b.seen[typeKey][instanceKey] = instance
		kind = Added
	default:
		kind = Updated
	}
	b.mu.Unlock()

	if kind == Added {
		// a new answer restarts the query backoff, RFC 6762 §5.2
		b.mu.Lock()
		b.backoff.Reset()
		b.mu.Unlock()
		select {
		case b.reset <- struct{}{}:
		default:
		}
	}

	b.listener.ServiceStateChanged(serviceType, instance, kind)
}

// queryLoop drives the periodic PTR queries and expiry sweeps.
func (b *Browser) queryLoop() {
	defer b.wg.Done()

	for {
		b.sendQueries()

		b.mu.Lock()
		wait := b.backoff.Next()
		if wait == 0 {
			// the immediate first send just happened; take the next step
			wait = b.backoff.Next()
		}
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-b.ctx.Done():
			timer.Stop()
			return
		case <-b.reset:
			timer.Stop()
		case <-timer.C:
		}

		b.sweepExpired()
	}
}

// sendQueries emits one PTR query per browsed type, with every valid
// cached PTR of that type attached as a known answer so responders can
// suppress what this host already has.
func (b *Browser) sendQueries() {
	b.mu.Lock()
	types := make([]string, 0, len(b.types))
	for _, t := range b.types {
		types = append(types, t)
	}
	b.mu.Unlock()

	now := time.Now()
	for _, serviceType := range types {
		questions := []message.QueryQuestion{{
			Name: serviceType,
			Type: uint16(protocol.RecordTypePTR),
		}}

		var known []*message.ResourceRecord
		for _, rec := range b.eng.Cache().GetByName(serviceType) {
			if rec.Type != protocol.RecordTypePTR {
				continue
			}
			known = append(known, &message.ResourceRecord{
				Name:  rec.Name,
				Type:  rec.Type,
				Class: rec.Class,
				TTL:   remainingSeconds(rec, now),
				Data:  rec.Data,
			})
		}

		ctx, cancel := context.WithTimeout(b.ctx, time.Second)
		// send failures are transient; the next backoff tick retries
		_ = b.eng.SendQuery(ctx, questions, known)
		cancel()
	}
}

// sweepExpired emits Removed for instances whose PTR silently aged out
// of the cache (no goodbye seen).
func (b *Browser) sweepExpired() {
	type removal struct {
		serviceType string
		instance    string
	}
	var removals []removal

	b.mu.Lock()
	for typeKey, instances := range b.seen {
		serviceType := b.types[typeKey]
		valid := make(map[string]struct{})
		for _, rec := range b.eng.Cache().GetByName(serviceType) {
			if rec.Type != protocol.RecordTypePTR {
				continue
			}
			if target, ok := decodePTRTarget(rec.Data); ok {
				valid[nameKey(target)] = struct{}{}
			}
		}
		for instanceKey, display := range instances {
			if _, still := valid[instanceKey]; !still {
				delete(instances, instanceKey)
				removals = append(removals, removal{serviceType, display})
			}
		}
	}
	b.mu.Unlock()

	for _, r := range removals {
		b.listener.ServiceStateChanged(r.serviceType, r.instance, Removed)
	}
}

// Instances returns the currently known instance names for serviceType.
func (b *Browser) Instances(serviceType string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	instances := b.seen[nameKey(serviceType)]
	out := make([]string, 0, len(instances))
	for _, display := range instances {
		out = append(out, display)
	}
	return out
}

// Close detaches the browser from the engine and stops its query loop.
// No events are delivered after Close returns.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.eng.RemoveListener(b)
	b.cancel()
	b.wg.Wait()
	return nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

func decodePTRTarget(rdata []byte) (string, bool) {
	target, _, err := message.ParseName(rdata, 0)
	if err != nil || target == "" {
		return "", false
	}
	return target, true
}

func remainingSeconds(rec *cache.Record, now time.Time) uint32 {
	elapsed := now.Sub(rec.CreatedAt)
	if elapsed <= 0 {
		return rec.TTL
	}
	used := uint32(elapsed / time.Second) //nolint:gosec // TTL bounded to 32 bits on the wire
	if used >= rec.TTL {
		return 0
	}
	return rec.TTL - used
}
