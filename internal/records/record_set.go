// Package records implements resource record construction per RFC 6762/6763.
package records

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/beacon-mdns/beacon/internal/message"
)

// ServiceInfo holds the string-keyed service description the responder
// facade works with: one hostname, at most one address per family, and
// TXT metadata as plain key=value strings.
//
// It is a narrowing of InstanceRecords (instance.go), which carries
// byte-valued TXT properties, any number of addresses, and subtypes; the
// record set for both shapes is built by the same code.
type ServiceInfo struct {
	InstanceName string            // "My Printer"
	ServiceType  string            // "_http._tcp.local"
	Hostname     string            // "myhost.local"
	Port         int               // 8080
	IPv4Address  []byte            // [192, 168, 1, 100]
	IPv6Address  []byte            // 16-byte IPv6 address, nil if the host has none
	TXTRecords   map[string]string // {"version": "1.0"}
}

// BuildRecordSet constructs the complete record set for a service.
//
// RFC 6763 §6: A registered service includes:
//   - PTR record: _service._proto.local → instance._service._proto.local
//   - SRV record: instance._service._proto.local → hostname:port
//   - TXT record: instance._service._proto.local → key-value pairs
//   - A record: hostname.local → IPv4 address
//   - AAAA record: hostname.local → IPv6 address, when the host has one
//
// The heavy lifting lives in InstanceRecords.Build; this converts the
// facade's ServiceInfo shape into it.
//
// System MUST build complete record set (PTR, SRV, TXT, A)
func BuildRecordSet(service *ServiceInfo) []*message.ResourceRecord {
	ir := service.toInstanceRecords()
	return ir.Build()
}

// toInstanceRecords widens a ServiceInfo to the full InstanceRecords
// model: string TXT values become byte values, the per-family address
// fields become the address list, and out-of-range ports collapse to 0
// (the SRV encoder's 16-bit field cannot carry them anyway).
func (service *ServiceInfo) toInstanceRecords() *InstanceRecords {
	port := service.Port
	if port < 0 || port > 65535 {
		port = 0
	}

	var properties map[string][]byte
	if len(service.TXTRecords) > 0 {
		properties = make(map[string][]byte, len(service.TXTRecords))
		for key, value := range service.TXTRecords {
			properties[key] = []byte(value)
		}
	}

	addresses := make([][]byte, 0, 2)
	if len(service.IPv4Address) == 4 {
		addresses = append(addresses, service.IPv4Address)
	} else {
		// a service with no resolvable IPv4 still announces; peers see
		// the unspecified address and fall back to AAAA
		addresses = append(addresses, []byte{0, 0, 0, 0})
	}
	if len(service.IPv6Address) == 16 {
		addresses = append(addresses, service.IPv6Address)
	}

	return &InstanceRecords{
		InstanceName: service.InstanceName,
		ServiceType:  service.ServiceType,
		Hostname:     service.Hostname,
		Port:         uint16(port), //nolint:gosec // bounds checked above
		Properties:   properties,
		Addresses:    addresses,
	}
}

// ResourceRecord is a type alias for message.ResourceRecord.
// This allows tests to reference ResourceRecord without importing message package.
type ResourceRecord = message.ResourceRecord

// RecordSet tracks per-record, per-sink multicast timestamps for the
// RFC 6762 §6.2 rate limit.
//
// RFC 6762 §6.2: "A Multicast DNS responder MUST NOT multicast a given resource record
// on a given interface until at least one second has elapsed since the last time that
// resource record was multicast on that particular interface."
//
// Rate limiting is:
//   - PER RECORD: Different records have independent rate limits
//   - PER SINK: the same record may go out on different interfaces
//     independently (callers pass an interface name, or one shared id
//     when a send fans out to every socket at once)
//
// Exception per RFC 6762 §6.2: Probe defense allows 250ms minimum instead of 1 second
//
// Safe for concurrent use: the query/response engine consults it from the
// receive goroutines and the timer goroutine at once.
type RecordSet struct {
	mu sync.Mutex

	// lastMulticast tracks per-record, per-sink multicast timestamps
	// Key: buildRecordKey(rr) + ":" + interfaceID
	// Value: timestamp of last multicast (Unix nanoseconds for 250ms probe defense precision)
	lastMulticast map[string]int64
}

// NewRecordSet creates a new RecordSet for rate limiting tracking.
func NewRecordSet() *RecordSet {
	return &RecordSet{
		lastMulticast: make(map[string]int64),
	}
}

// CanMulticast checks if a record can be multicast on the given sink per RFC 6762 §6.2.
//
// Returns:
//   - true: Record can be multicast (≥1 second since last multicast, or never multicast)
//   - false: Record cannot be multicast (rate limit not yet elapsed)
func (rs *RecordSet) CanMulticast(rr *ResourceRecord, interfaceID string) bool {
	return rs.elapsed(rr, interfaceID) >= time.Second
}

// CanMulticastProbeDefense checks if probe defense multicast is allowed per RFC 6762 §6.2.
//
// RFC 6762 §6.2: "The one exception is that a Multicast DNS responder MUST respond
// quickly (at most 250 ms after detecting the conflict) when answering probe queries
// for the purpose of defending its name."
func (rs *RecordSet) CanMulticastProbeDefense(rr *ResourceRecord, interfaceID string) bool {
	return rs.elapsed(rr, interfaceID) >= 250*time.Millisecond
}

// elapsed reports the time since rr was last multicast on interfaceID; a
// record never sent reports a very large duration.
func (rs *RecordSet) elapsed(rr *ResourceRecord, interfaceID string) time.Duration {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	lastTimeNano, exists := rs.lastMulticast[rs.buildRecordKey(rr)+":"+interfaceID]
	if !exists {
		return time.Duration(1<<62 - 1)
	}
	return time.Duration(time.Now().UnixNano() - lastTimeNano)
}

// RecordMulticast records that a multicast was sent for this record on this sink.
func (rs *RecordSet) RecordMulticast(rr *ResourceRecord, interfaceID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.lastMulticast[rs.buildRecordKey(rr)+":"+interfaceID] = time.Now().UnixNano()
}

// GetLastMulticast returns the last multicast time for a record on a sink.
//
// Returns:
//   - time.Time: Last multicast timestamp
//   - bool: true if record was multicast before, false if never multicast
func (rs *RecordSet) GetLastMulticast(rr *ResourceRecord, interfaceID string) (time.Time, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	lastTimeNano, exists := rs.lastMulticast[rs.buildRecordKey(rr)+":"+interfaceID]
	if !exists {
		return time.Time{}, false
	}
	return time.Unix(0, lastTimeNano), true
}

// buildRecordKey generates the rate-limit key for a resource record:
// lowercased name (DNS names compare case-insensitively), type, class,
// and RDATA. TTL is NOT part of the key — the same record observed with a
// different TTL is still the same record.
func (rs *RecordSet) buildRecordKey(rr *ResourceRecord) string {
	return fmt.Sprintf("%d:%d:%s:%s", rr.Type, rr.Class, strings.ToLower(rr.Name), string(rr.Data))
}
