// Package records manages DNS resource records with TTL tracking.
package records

import (
	"time"

	"github.com/beacon-mdns/beacon/internal/protocol"
)

// defaultTTLByType maps an RFC 6762 §10 recommendation: hostname address
// records live much longer than service records, since a host's address
// changes far less often than its service set.
var defaultTTLByType = map[protocol.RecordType]uint32{
	protocol.RecordTypeA:    protocol.TTLHostname,
	protocol.RecordTypeAAAA: protocol.TTLHostname,
	protocol.RecordTypeSRV:  protocol.TTLService,
	protocol.RecordTypeTXT:  protocol.TTLService,
	protocol.RecordTypePTR:  protocol.TTLService,
}

// RecordTTL tracks a record's age against its advertised lifetime so that
// the cache and response builder can compute "TTL remaining" independent of
// when a record was first observed.
type RecordTTL struct {
	RecordType protocol.RecordType
	TTL        uint32 // seconds, as advertised on the wire at creation
	CreatedAt  time.Time
}

// NewRecordTTL stamps a record of the given type with the current time as
// its creation instant.
func NewRecordTTL(rt protocol.RecordType, ttl uint32) *RecordTTL {
	return &RecordTTL{RecordType: rt, TTL: ttl, CreatedAt: time.Now()}
}

// age reports how long ago the record was created, in whole seconds.
func (r *RecordTTL) age() uint32 {
	return uint32(time.Since(r.CreatedAt).Seconds())
}

// GetRemainingTTL returns max(0, TTL - age) in seconds; 0 once the record's
// advertised lifetime has elapsed.
func (r *RecordTTL) GetRemainingTTL() uint32 {
	a := r.age()
	if a >= r.TTL {
		return 0
	}
	return r.TTL - a
}

// IsExpired reports whether the record's lifetime has fully elapsed.
func (r *RecordTTL) IsExpired() bool {
	return time.Since(r.CreatedAt) >= time.Duration(r.TTL)*time.Second
}

// GetTTLForRecordType returns the conventional default TTL for a record
// type: 4500s for address records, 120s for everything else (RFC 6762 §10).
func GetTTLForRecordType(rt protocol.RecordType) uint32 {
	if ttl, ok := defaultTTLByType[rt]; ok {
		return ttl
	}
	return protocol.TTLService
}
