// Package cache implements the shared mDNS record cache per RFC 6762 §10.
//
// The cache is a content-addressed store of records learned from the
// network, keyed by name, with per-record TTL expiry and cache-flush
// eviction of stale peers. It is independent of the local service
// registry (internal/responder): the registry holds records this host
// is authoritative for, the cache holds records observed from others.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
)

// flushGraceWindow is how long a just-inserted record is protected from
// cache-flush eviction by a duplicate probe, per RFC 6762 §10.2.
const flushGraceWindow = 1 * time.Second

// Record is a single cached resource record with its arrival timestamp.
//
// Identity of a record, per RFC 6762 §10.2, is (name-key, type,
// class-low-15-bits, rdata). Two records with equal identity but
// different TTL/timestamp are the same record; the newer observation
// wins.
type Record struct {
	Name       string // original-case name, as received
	Type       protocol.RecordType
	Class      protocol.DNSClass // low 15 bits only, cache-flush bit stripped
	CacheFlush bool
	TTL        uint32
	Data       []byte
	CreatedAt  time.Time
}

// nameKey canonicalises a name for case-insensitive comparison per
// RFC 1035 §3.1: lowercased, with any trailing root dot stripped so
// "Name._http._tcp.local." and "name._http._tcp.local" collide.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// identity returns the (type, class, rdata) tuple used to compare two
// records for equality once their name-keys already match.
type identity struct {
	recordType protocol.RecordType
	class      protocol.DNSClass
	data       string
}

func (r *Record) identity() identity {
	return identity{recordType: r.Type, class: r.Class, data: string(r.Data)}
}

// Expired reports whether the record's TTL has elapsed as of now.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.CreatedAt.Add(time.Duration(r.TTL) * time.Second))
}

// FromAnswer converts a parsed wire-format answer into a cache Record
// observed at now.
func FromAnswer(a message.Answer, now time.Time) Record {
	class := protocol.DNSClass(a.CLASS &^ uint16(protocol.CacheFlushBit))
	flush := a.CLASS&uint16(protocol.CacheFlushBit) != 0

	return Record{
		Name:       a.NAME,
		Type:       protocol.RecordType(a.TYPE),
		Class:      class,
		CacheFlush: flush,
		TTL:        a.TTL,
		Data:       a.RDATA,
		CreatedAt:  now,
	}
}

// Cache is the shared, mutex-protected record store described in the
// Cache component. All reads and writes are serialised by a single
// mutex; get_by_name/get_by_details and friends copy references under
// the lock so the caller can safely range over the result after the
// lock is released.
type Cache struct {
	mu      sync.Mutex
	records map[string][]*Record // name-key -> records for that name
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{records: make(map[string][]*Record)}
}

// Add inserts record as observed at now, per RFC 6762 §10.2:
//   - a record with equal identity to an existing one replaces it in place
//     (refreshing TTL/CreatedAt; this is "the same record, newer observation").
//   - if the inbound record has the cache-flush bit set, every other record
//     sharing its (name, type, class) and created more than 1s ago is evicted.
func (c *Cache) Add(rec Record, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := nameKey(rec.Name)
	bucket := c.records[key]
	want := rec.identity()

	for _, existing := range bucket {
		if existing.identity() == want {
			existing.TTL = rec.TTL
			existing.CreatedAt = now
			existing.CacheFlush = rec.CacheFlush
			return
		}
	}

	if rec.CacheFlush {
		kept := bucket[:0]
		for _, existing := range bucket {
			sameGroup := existing.Type == rec.Type && existing.Class == rec.Class
			if sameGroup && existing.CreatedAt.Before(now.Add(-flushGraceWindow)) {
				continue // evicted: stale peer of a flushed (name,type,class)
			}
			kept = append(kept, existing)
		}
		bucket = kept
	}

	stored := rec
	stored.CreatedAt = now
	bucket = append(bucket, &stored)
	c.records[key] = bucket
}

// Remove deletes the record matching rec's identity, if present.
func (c *Cache) Remove(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := nameKey(rec.Name)
	bucket := c.records[key]
	want := rec.identity()

	for i, existing := range bucket {
		if existing.identity() == want {
			c.records[key] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// GetByName returns a snapshot of all non-expired records for name.
func (c *Cache) GetByName(name string) []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	key := nameKey(name)

	out := make([]*Record, 0, len(c.records[key]))
	for _, rec := range c.records[key] {
		if !rec.Expired(now) {
			out = append(out, rec)
		}
	}
	return out
}

// GetByDetails returns the first non-expired record matching name, type,
// and class, or nil if none match.
func (c *Cache) GetByDetails(name string, recordType protocol.RecordType, class protocol.DNSClass) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	key := nameKey(name)

	for _, rec := range c.records[key] {
		if rec.Type == recordType && rec.Class == class && !rec.Expired(now) {
			return rec
		}
	}
	return nil
}

// EntriesWithNameAndAlias supports probe conflict detection: it returns
// any PTR record whose RDATA-decoded alias equals name, or any SRV/TXT
// record keyed directly by name.
func (c *Cache) EntriesWithNameAndAlias(recordType protocol.RecordType, name string) []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	key := nameKey(name)
	var out []*Record

	switch recordType {
	case protocol.RecordTypePTR:
		for _, bucket := range c.records {
			for _, rec := range bucket {
				if rec.Type != protocol.RecordTypePTR || rec.Expired(now) {
					continue
				}
				if nameKey(decodeAlias(rec.Data)) == key {
					out = append(out, rec)
				}
			}
		}
	default:
		for _, rec := range c.records[key] {
			if (rec.Type == protocol.RecordTypeSRV || rec.Type == protocol.RecordTypeTXT) && !rec.Expired(now) {
				out = append(out, rec)
			}
		}
	}

	return out
}

// decodeAlias best-effort decodes a PTR record's RDATA target name.
// Malformed RDATA yields an empty string, which will not match any real
// name-key.
func decodeAlias(rdata []byte) string {
	name, _, err := message.ParseName(rdata, 0)
	if err != nil {
		return ""
	}
	return name
}

// Reap evicts every expired record, returning how many were removed.
// Callers invoke this on a periodic timer (at least every 10s, per the
// cache's reap contract).
func (c *Cache) Reap(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, bucket := range c.records {
		kept := bucket[:0]
		for _, rec := range bucket {
			if rec.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(c.records, key)
		} else {
			c.records[key] = kept
		}
	}
	return removed
}

// Len returns the total number of cached records across all names,
// including expired ones not yet reaped. Intended for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, bucket := range c.records {
		n += len(bucket)
	}
	return n
}
