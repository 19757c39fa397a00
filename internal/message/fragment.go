package message

import (
	"encoding/binary"

	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/protocol"
)

// MinDatagramPayload is the smallest datagram size limit a caller may
// configure. RFC 1035 §2.3.4 guarantees every DNS implementation accepts
// 512-byte messages, so the assembler never splits below that.
const MinDatagramPayload = 512

// Outgoing is a logical outbound message before datagram assembly. The
// assembler packs its sections into one or more wire datagrams, applying
// name compression within each datagram and setting the TC flag on every
// datagram that leaves records still to send (RFC 6762 §18.5, §7.2).
//
// Record TTLs are written exactly as given: callers that re-announce
// cached records must stamp the TTL remaining at send time, not the TTL
// at record creation.
type Outgoing struct {
	// ID is the transaction ID. RFC 6762 §18.1: zero for multicast
	// responses; queriers may use a random ID to match unicast replies.
	ID uint16

	// Flags is the base header flag word (e.g. 0 for queries,
	// FlagQR|FlagAA for responses). The assembler ORs in TC as needed.
	Flags uint16

	Questions   []QueryQuestion
	Answers     []*ResourceRecord
	Authorities []*ResourceRecord
	Additionals []*ResourceRecord
}

// section indices in a datagram's count array.
const (
	sectionAnswer = iota
	sectionAuthority
	sectionAdditional
)

// datagramState accumulates one wire datagram under construction.
type datagramState struct {
	buf       []byte
	writer    *nameWriter
	questions int
	counts    [3]int
}

// Datagrams assembles the message into wire datagrams of at most limit
// bytes each. Questions all land in the first datagram — they are never
// split; if the questions alone exceed the limit the whole encode fails.
// Records flow into the remaining space in section order and spill into
// fresh datagrams (each with its own compression table) as needed. A
// record too large to fit even an otherwise-empty datagram is sent in an
// oversized one rather than dropped: link MTUs beyond the configured
// limit are the operator's concern, losing the record is not.
func (o *Outgoing) Datagrams(limit int) ([][]byte, error) {
	if limit < MinDatagramPayload {
		limit = MinDatagramPayload
	}

	current := o.newDatagram()
	for _, q := range o.Questions {
		encoded, err := o.appendQuestion(current, q)
		if err != nil {
			return nil, err
		}
		current.buf = encoded
		current.questions++
	}
	if len(current.buf) > limit {
		return nil, &errors.ValidationError{
			Field:   "questions",
			Value:   len(o.Questions),
			Message: "question section alone exceeds the datagram size limit; questions cannot be split",
		}
	}

	type sectionRecord struct {
		section int
		rr      *ResourceRecord
	}
	var pending []sectionRecord
	for _, rr := range o.Answers {
		pending = append(pending, sectionRecord{sectionAnswer, rr})
	}
	for _, rr := range o.Authorities {
		pending = append(pending, sectionRecord{sectionAuthority, rr})
	}
	for _, rr := range o.Additionals {
		pending = append(pending, sectionRecord{sectionAdditional, rr})
	}

	var datagrams [][]byte
	for _, item := range pending {
		encoded, err := appendRecordCompressed(current.buf, item.rr, current.writer)
		if err != nil {
			return nil, err
		}
		if len(encoded) > limit && o.datagramHasContent(current) {
			datagrams = append(datagrams, o.finalize(current, true))
			current = o.newDatagram()
			encoded, err = appendRecordCompressed(current.buf, item.rr, current.writer)
			if err != nil {
				return nil, err
			}
		}
		current.buf = encoded
		current.counts[item.section]++
	}

	datagrams = append(datagrams, o.finalize(current, false))
	return datagrams, nil
}

func (o *Outgoing) newDatagram() *datagramState {
	return &datagramState{
		buf:    make([]byte, 12, 512),
		writer: newNameWriter(),
	}
}

// datagramHasContent reports whether d carries anything beyond a bare
// header, i.e. whether flushing it early would emit a useful datagram.
func (o *Outgoing) datagramHasContent(d *datagramState) bool {
	return d.questions > 0 || d.counts[sectionAnswer] > 0 ||
		d.counts[sectionAuthority] > 0 || d.counts[sectionAdditional] > 0
}

// finalize stamps the header (ID, flags with TC when more records follow,
// section counts) and returns the completed datagram.
func (o *Outgoing) finalize(d *datagramState, truncated bool) []byte {
	flags := o.Flags
	if truncated {
		flags |= protocol.FlagTC
	}
	binary.BigEndian.PutUint16(d.buf[0:2], o.ID)
	binary.BigEndian.PutUint16(d.buf[2:4], flags)
	binary.BigEndian.PutUint16(d.buf[4:6], uint16(d.questions))           //nolint:gosec // bounded by datagram size
	binary.BigEndian.PutUint16(d.buf[6:8], uint16(d.counts[sectionAnswer]))     //nolint:gosec // bounded by datagram size
	binary.BigEndian.PutUint16(d.buf[8:10], uint16(d.counts[sectionAuthority])) //nolint:gosec // bounded by datagram size
	binary.BigEndian.PutUint16(d.buf[10:12], uint16(d.counts[sectionAdditional])) //nolint:gosec // bounded by datagram size
	return d.buf
}

// appendQuestion writes one question (QNAME with compression, QTYPE,
// QCLASS with the unicast-response bit per RFC 6762 §5.4 when requested).
func (o *Outgoing) appendQuestion(d *datagramState, q QueryQuestion) ([]byte, error) {
	buf, err := d.writer.appendName(d.buf, q.Name)
	if err != nil {
		return nil, err
	}

	fields := make([]byte, 4)
	binary.BigEndian.PutUint16(fields[0:2], q.Type)
	class := uint16(protocol.ClassIN)
	if q.UnicastResponse {
		class |= uint16(protocol.UnicastResponseBit)
	}
	binary.BigEndian.PutUint16(fields[2:4], class)
	return append(buf, fields...), nil
}

// appendRecordCompressed writes rr with its owner name compressed against
// the datagram's name table. RDATA bytes are appended verbatim — embedded
// names inside RDATA stay uncompressed, which every RFC 1035 parser must
// accept.
func appendRecordCompressed(buf []byte, rr *ResourceRecord, w *nameWriter) ([]byte, error) {
	if rr == nil {
		return nil, &errors.ValidationError{
			Field:   "ResourceRecord",
			Value:   nil,
			Message: "cannot serialize nil resource record",
		}
	}

	out, err := w.appendName(buf, rr.Name)
	if err != nil {
		return nil, err
	}

	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], uint16(rr.Type))
	class := uint16(rr.Class)
	if rr.CacheFlush {
		class |= uint16(protocol.CacheFlushBit)
	}
	binary.BigEndian.PutUint16(fixed[2:4], class)
	binary.BigEndian.PutUint32(fixed[4:8], rr.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rr.Data))) //nolint:gosec // RDATA bounded by datagram size
	out = append(out, fixed...)
	return append(out, rr.Data...), nil
}
