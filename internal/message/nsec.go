package message

import (
	"fmt"
	"sort"

	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/protocol"
)

// NSECData is the parsed RDATA of an NSEC record per RFC 4034 §4.1, as
// used by RFC 6762 §6.1 for negative responses: NextName is the record's
// next-domain field (in mDNS always the record's own name), and Types
// lists the record types that exist for that name.
type NSECData struct {
	NextName string
	Types    []protocol.RecordType
}

// HasType reports whether rt appears in the NSEC type bitmap.
func (n NSECData) HasType(rt protocol.RecordType) bool {
	for _, t := range n.Types {
		if t == rt {
			return true
		}
	}
	return false
}

// EncodeNSECData serialises an NSEC RDATA: the next-domain name followed
// by the type bitmap in RFC 4034 §4.1.2 window-block form. Each window
// covers 256 type values; a window is emitted only if at least one bit in
// it is set, as (window number, bitmap length, bitmap bytes).
func EncodeNSECData(nextName string, types []protocol.RecordType) ([]byte, error) {
	encodedName, err := EncodeName(nextName)
	if err != nil {
		return nil, err
	}

	sorted := append([]protocol.RecordType(nil), types...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := append([]byte(nil), encodedName...)

	// bitmap bytes per window, built sparsely then emitted in window order
	windows := make(map[byte][]byte)
	for _, rt := range sorted {
		window := byte(uint16(rt) >> 8)
		low := byte(uint16(rt) & 0xFF)
		bitmap := windows[window]
		byteIndex := int(low / 8)
		for len(bitmap) <= byteIndex {
			bitmap = append(bitmap, 0)
		}
		bitmap[byteIndex] |= 0x80 >> (low % 8)
		windows[window] = bitmap
	}

	windowNumbers := make([]byte, 0, len(windows))
	for w := range windows {
		windowNumbers = append(windowNumbers, w)
	}
	sort.Slice(windowNumbers, func(i, j int) bool { return windowNumbers[i] < windowNumbers[j] })

	for _, w := range windowNumbers {
		bitmap := windows[w]
		out = append(out, w, byte(len(bitmap)))
		out = append(out, bitmap...)
	}

	return out, nil
}

// parseNSECData decodes window-block NSEC RDATA into an NSECData.
func parseNSECData(rdata []byte) (NSECData, error) {
	nextName, offset, err := ParseName(rdata, 0)
	if err != nil {
		return NSECData{}, err
	}

	data := NSECData{NextName: nextName}
	for offset < len(rdata) {
		if offset+2 > len(rdata) {
			return NSECData{}, &errors.WireFormatError{
				Operation: "parse NSEC record",
				Offset:    offset,
				Message:   "truncated type bitmap window header",
			}
		}
		window := rdata[offset]
		length := int(rdata[offset+1])
		offset += 2

		if length == 0 || length > 32 {
			return NSECData{}, &errors.WireFormatError{
				Operation: "parse NSEC record",
				Offset:    offset,
				Message:   fmt.Sprintf("invalid bitmap length %d (must be 1-32 per RFC 4034 §4.1.2)", length),
			}
		}
		if offset+length > len(rdata) {
			return NSECData{}, &errors.WireFormatError{
				Operation: "parse NSEC record",
				Offset:    offset,
				Message:   fmt.Sprintf("truncated bitmap: expected %d bytes, only %d available", length, len(rdata)-offset),
			}
		}

		for i := 0; i < length; i++ {
			b := rdata[offset+i]
			for bit := 0; bit < 8; bit++ {
				if b&(0x80>>bit) != 0 {
					rt := protocol.RecordType(uint16(window)<<8 | uint16(i*8+bit))
					data.Types = append(data.Types, rt)
				}
			}
		}
		offset += length
	}

	return data, nil
}
