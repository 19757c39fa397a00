package message

import (
	"encoding/binary"
	"strings"

	"github.com/beacon-mdns/beacon/internal/protocol"
)

// maxPointerOffset is the largest offset a 14-bit compression pointer can
// address (RFC 1035 §4.1.4). Suffixes written beyond it are not recorded.
const maxPointerOffset = 0x3FFF

// nameWriter tracks which name suffixes have already been written into the
// current datagram, so later occurrences can be replaced by a 2-byte
// compression pointer. The table is scoped to one datagram: pointers are
// meaningless across datagram boundaries, so the assembler creates a fresh
// writer per datagram.
type nameWriter struct {
	// offsets maps a lowercased dotted suffix (starting at a label
	// boundary, no trailing dot) to its byte offset in the datagram.
	offsets map[string]int
}

func newNameWriter() *nameWriter {
	return &nameWriter{offsets: make(map[string]int)}
}

// appendName appends name's wire form to buf, substituting a pointer for
// the longest suffix already present in the datagram. Newly written
// suffixes are recorded for later names. Name matching for compression is
// case-insensitive per RFC 1035 §3.1; the bytes written preserve the
// caller's case.
func (w *nameWriter) appendName(buf []byte, name string) ([]byte, error) {
	labels, err := splitNameLabels(name)
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(labels); i++ {
		key := strings.ToLower(strings.Join(labels[i:], "."))
		if offset, ok := w.offsets[key]; ok {
			// everything from label i on is already in the datagram
			for j := 0; j < i; j++ {
				buf = w.appendLabel(buf, labels, j)
			}
			pointer := make([]byte, 2)
			binary.BigEndian.PutUint16(pointer, 0xC000|uint16(offset))
			return append(buf, pointer...), nil
		}
	}

	for j := 0; j < len(labels); j++ {
		buf = w.appendLabel(buf, labels, j)
	}
	return append(buf, 0), nil
}

// appendLabel writes one length-prefixed label, recording the offset of
// the suffix that starts at it if a 14-bit pointer could later reach it.
func (w *nameWriter) appendLabel(buf []byte, labels []string, index int) []byte {
	key := strings.ToLower(strings.Join(labels[index:], "."))
	if _, seen := w.offsets[key]; !seen && len(buf) <= maxPointerOffset {
		w.offsets[key] = len(buf)
	}
	buf = append(buf, byte(len(labels[index])))
	return append(buf, labels[index]...)
}

// splitNameLabels splits a dotted name (optional trailing dot) into its
// labels, enforcing the RFC 1035 §3.1 label and name length limits. It
// accepts arbitrary bytes inside labels: DNS-SD instance labels may carry
// spaces and UTF-8 (RFC 6763 §4.3), so no character validation happens
// here — that is the public API's job (protocol.ValidateName).
func splitNameLabels(name string) ([]string, error) {
	trimmed := strings.TrimSuffix(name, ".")
	if trimmed == "" {
		return nil, nil
	}

	labels := strings.Split(trimmed, ".")
	total := 1 // terminating zero byte
	for _, label := range labels {
		if len(label) == 0 {
			return nil, malformed(0, "empty label in name %q", name)
		}
		if len(label) > protocol.MaxLabelLength {
			return nil, malformed(0, "label %q exceeds maximum %d bytes per RFC 1035 §3.1", label, protocol.MaxLabelLength)
		}
		total += 1 + len(label)
	}
	if total > protocol.MaxNameLength {
		return nil, malformed(0, "encoded name length %d exceeds maximum %d bytes per RFC 1035 §3.1", total, protocol.MaxNameLength)
	}
	return labels, nil
}
