// Package message implements DNS name encoding and compression per RFC 1035 §4.1.4.
package message

import (
	"fmt"
	"strings"

	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/protocol"
)

// nameCursor walks a DNS message buffer while decoding a (possibly
// compressed) name, tracking both the read position and whether it has
// already followed a pointer.
type nameCursor struct {
	msg      []byte
	pos      int
	jumps    int
	followed bool
	wireEnd  int
}

func malformed(pos int, format string, args ...any) error {
	return &errors.WireFormatError{
		Operation: "parse name",
		Offset:    pos,
		Message:   fmt.Sprintf(format, args...),
	}
}

// ParseName decodes a DNS name starting at offset within msg, resolving any
// compression pointers per RFC 1035 §4.1.4. A pointer is a byte whose top two
// bits are set, followed by a 14-bit backward offset into msg.
//
// It returns the dotted-label string, the offset immediately following the
// name's on-the-wire representation (which is NOT the same as the offset
// reached after following pointers), and an error if the name is malformed.
func ParseName(msg []byte, offset int) (string, int, error) {
	if offset < 0 || offset >= len(msg) {
		return "", offset, malformed(offset, "offset out of bounds")
	}

	c := &nameCursor{msg: msg, pos: offset, wireEnd: -1}
	var labels []string

	for {
		label, done, err := c.step()
		if err != nil {
			return "", offset, err
		}
		if done {
			break
		}
		if label != "" {
			labels = append(labels, label)
		}
	}

	name := strings.Join(labels, ".")
	if len(name) > protocol.MaxNameLength {
		return "", offset, malformed(offset, "name length %d exceeds maximum %d bytes per RFC 1035 §3.1", len(name), protocol.MaxNameLength)
	}
	return name, c.wireEnd, nil
}

// step consumes one label or pointer at the cursor's current position. It
// reports done=true once the root label (0x00) has been reached.
func (c *nameCursor) step() (label string, done bool, err error) {
	if c.pos >= len(c.msg) {
		return "", false, malformed(c.pos, "unexpected end of message while parsing name")
	}

	lead := c.msg[c.pos]

	switch {
	case lead&protocol.CompressionMask == protocol.CompressionMask:
		target, err := c.followPointer()
		if err != nil {
			return "", false, err
		}
		c.pos = target
		return "", false, nil

	case lead == 0:
		if !c.followed {
			c.wireEnd = c.pos + 1
		}
		return "", true, nil

	default:
		return c.readLabel(lead)
	}
}

func (c *nameCursor) followPointer() (int, error) {
	if c.pos+1 >= len(c.msg) {
		return 0, malformed(c.pos, "truncated compression pointer")
	}
	target := int(c.msg[c.pos]&0x3F)<<8 | int(c.msg[c.pos+1])
	if target >= c.pos {
		return 0, malformed(c.pos, "invalid compression pointer: points to offset %d (current position %d)", target, c.pos)
	}
	if !c.followed {
		c.wireEnd = c.pos + 2
		c.followed = true
	}
	c.jumps++
	if c.jumps > protocol.MaxCompressionPointers {
		return 0, malformed(c.pos, "too many compression jumps (possible loop, exceeded %d jumps)", protocol.MaxCompressionPointers)
	}
	return target, nil
}

func (c *nameCursor) readLabel(length byte) (string, bool, error) {
	if length > protocol.MaxLabelLength {
		return "", false, malformed(c.pos, "label length %d exceeds maximum %d bytes per RFC 1035 §3.1", length, protocol.MaxLabelLength)
	}
	start := c.pos + 1
	end := start + int(length)
	if end > len(c.msg) {
		return "", false, malformed(c.pos, "truncated label: expected %d bytes, only %d available", length, len(c.msg)-start)
	}
	label := string(c.msg[start:end])
	c.pos = end
	return label, false, nil
}

// EncodeName renders name (dot-separated labels, optionally with a trailing
// dot) into its RFC 1035 §3.1 wire form: length-prefixed labels terminated
// by a zero-length label. It does not perform compression; callers that need
// compressed output build it incrementally via a per-datagram label table
// (see compress.go).
func EncodeName(name string) ([]byte, error) {
	if name == "" || name == "." {
		return []byte{0}, nil
	}

	labels := strings.Split(name, ".")
	if n := len(labels); n > 0 && labels[n-1] == "" {
		labels = labels[:n-1]
	}

	out := make([]byte, 0, protocol.MaxNameLength)
	for _, label := range labels {
		if err := validateLabel(name, label); err != nil {
			return nil, err
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)

	if len(out) > protocol.MaxNameLength {
		return nil, &errors.ValidationError{
			Field:   "name",
			Value:   name,
			Message: fmt.Sprintf("encoded name length %d exceeds maximum %d bytes per RFC 1035 §3.1", len(out), protocol.MaxNameLength),
		}
	}
	return out, nil
}

// validateLabel checks a single label against RFC 1035 §3.1: non-empty,
// within the 63-byte limit, restricted to letters/digits/hyphen/underscore
// (underscore is non-standard DNS but required by DNS-SD service labels),
// and hyphen never leading or trailing.
func validateLabel(fullName, label string) error {
	if len(label) == 0 {
		return &errors.ValidationError{Field: "name", Value: fullName, Message: "empty label (consecutive dots)"}
	}
	if len(label) > protocol.MaxLabelLength {
		return &errors.ValidationError{
			Field: "name", Value: fullName,
			Message: fmt.Sprintf("label %q exceeds maximum length %d bytes per RFC 1035 §3.1", label, protocol.MaxLabelLength),
		}
	}
	for i, ch := range label {
		ok := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') || ch == '-' || ch == '_'
		if !ok {
			return &errors.ValidationError{
				Field: "name", Value: fullName,
				Message: fmt.Sprintf("invalid character %q in label %q (position %d)", ch, label, i),
			}
		}
		if ch == '-' && (i == 0 || i == len(label)-1) {
			return &errors.ValidationError{
				Field: "name", Value: fullName,
				Message: fmt.Sprintf("hyphen cannot be first or last character in label %q", label),
			}
		}
	}
	return nil
}

// EncodeServiceInstanceName encodes a DNS-SD instance name per RFC 6763 §4.3:
// the instance portion is one label that may hold arbitrary UTF-8 (spaces
// included), while the service-type suffix follows normal DNS label rules.
//
// Example: EncodeServiceInstanceName("My Printer", "_http._tcp.local") yields
// [10]My Printer[5]_http[4]_tcp[5]local[0].
func EncodeServiceInstanceName(instanceName, serviceType string) ([]byte, error) {
	if len(instanceName) == 0 {
		return nil, &errors.ValidationError{Field: "instanceName", Value: instanceName, Message: "instance name cannot be empty"}
	}
	if len(instanceName) > protocol.MaxLabelLength {
		return nil, &errors.ValidationError{
			Field: "instanceName", Value: instanceName,
			Message: fmt.Sprintf("instance name exceeds maximum label length %d bytes", protocol.MaxLabelLength),
		}
	}

	suffix, err := EncodeName(serviceType)
	if err != nil {
		return nil, fmt.Errorf("encoding service type: %w", err)
	}
	if n := len(suffix); n > 0 && suffix[n-1] == 0 {
		suffix = suffix[:n-1]
	}

	out := make([]byte, 0, 1+len(instanceName)+len(suffix)+1)
	out = append(out, byte(len(instanceName)))
	out = append(out, instanceName...)
	out = append(out, suffix...)
	out = append(out, 0)
	return out, nil
}
