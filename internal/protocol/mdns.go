// Package protocol defines mDNS protocol constants and validation logic
// per RFC 6762 (Multicast DNS).
//
// This package implements the protocol requirements from spec.md including:
//   - mDNS port and multicast address
//   - DNS record types
//   - RFC 6762 header field validation
//
// PRIMARY TECHNICAL AUTHORITY: RFC 6762 (Multicast DNS)
package protocol

import (
	"net"
	"time"
)

// mDNS Protocol Constants per RFC 6762
const (
	// Port is the mDNS port number (5353) per RFC 6762 §5.
	//
	// System MUST use mDNS port 5353 and multicast address 224.0.0.251 for IPv4 queries
	Port = 5353

	// MulticastAddrIPv4 is the mDNS IPv4 multicast address (224.0.0.251) per RFC 6762 §5.
	//
	// System MUST use mDNS port 5353 and multicast address 224.0.0.251 for IPv4 queries
	MulticastAddrIPv4 = "224.0.0.251"

	// MulticastAddrIPv6 is the mDNS IPv6 multicast address (ff02::fb) per RFC 6762 §5.
	MulticastAddrIPv6 = "ff02::fb"
)

// MulticastGroupIPv4 returns the mDNS IPv4 multicast group address.
//
// This is a convenience function for creating net.UDPAddr for mDNS multicast.
//
// System MUST use mDNS port 5353 and multicast address 224.0.0.251 for IPv4 queries
func MulticastGroupIPv4() *net.UDPAddr {
	return &net.UDPAddr{
		// This IS the protocol package that defines MulticastAddrIPv4 constant
		IP:   net.ParseIP(MulticastAddrIPv4), // nosemgrep: beacon-hardcoded-multicast-address
		Port: Port,
	}
}

// MulticastGroupIPv6 returns the mDNS IPv6 multicast group address.
func MulticastGroupIPv6() *net.UDPAddr {
	return &net.UDPAddr{
		IP:   net.ParseIP(MulticastAddrIPv6), // nosemgrep: beacon-hardcoded-multicast-address
		Port: Port,
	}
}

// RecordType represents a DNS record type per RFC 1035 §3.2.2.
//
//
// System MUST support querying for A, PTR, SRV, and TXT record types
type RecordType uint16

// Supported DNS record types per RFC 1035, RFC 2782 (SRV), RFC 3596 (AAAA),
// and RFC 4034 (NSEC).
//
// System MUST support querying for A, PTR, SRV, and TXT record types
const (
	// RecordTypeA represents an A (IPv4 address) record per RFC 1035 §3.4.1.
	//
	// Type value: 1
	RecordTypeA RecordType = 1

	// RecordTypePTR represents a PTR (pointer/domain name) record per RFC 1035 §3.3.12.
	//
	// Used for service instance enumeration in DNS-SD.
	// Type value: 12
	RecordTypePTR RecordType = 12

	// RecordTypeTXT represents a TXT (text strings) record per RFC 1035 §3.3.14.
	//
	// Used for service metadata in DNS-SD.
	// Type value: 16
	RecordTypeTXT RecordType = 16

	// RecordTypeSRV represents an SRV (service location) record per RFC 2782.
	//
	// Used for service host/port information in DNS-SD.
	// Type value: 33
	RecordTypeSRV RecordType = 33

	// RecordTypeAAAA represents an AAAA (IPv6 address) record per RFC 3596 §2.1.
	//
	// Type value: 28
	RecordTypeAAAA RecordType = 28

	// RecordTypeNSEC represents an NSEC record per RFC 4034 §4.1, used by RFC 6762
	// §6.1 to assert "no other records of this type exist for this name" (negative
	// responses), e.g. an AAAA NSEC for a name with only an A record.
	//
	// Type value: 47
	RecordTypeNSEC RecordType = 47

	// RecordTypeANY represents a query for all record types per RFC 1035 §3.2.3.
	//
	// RFC 6762 §8.1: "All probe queries SHOULD be done using... query type 'ANY' (255)"
	// Used for probing to detect conflicts for all record types.
	// Type value: 255
	RecordTypeANY RecordType = 255
)

// String returns the human-readable name for a RecordType.
func (rt RecordType) String() string {
	switch rt {
	case RecordTypeA:
		return "A"
	case RecordTypePTR:
		return "PTR"
	case RecordTypeTXT:
		return "TXT"
	case RecordTypeSRV:
		return "SRV"
	case RecordTypeAAAA:
		return "AAAA"
	case RecordTypeNSEC:
		return "NSEC"
	case RecordTypeANY:
		return "ANY"
	default:
		return "UNKNOWN"
	}
}

// IsSupported returns true if the RecordType is supported.
//
// System MUST support querying for A, PTR, SRV, and TXT record types
// System MUST return ValidationError for invalid query names or unsupported record types
// RFC 6762 §8.1: ANY type (255) is required for probing
func (rt RecordType) IsSupported() bool {
	switch rt {
	case RecordTypeA, RecordTypePTR, RecordTypeTXT, RecordTypeSRV, RecordTypeAAAA, RecordTypeNSEC, RecordTypeANY:
		return true
	default:
		return false
	}
}

// CacheFlushBit is the top bit of the RR CLASS field (RFC 6762 §10.2), set on
// records the sender owns uniquely to tell receivers to flush stale cache
// entries sharing the same name/type/class older than one second.
const CacheFlushBit DNSClass = 1 << 15

// UnicastResponseBit is the top bit of the QUESTION CLASS field (RFC 6762
// §5.4) asking for a unicast rather than multicast reply.
const UnicastResponseBit DNSClass = 1 << 15

// DNSClass represents a DNS class per RFC 1035 §3.2.4.
//
// All mDNS traffic uses the IN (Internet) class.
type DNSClass uint16

const (
	// ClassIN is the Internet (IN) class per RFC 1035 §3.2.4.
	//
	// Class value: 1
	ClassIN DNSClass = 1
)

// DNS Header Flags per RFC 1035 §4.1.1 and RFC 6762 §18
const (
	// FlagQR is the Query/Response bit (bit 15).
	//
	// RFC 6762 §18.2: In query messages the QR bit MUST be zero.
	// RFC 6762 §18.2: In response messages the QR bit MUST be one.
	//
	// System MUST set DNS header fields per RFC 6762 §18 (QR=0 per §18.2)
	// System MUST validate received responses have QR=1 per RFC 6762 §18.2
	FlagQR uint16 = 1 << 15 // 0x8000

	// FlagAA is the Authoritative Answer bit (bit 10).
	//
	// RFC 6762 §18.4: In query messages, the Authoritative Answer (AA) bit MUST be zero on transmission.
	//
	// System MUST set DNS header fields per RFC 6762 §18 (AA=0 per §18.4)
	FlagAA uint16 = 1 << 10 // 0x0400

	// FlagTC is the Truncated bit (bit 9).
	//
	// RFC 6762 §18.5: In query messages, if the TC bit is set, it indicates that additional
	// Known-Answer records may be following shortly.
	//
	// Set on a query when its known-answer list continues in another
	// datagram, and on a response when answers spilled over (RFC 6762 §7.2).
	//
	// System MUST set DNS header fields per RFC 6762 §18 (TC=0 per §18.5)
	FlagTC uint16 = 1 << 9 // 0x0200

	// FlagRD is the Recursion Desired bit (bit 8).
	//
	// RFC 6762 §18.6: In query messages, the Recursion Desired (RD) bit SHOULD be zero.
	//
	// Always zero in mDNS.
	//
	// System MUST set DNS header fields per RFC 6762 §18 (RD=0 per §18.6)
	FlagRD uint16 = 1 << 8 // 0x0100
)

// OPCODE values per RFC 1035 §4.1.1
const (
	// OpcodeQuery is the standard query OPCODE (0).
	//
	// RFC 6762 §18.3: In both multicast query and multicast response messages,
	// the OPCODE MUST be zero on transmission.
	//
	// System MUST set DNS header fields per RFC 6762 §18 (OPCODE=0 per §18.3)
	OpcodeQuery uint16 = 0
)

// RCODE values per RFC 1035 §4.1.1
const (
	// RCodeNoError is the no error RCODE (0).
	//
	// RFC 6762 §18.11: Multicast DNS messages received with non-zero
	// Response Codes MUST be silently ignored.
	//
	// System MUST ignore responses with RCODE != 0 per RFC 6762 §18.11
	RCodeNoError uint16 = 0
)

// DNS Name Constraints per RFC 1035 §3.1
const (
	// MaxLabelLength is the maximum length of a DNS label (63 bytes) per RFC 1035 §3.1.
	//
	// System MUST validate queried names follow DNS naming rules (labels ≤63 bytes)
	MaxLabelLength = 63

	// MaxNameLength is the maximum length of a DNS name (255 bytes) per RFC 1035 §3.1.
	//
	// System MUST validate queried names follow DNS naming rules (total name ≤255 bytes)
	MaxNameLength = 255

	// MaxCompressionPointers is the maximum number of compression pointer jumps allowed
	// when decompressing DNS names per RFC 1035 §4.1.4.
	//
	// This prevents infinite loops in malformed packets with circular compression pointers.
	//
	// System MUST decompress DNS names per RFC 1035 §4.1.4 (message compression)
	MaxCompressionPointers = 256
)

// Compression pointer mask per RFC 1035 §4.1.4
const (
	// CompressionMask identifies a compression pointer (high 2 bits = 11).
	//
	// RFC 1035 §4.1.4: Message compression uses a pointer where the first two bits
	// are ones (0xC0), and the remaining 14 bits specify an offset.
	//
	// System MUST decompress DNS names per RFC 1035 §4.1.4 (message compression)
	CompressionMask byte = 0xC0
)

// TTL values per RFC 6762 §10
const (
	// TTLService is the recommended TTL for service records (SRV, TXT) - 120 seconds per RFC 6762 §10.
	//
	// RFC 6762 §10: "The recommended TTL value for Multicast DNS resource records
	// with a host name as the resource record's name (e.g., A, AAAA, HINFO, etc.) or
	// contained within the resource record's rdata (e.g., SRV, reverse mapping PTR
	// record, etc.) is 120 seconds."
	//
	// System MUST use RFC 6762 §10 TTL values (120s service records, 4500s hostname records)
	TTLService = 120

	// TTLHostname is the recommended TTL for hostname records (A, AAAA) - 4500 seconds (75 minutes) per RFC 6762 §10.
	//
	// RFC 6762 §10: "The recommended TTL value for other Multicast DNS resource records is 75 minutes (4500 seconds)."
	//
	// System MUST use RFC 6762 §10 TTL values (120s service records, 4500s hostname records)
	TTLHostname = 4500
)

// Timing constants per RFC 6762 §8
const (
	// ProbeInterval is the interval between probe packets - 250 milliseconds per RFC 6762 §8.1.
	//
	// RFC 6762 §8.1: "When ready to send its Multicast DNS probe packet(s) the host should
	// first verify that the hardware address is ready by sending a standard ARP Request for
	// the desired IP address and then wait 250 milliseconds."
	//
	// F-4 REQ-F4-6: mDNS timing operations MUST use RFC-mandated delays from protocol package
	// Constitution Principle I: RFC MUST requirements cannot be configurable
	//
	// This IS the protocol package defining the constant - nosemgrep comment prevents
	// false positive from beacon-rfc-timing-local-const rule
	ProbeInterval = 250 * time.Millisecond // nosemgrep: beacon-rfc-timing-local-const

	// ProbeCount is the number of probe queries sent before announcing, per
	// RFC 6762 §8.1: three probes, ProbeInterval (250 milliseconds) apart.
	ProbeCount = 3

	// AnnounceInterval is the minimum delay between unsolicited announcements
	// per RFC 6762 §8.3, doubling on each repeat up to AnnounceCount times.
	AnnounceInterval = 1 * time.Second // nosemgrep: beacon-rfc-timing-local-const

	// AnnounceCount is the number of unsolicited announcements sent per
	// RFC 6762 §8.3 ("at least two, the second at least one second after
	// the first").
	AnnounceCount = 2

	// GoodbyeCount is the number of TTL=0 goodbye packets sent on graceful
	// shutdown, mirroring AnnounceCount's repeat-for-reliability shape.
	GoodbyeCount = 3

	// ReapInterval is the minimum period between cache garbage-collection
	// sweeps for expired records.
	ReapInterval = 10 * time.Second

	// ResponseDelayMin and ResponseDelayMax bound the randomized delay before
	// sending a multicast response to a multicast query, per RFC 6762 §6
	// ("a random delay of 20-120 ms"), used to reduce collisions between
	// multiple responders answering the same query.
	ResponseDelayMin = 20 * time.Millisecond
	ResponseDelayMax = 120 * time.Millisecond

	// MaxDatagramPayload is the default size at which the message assembler
	// flushes a response into a fresh datagram with the TC bit set, per
	// RFC 6762 §17's recommendation to stay well under the path MTU.
	MaxDatagramPayload = 1440

	// MaxMessageSize is the largest mDNS message this implementation will
	// receive: RFC 6762 §17 caps a Multicast DNS message at the 9000-byte
	// largest Ethernet jumbo frame, so receive buffers are sized to it.
	MaxMessageSize = 9000

	// InterfaceBackoff is how long a socket is left closed after a send/receive
	// error marks its interface unhealthy, before the reactor retries opening it.
	InterfaceBackoff = 5 * time.Second

	// KnownAnswerSuppressionFactor is the minimum fraction (as a ratio, applied
	// via multiplication to avoid integer-division truncation) of a record's
	// true TTL that a Known-Answer must already carry for the responder to
	// suppress resending it, per RFC 6762 §7.1 ("at least 50% of its correct
	// value").
	KnownAnswerSuppressionFactor = 2
)
