package records

import (
	"encoding/binary"
	"sort"

	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
)

// InstanceRecords describes a service instance in full: everything needed
// to build its announcement record set. Unlike ServiceInfo (the legacy
// string-TXT form), it carries byte-valued properties with RFC 6763 §6.4
// semantics and any number of host addresses of either family.
type InstanceRecords struct {
	InstanceName string // "My Printer"
	ServiceType  string // "_http._tcp.local"
	Hostname     string // "myhost.local"
	Port         uint16
	Priority     uint16
	Weight       uint16

	// Properties maps TXT keys to values. A nil value emits the bare key
	// with no '=' (a boolean attribute per RFC 6763 §6.4).
	Properties map[string][]byte

	// Addresses holds raw 4-byte (IPv4) and 16-byte (IPv6) host addresses.
	Addresses [][]byte

	// Subtypes lists DNS-SD subtypes ("_printer"); each yields an extra
	// PTR under <subtype>._sub.<service-type> per RFC 6763 §7.1.
	Subtypes []string
}

// Build constructs the complete record set: the shared PTR (plus one per
// subtype), then the unique SRV, TXT, and A/AAAA records with cache-flush
// set per RFC 6762 §10.2.
func (ir *InstanceRecords) Build() []*message.ResourceRecord {
	instance := ir.InstanceName + "." + ir.ServiceType
	targetEncoded, _ := message.EncodeServiceInstanceName(ir.InstanceName, ir.ServiceType) // nosemgrep: beacon-error-swallowing

	out := make([]*message.ResourceRecord, 0, 4+len(ir.Subtypes)+len(ir.Addresses))

	out = append(out, &message.ResourceRecord{
		Name:  ir.ServiceType,
		Type:  protocol.RecordTypePTR,
		Class: protocol.ClassIN,
		TTL:   protocol.TTLService,
		Data:  targetEncoded,
	})
	for _, sub := range ir.Subtypes {
		out = append(out, &message.ResourceRecord{
			Name:  sub + "._sub." + ir.ServiceType,
			Type:  protocol.RecordTypePTR,
			Class: protocol.ClassIN,
			TTL:   protocol.TTLService,
			Data:  targetEncoded,
		})
	}

	srv := make([]byte, 6)
	binary.BigEndian.PutUint16(srv[0:2], ir.Priority)
	binary.BigEndian.PutUint16(srv[2:4], ir.Weight)
	binary.BigEndian.PutUint16(srv[4:6], ir.Port)
	hostnameEncoded, _ := message.EncodeName(ir.Hostname) // nosemgrep: beacon-error-swallowing
	srv = append(srv, hostnameEncoded...)
	out = append(out, &message.ResourceRecord{
		Name:       instance,
		Type:       protocol.RecordTypeSRV,
		Class:      protocol.ClassIN,
		TTL:        protocol.TTLService,
		Data:       srv,
		CacheFlush: true,
	})

	out = append(out, &message.ResourceRecord{
		Name:       instance,
		Type:       protocol.RecordTypeTXT,
		Class:      protocol.ClassIN,
		TTL:        protocol.TTLService,
		Data:       EncodeTXTProperties(ir.Properties),
		CacheFlush: true,
	})

	for _, addr := range ir.Addresses {
		var rtype protocol.RecordType
		switch len(addr) {
		case 4:
			rtype = protocol.RecordTypeA
		case 16:
			rtype = protocol.RecordTypeAAAA
		default:
			continue
		}
		out = append(out, &message.ResourceRecord{
			Name:       ir.Hostname,
			Type:       rtype,
			Class:      protocol.ClassIN,
			TTL:        protocol.TTLHostname,
			Data:       addr,
			CacheFlush: true,
		})
	}

	return out
}

// EncodeTXTProperties renders a properties map as TXT RDATA per RFC 6763
// §6.4: one length-prefixed "key=value" string per entry, a bare "key"
// for nil values, and the mandatory single zero byte when empty. Keys are
// emitted in sorted order so encoding is deterministic.
func EncodeTXTProperties(props map[string][]byte) []byte {
	if len(props) == 0 {
		return []byte{0x00}
	}

	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	data := make([]byte, 0, 256)
	for _, key := range keys {
		entry := []byte(key)
		if value := props[key]; value != nil {
			entry = append(entry, '=')
			entry = append(entry, value...)
		}
		if len(entry) > 255 {
			entry = entry[:255] // a TXT string is length-prefixed by one byte
		}
		data = append(data, byte(len(entry)))
		data = append(data, entry...)
	}
	return data
}
