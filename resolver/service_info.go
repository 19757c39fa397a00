// Package resolver resolves a single service instance's SRV, TXT, and
// address records into a consolidated ServiceInfo view, blocking a caller
// until the view is complete or a deadline passes.
package resolver

import "strings"

// IPVersion selects which address family AddressesByVersion returns.
type IPVersion int

const (
	// V4 selects only 4-byte (IPv4) addresses.
	V4 IPVersion = iota
	// V6 selects only 16-byte (IPv6) addresses.
	V6
	// AllVersions selects every known address regardless of family.
	AllVersions
)

// ServiceInfo is the materialised view of a service instance, joined from
// its SRV, TXT, and A/AAAA records. It is considered complete once a
// server name, port, text record, and at least one address for that
// server are all known.
type ServiceInfo struct {
	ServiceType  string
	InstanceName string
	Server       string
	Port         uint16
	Priority     uint16
	Weight       uint16

	// Properties holds the decoded TXT record: a key maps to its value, or
	// to nil if the key was present with no '=' (RFC 6763 §6.4 "boolean"
	// attribute). A key absent from the map was never seen at all.
	Properties map[string][]byte

	// Addresses holds every known address for Server, as raw 4- or
	// 16-byte blobs (net.IP's own representation).
	Addresses [][]byte

	Subtypes []string

	key string // lowercased InstanceName, kept in sync by SetInstanceName
}

// Key returns the lowercased instance name used to index this ServiceInfo.
func (s *ServiceInfo) Key() string {
	return s.key
}

// SetInstanceName renames the instance, keeping Key() consistent.
func (s *ServiceInfo) SetInstanceName(name string) {
	s.InstanceName = name
	s.key = strings.ToLower(name)
}

// Complete reports whether enough records have arrived to answer a
// get-service-info call: server and port (from SRV), text (from TXT,
// even if it decodes to zero properties), and at least one address.
func (s *ServiceInfo) Complete() bool {
	return s.Server != "" && s.Port != 0 && s.Properties != nil && len(s.Addresses) > 0
}

// AddressesByVersion filters Addresses by family. AllVersions returns
// every address regardless of length.
func (s *ServiceInfo) AddressesByVersion(v IPVersion) [][]byte {
	var out [][]byte
	for _, addr := range s.Addresses {
		switch {
		case v == AllVersions:
			out = append(out, addr)
		case v == V4 && len(addr) == 4:
			out = append(out, addr)
		case v == V6 && len(addr) == 16:
			out = append(out, addr)
		}
	}
	return out
}
