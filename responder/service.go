// Package responder implements mDNS service registration and response per RFC 6762.
package responder

import (
	"fmt"
	"strings"

	"github.com/beacon-mdns/beacon/internal/protocol"
	internal "github.com/beacon-mdns/beacon/internal/responder"
)

// Service describes an mDNS service to be registered per RFC 6763.
//
// RFC 6763 §4: Service Instance Names
//   - ServiceType: "_service._proto.domain" (e.g., "_http._tcp.local")
//   - InstanceName: Human-readable service instance name (1-63 octets)
//   - Port: Service port (1-65535)
//   - TXTRecords: Optional metadata as key-value pairs
type Service struct {
	// InstanceName is the human-readable service instance name (e.g., "My Printer").
	// RFC 1035 §2.3.4: Labels are 1-63 octets. Arbitrary UTF-8 is allowed
	// (RFC 6763 §4.3), spaces included.
	InstanceName string

	// ServiceType is the service type (e.g., "_http._tcp.local").
	// Format: "_service._proto.local" where proto is _tcp or _udp.
	ServiceType string

	// Port is the service port number (1-65535).
	Port int

	// TXTRecords contains optional service metadata as key-value pairs.
	// RFC 6763 §6.2: Total size SHOULD NOT exceed 1300 bytes.
	// RFC 6763 §6: If empty, a single TXT record with 0x00 byte MUST be created.
	TXTRecords map[string]string

	// Hostname is the hostname for the A/AAAA record (optional).
	// If not provided, system hostname will be used.
	Hostname string
}

// NameKey returns the case-insensitive identity of the full instance name
// ("<instance>.<service-type>"), the form under which the registry and
// the record cache index this service.
func (s *Service) NameKey() string {
	return strings.ToLower(strings.TrimSuffix(s.InstanceName+"."+s.ServiceType, "."))
}

// Validate checks the service fields per RFC 6762/6763 requirements.
//
// Name rules come from the shared protocol validators, so the facade,
// the engine, and the wire codec agree on what a registrable name is:
// the instance label may hold arbitrary UTF-8 but must fit one DNS
// label, the type must be _service._tcp or _service._udp.
//
// Returns:
//   - error: describing the first invalid field, nil if valid
func (s *Service) Validate() error {
	if err := protocol.ValidateInstanceLabel(s.InstanceName); err != nil {
		return err
	}

	if err := protocol.ValidateServiceType(s.ServiceType); err != nil {
		return err
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be in range 1-65535 (got %d)", s.Port)
	}

	return validateTXTRecordsSize(s.TXTRecords)
}

// Rename picks the next instance name after a probe conflict, using the
// shared rename rule: "My Service" becomes "My Service (2)", then
// "My Service (3)", and so on, truncated if needed so the label stays
// within the RFC 1035 §2.3.4 limit.
func (s *Service) Rename() {
	renamed := internal.NewConflictDetector().Rename(s.InstanceName)
	s.InstanceName = internal.TruncateLabel(renamed, protocol.MaxLabelLength)
}

// validateTXTRecordsSize validates that TXT records don't exceed RFC limits.
//
// RFC 6763 §6.2: "The total size of a typical DNS-SD TXT record is intended to be
// small -- 200 bytes or less. In cases where more data is justified, the maximum
// SHOULD NOT exceed 1300 bytes."
func validateTXTRecordsSize(txtRecords map[string]string) error {
	if len(txtRecords) == 0 {
		// Empty TXT is valid - will create mandatory 0x00 byte per RFC 6763 §6
		return nil
	}

	// Each entry costs a length prefix plus "key=value"
	totalSize := 0
	for key, value := range txtRecords {
		totalSize += 1 + len(key) + 1 + len(value)
	}

	// RFC 6763 §6.2: SHOULD NOT exceed 1300 bytes
	if totalSize > 1300 {
		return fmt.Errorf("TXT records exceed 1300 bytes (got %d)", totalSize)
	}

	return nil
}
