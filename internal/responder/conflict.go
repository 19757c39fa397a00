package responder

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/beacon-mdns/beacon/internal/message"
)

// ConflictDetector decides name-conflict questions for locally-owned
// services, at two granularities:
//
//   - service level: two registrations claim the same instance name
//     (DetectConflict), compared by name-key the way the registry and
//     record cache compare names;
//   - record level: an inbound probe's authority records compete with our
//     tentative records for the same name (DetectRecordConflict), decided
//     by the RFC 6762 §8.2 lexicographic tiebreak.
//
// It also owns the rename rule applied after a lost probe: "Name" becomes
// "Name (2)", then "Name (3)", and so on.
//
// Stateless and safe for concurrent use.
type ConflictDetector struct{}

// NewConflictDetector creates a new conflict detector.
func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{}
}

// DetectConflict reports whether two services claim the same name.
//
// Identity follows the registry's name-key: the full instance name,
// compared case-insensitively, so "My Printer._http._tcp.local" and
// "my printer._http._tcp.local" conflict.
func (cd *ConflictDetector) DetectConflict(ourService, theirService *Service) bool {
	if ourService == nil || theirService == nil {
		return false
	}
	return ourService.NameKey() == theirService.NameKey()
}

// DetectRecordConflict checks whether incomingRecord defeats ourRecord
// per RFC 6762 §8.2 simultaneous-probe tiebreaking.
//
// Returns:
//   - (true, nil):  Conflict - we lose the tiebreak and MUST defer
//   - (false, nil): No conflict - different names, we win, or identical records
//   - (_, error):   A record was not comparable (empty name, nil data)
//
// RFC 6762 §8.2: "The determination of 'lexicographically later' is
// performed by first comparing the record class (excluding the
// cache-flush bit described in Section 10.2), then the record type, then
// raw comparison of the binary content of the rdata." Identical records
// are NOT a conflict: two hosts may intentionally advertise the same data
// for fault tolerance.
func (cd *ConflictDetector) DetectRecordConflict(ourRecord, incomingRecord message.ResourceRecord) (bool, error) {
	if err := cd.validateRecord(ourRecord); err != nil {
		return false, fmt.Errorf("invalid ourRecord: %w", err)
	}
	if err := cd.validateRecord(incomingRecord); err != nil {
		return false, fmt.Errorf("invalid incomingRecord: %w", err)
	}

	// Only records with the same name compete. DNS names are
	// case-insensitive per RFC 1035 §2.3.3; use the shared name-key.
	if nameKey(ourRecord.Name) != nameKey(incomingRecord.Name) {
		return false, nil
	}

	// We defer only when their record is lexicographically later.
	return cd.compareRecords(ourRecord, incomingRecord) < 0, nil
}

// validateRecord rejects records that cannot be compared.
func (cd *ConflictDetector) validateRecord(record message.ResourceRecord) error {
	if record.Name == "" {
		return fmt.Errorf("empty name")
	}
	if record.Data == nil {
		return fmt.Errorf("nil data")
	}
	return nil
}

// compareRecords orders two records per RFC 6762 §8.2: class (cache-flush
// bit excluded), then type, then raw RDATA bytes as unsigned values.
// Returns -1 when ours sorts earlier (we lose), 0 on identical, +1 when
// ours sorts later (we win).
func (cd *ConflictDetector) compareRecords(ours, theirs message.ResourceRecord) int {
	ourClass := uint16(ours.Class) & 0x7FFF
	theirClass := uint16(theirs.Class) & 0x7FFF
	switch {
	case ourClass < theirClass:
		return -1
	case ourClass > theirClass:
		return +1
	}

	switch {
	case ours.Type < theirs.Type:
		return -1
	case ours.Type > theirs.Type:
		return +1
	}

	// RFC 6762 §8.2: "it is vital that the bytes are interpreted as
	// UNSIGNED values in the range 0-255" - bytes.Compare does exactly
	// that, and treats the record that runs out of data first as earlier.
	return bytes.Compare(ours.Data, theirs.Data)
}

// CompareProbes runs the RDATA leg of the §8.2 tiebreak on two raw
// payloads, reporting whether ours wins. Identical payloads are a tie:
// both hosts may proceed.
func (cd *ConflictDetector) CompareProbes(ourData, theirData []byte) bool {
	return bytes.Compare(ourData, theirData) > 0
}

// CompareMultipleRecords decides the tiebreak when each prober proposes
// several records for the name, per RFC 6762 §8.2.1: both record sets are
// "sorted into order" (the same lexicographic order as the comparison
// itself) and then compared pairwise; the first difference decides, and
// if one side runs out of records first, the side with records remaining
// wins.
func (cd *ConflictDetector) CompareMultipleRecords(ourRecords, theirRecords [][]byte) bool {
	ours := sortedCopies(ourRecords)
	theirs := sortedCopies(theirRecords)

	minLen := len(ours)
	if len(theirs) < minLen {
		minLen = len(theirs)
	}

	for i := 0; i < minLen; i++ {
		switch cmp := bytes.Compare(ours[i], theirs[i]); {
		case cmp > 0:
			return true
		case cmp < 0:
			return false
		}
	}

	return len(ours) > len(theirs)
}

// sortedCopies returns the payloads in ascending lexicographic order
// without disturbing the caller's slice.
func sortedCopies(records [][]byte) [][]byte {
	out := make([][]byte, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// renameSuffix matches the " (N)" suffix the rename rule appends.
var renameSuffix = regexp.MustCompile(`^(.*)\s+\((\d+)\)$`)

// Rename produces the next instance name to probe after a conflict:
// "My Printer" becomes "My Printer (2)", "My Printer (2)" becomes
// "My Printer (3)", and so on.
func (cd *ConflictDetector) Rename(instanceName string) string {
	if matches := renameSuffix.FindStringSubmatch(instanceName); matches != nil {
		// Error impossible: regex (\d+) ensures matches[2] contains only digits
		current, _ := strconv.Atoi(matches[2]) // nosemgrep: beacon-error-swallowing
		return fmt.Sprintf("%s (%d)", matches[1], current+1)
	}
	return fmt.Sprintf("%s (2)", instanceName)
}

// TruncateLabel shortens a renamed instance label to max bytes while
// preserving its " (N)" suffix, so rename never pushes a label past the
// RFC 1035 §2.3.4 limit.
func TruncateLabel(name string, max int) string {
	if len(name) <= max {
		return name
	}
	if matches := renameSuffix.FindStringSubmatch(name); matches != nil {
		suffix := fmt.Sprintf(" (%s)", matches[2])
		if keep := max - len(suffix); keep > 0 && keep <= len(matches[1]) {
			return matches[1][:keep] + suffix
		}
	}
	return name[:max]
}
