package contract

import (
	"context"
	"testing"

	"github.com/beacon-mdns/beacon/internal/protocol"
	"github.com/beacon-mdns/beacon/responder"
)

// TestRFC6762_KnownAnswerSuppression_TTLThreshold_RED tests RFC 6762 §7.1
// known-answer suppression TTL threshold compliance.
//
// TDD Phase: RED - This test will FAIL until known-answer suppression is implemented
//
// RFC 6762 §7.1: "A Multicast DNS responder MUST NOT answer a Multicast DNS query
// if the answer it would give is already included in the Answer Section with an RR
// TTL at least half the correct value."
//
// System MUST suppress responses when known-answer TTL ≥50%
// Contract test for RFC 6762 §7.1 compliance
func TestRFC6762_KnownAnswerSuppression_TTLThreshold(t *testing.T) {
	ctx := context.Background()
	r, err := responder.New(ctx)
	if err != nil {
		t.Fatalf("responder.New() error = %v, want nil", err)
	}
	defer func() { _ = r.Close() }()

	service := &responder.Service{
		InstanceName: "Test Service",
		ServiceType:  "_http._tcp.local",
		Port:         8080,
	}

	err = r.Register(service)
	if err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}

	// Get the records that were registered
	recordSet := r.GetLastAnnouncedRecords()
	if len(recordSet) == 0 {
		t.Fatal("No records registered")
	}

	// Find the PTR record (shared record - suppression applies)
	var ptrRecord *responder.ResourceRecord
	for _, rr := range recordSet {
		if rr.Type == protocol.RecordTypePTR {
			ptrRecord = rr
			break
		}
	}
	if ptrRecord == nil {
		t.Fatal("No PTR record found in registered records")
	}

	tests := []struct {
		name           string
		knownTTL       uint32
		shouldSuppress bool
	}{
		{
			name:           "Known-answer at 100% TTL - should suppress",
			knownTTL:       ptrRecord.TTL, // 100%
			shouldSuppress: true,
		},
		{
			name:           "Known-answer at 50% TTL (boundary) - should suppress",
			knownTTL:       ptrRecord.TTL / 2, // Exactly 50%
			shouldSuppress: true,
		},
		{
			name:           "Known-answer at 49% TTL - should NOT suppress",
			knownTTL:       (ptrRecord.TTL / 2) - 1, // Just under 50%
			shouldSuppress: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create a query with known-answer section
			// This would normally be done via querier sending a query with known-answers
			// For this contract test, we verify the suppression logic exists

			// TODO: Once query handling with known-answer support is implemented,
			// send actual query with known-answer section and verify response behavior

			// For now, verify the suppression method exists and behaves correctly
			// via unit tests in internal/responder/known_answer_test.go

			t.Logf("RFC 6762 §7.1 contract: TTL=%d (%.0f%% of true=%d), suppress=%v",
				tt.knownTTL,
				float64(tt.knownTTL)/float64(ptrRecord.TTL)*100,
				ptrRecord.TTL,
				tt.shouldSuppress)

			// Skip for now - will implement once query handling supports known-answers
			t.Skip("Deferred until query handling with known-answer support implemented")
		})
	}
}

// TestRFC6762_KnownAnswerSuppression_SharedVsUnique_RED tests that known-answer
// suppression generally applies only to shared records (PTR) not unique records (SRV, TXT, A).
//
// TDD Phase: RED
//
// RFC 6762 §7.1: "Generally, this applies only to Shared records, not Unique records,
// since if a Multicast DNS querier already has at least one Unique record in its cache
// then it should not be expecting further different answers to this question."
//
// Verify suppression applies to PTR (shared) but not necessarily to SRV/TXT/A (unique)
func TestRFC6762_KnownAnswerSuppression_SharedVsUnique(t *testing.T) {
	// RFC 6762 §7.1: Known-answer suppression is primarily for shared records
	// Unique records (SRV, TXT, A) generally wouldn't appear in known-answer lists
	// because having one unique answer means that's THE answer

	// For PTR records (shared):
	//   - Multiple services can have same service type
	//   - Known-answer suppression reduces redundant multicast traffic
	//   - Example: "_http._tcp.local" might point to many service instances

	// For SRV/TXT/A records (unique):
	//   - Each service instance has exactly one SRV, one TXT set, one A record
	//   - If querier already has the unique answer, it shouldn't be querying
	//   - Suppression less relevant in practice

	t.Skip("Informational test - documents RFC 6762 §7.1 shared vs unique distinction")
}

// TestRFC6762_KnownAnswerSuppression_NetworkBandwidth_RED tests that known-answer
// suppression reduces network bandwidth by ~30% for repeated queries.
//
// TDD Phase: RED
//
// RFC 6762 §7.1: Known-answer suppression reduces redundant multicast traffic
// Target 30% reduction in repeated query bandwidth
//
// Benchmark bandwidth reduction
func TestRFC6762_KnownAnswerSuppression_NetworkBandwidth(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping bandwidth test in short mode")
	}

	ctx := context.Background()
	r, err := responder.New(ctx)
	if err != nil {
		t.Fatalf("responder.New() error = %v, want nil", err)
	}
	defer func() { _ = r.Close() }()

	// Register multiple services
	services := []*responder.Service{
		{InstanceName: "Service 1", ServiceType: "_http._tcp.local", Port: 8080},
		{InstanceName: "Service 2", ServiceType: "_http._tcp.local", Port: 8081},
		{InstanceName: "Service 3", ServiceType: "_http._tcp.local", Port: 8082},
	}

	for _, svc := range services {
		err = r.Register(svc)
		if err != nil {
			t.Fatalf("Register(%q) error = %v", svc.InstanceName, err)
		}
	}

	// Simulate query scenario:
	// 1. Initial query - no known answers → full response (3 PTR records)
	// 2. Repeated query with known-answers → suppressed response (0-1 PTR records if TTLs stale)

	// TODO: Implement once query handling with known-answer support exists
	// Measure response sizes:
	// - initialResponseSize: without known-answers
	// - suppressedResponseSize: with known-answers
	// - reduction = (1 - suppressed/initial) * 100
	// - assert reduction ≥ 30%

	t.Skip("Deferred until query handling with known-answer support implemented")
}

// TestRFC6762_KnownAnswerSuppression_OneFourthTTL_RED tests the interaction
// between known-answer suppression and QU bit "at least 1/4 TTL" multicast rule.
//
// TDD Phase: RED
//
// RFC 6762 §5.4: Even with QU bit, multicast if remaining TTL < 1/4 of original
// RFC 6762 §7.1: Known-answer suppression at 1/2 TTL threshold
//
// Edge case: TTL between 1/4 and 1/2
//   - TTL < 1/2 → respond per §7.1 (refresh before danger)
//   - TTL < 1/4 → multicast even with QU bit per §5.4
//
// Verify suppression + QU bit interaction
func TestRFC6762_KnownAnswerSuppression_OneFourthTTL(t *testing.T) {
	// Scenario: Query with QU bit + known-answer
	// Known-answer TTL = 40% of original (between 1/4 and 1/2)
	//
	// Expected behavior:
	// - §7.1: TTL < 50% → respond (don't suppress)
	// - §5.4: TTL > 25% → unicast (honor QU bit)
	// - Result: Send unicast response

	// Scenario: Query with QU bit + known-answer
	// Known-answer TTL = 20% of original (below 1/4)
	//
	// Expected behavior:
	// - §7.1: TTL < 50% → respond (don't suppress)
	// - §5.4: TTL < 25% → multicast (override QU bit)
	// - Result: Send multicast response

	t.Skip("Deferred until QU bit + known-answer interaction implemented")
}
