package querier

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
	"github.com/beacon-mdns/beacon/internal/security"
	"github.com/beacon-mdns/beacon/internal/transport"
)

// Querier provides high-level mDNS query functionality.
//
// Querier manages a UDP multicast socket and background receiver goroutine
// to handle mDNS queries .
//
// Example:
//
//	q, err := querier.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
//	defer cancel()
//
//	response, err := q.Query(ctx, "printer.local", querier.RecordTypeA)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, record := range response.Records {
//	    if ip := record.AsA(); ip != nil {
//	        fmt.Printf("Found printer at %s\n", ip)
//	    }
//	}
//
// NOTE: Fields are ordered for memory alignment (fieldalignment optimization).
// Larger types (interfaces, slices, sync types) come first, then smaller types.
// This reduces struct size from 144 → 120 bytes (16.7% memory savings).
// Related fields are still documented together via comments.
type Querier struct {
	// transport is the network transport abstraction (UDP multicast for mDNS)
	// Migrated from socket net.PacketConn to transport.Transport interface
	transport transport.Transport

	// ctx is the lifecycle context for the Querier
	ctx context.Context

	// wg tracks background goroutines (receiver)
	// Placed early due to 16-byte alignment requirement of sync.WaitGroup
	wg sync.WaitGroup

	// explicitInterfaces is the user-provided explicit list of interfaces (if set)
	// Takes priority over interfaceFilter if non-nil
	explicitInterfaces []net.Interface

	// defaultTimeout is the default timeout for queries (default: 1 second )
	defaultTimeout time.Duration

	// rateLimitCooldown is the duration to drop packets after threshold exceeded (default: 60s)
	// Per Configurable via WithRateLimitCooldown()
	rateLimitCooldown time.Duration

	// cancel cancels the lifecycle context
	cancel context.CancelFunc

	// responseChan receives incoming mDNS responses from the receiver goroutine
	responseChan chan []byte

	// interfaceFilter is a custom interface selection function (if set)
	// Used only if explicitInterfaces is nil
	interfaceFilter func(net.Interface) bool

	// rateLimiter is the rate limiter instance (created in New() if enabled)
	rateLimiter *security.RateLimiter

	// rateLimitThreshold is the max queries/second per source IP (default: 100)
	// Per Configurable via WithRateLimitThreshold()
	rateLimitThreshold int

	// mu protects concurrent access to Query operations
	mu sync.Mutex

	// rateLimitEnabled indicates whether rate limiting is enabled (default: true)
	// Per Configurable via WithRateLimit()
	rateLimitEnabled bool
}

// New creates a new Querier with optional configuration.
//
// New initializes the UDP multicast socket and starts a background receiver
// goroutine .
//
// System MUST use mDNS port 5353 and multicast address 224.0.0.251
// System MUST send queries to multicast group
// System MUST receive responses with configurable timeout
//
// Parameters:
//   - opts: Optional functional options (e.g., WithTimeout)
//
// Returns:
//   - *Querier: Configured querier instance
//   - error: NetworkError if socket creation fails
//
// Example:
//
//	q, err := querier.New(querier.WithTimeout(2 * time.Second))
func New(opts ...Option) (*Querier, error) {
	// Create lifecycle context
	ctx, cancel := context.WithCancel(context.Background())

	// Create querier with defaults
	q := &Querier{
		defaultTimeout:     1 * time.Second,        // discover devices within 1 second
		responseChan:       make(chan []byte, 100), // Buffer for incoming responses
		ctx:                ctx,
		cancel:             cancel,
		rateLimitEnabled:   true,             // Default enabled
		rateLimitThreshold: 100,              // Default 100 qps
		rateLimitCooldown:  60 * time.Second, // Default 60s
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(q); err != nil {
			cancel() // Clean up context before returning error
			return nil, err
		}
	}

	// Create UDP multicast transport (migrated from network.CreateSocket)
	// unless WithTransport injected one
	if q.transport == nil {
		tr, err := transport.NewUDPv4Transport()
		if err != nil {
			cancel()
			return nil, err // Already wrapped as NetworkError
		}
		q.transport = tr
	}

	// Initialize rate limiter if enabled (after options applied)
	if q.rateLimitEnabled {
		q.rateLimiter = security.NewRateLimiter(
			q.rateLimitThreshold,
			q.rateLimitCooldown,
			10000, // Max 10,000 source IPs tracked
		)

		// Start periodic cleanup goroutine (every 5 minutes )
		q.wg.Add(1)
		go q.cleanupLoop()
	}

	// Start background receiver goroutine
	q.wg.Add(1)
	go q.receiveLoop()

	return q, nil
}

// Query sends an mDNS query and returns all responses received within the timeout.
//
// Query validates inputs, builds the query message, sends it to the multicast group,
// and aggregates responses through .
//
// System MUST construct valid mDNS query messages per RFC 6762
// System MUST support querying for A, PTR, TXT, AAAA, SRV, and NSEC record types
// System MUST validate queried names follow DNS naming rules
// System MUST deduplicate identical responses from multiple responders
// System MUST aggregate responses received within timeout window
// System MUST parse mDNS response messages per RFC 6762 wire format
// System MUST return answer records of the queried type plus attached additionals
// System MUST validate response message format and discard malformed packets
// System MUST decompress DNS names per RFC 1035 §4.1.4
//
// Parameters:
//   - ctx: Context for timeout/cancellation (use context.WithTimeout for custom timeout)
//   - name: DNS name to query (e.g., "printer.local")
//   - recordType: Type of record to query (RecordTypeA, RecordTypePTR, etc.)
//
// Returns:
//   - *Response: Aggregated response with all discovered records
//   - error: ValidationError for invalid inputs, context.Canceled/context.DeadlineExceeded, or other errors
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
//	defer cancel()
//
//	response, err := q.Query(ctx, "printer.local", querier.RecordTypeA)
//	if err != nil {
//	    return err
//	}
//
//	for _, record := range response.Records {
//	    fmt.Printf("Found: %s → %v\n", record.Name, record.Data)
//	}
func (q *Querier) Query(ctx context.Context, name string, recordType RecordType) (*Response, error) {
	// Protect concurrent query operations
	q.mu.Lock()
	defer q.mu.Unlock()

	// Check context cancellation upfront
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// Validate name
	err := protocol.ValidateName(name)
	if err != nil {
		return nil, err // Already wrapped as ValidationError
	}

	// Validate record type
	err = protocol.ValidateRecordType(uint16(recordType))
	if err != nil {
		return nil, err // Already wrapped as ValidationError
	}

	// Build query message
	queryMsg, err := message.BuildQuery(name, uint16(recordType))
	if err != nil {
		return nil, err
	}

	// Send query to multicast group
	// Migrated from network.SendQuery to transport.Send()
	mdnsAddr := &net.UDPAddr{
		IP:   net.IPv4(224, 0, 0, 251),
		Port: 5353,
	}
	err = q.transport.Send(ctx, queryMsg, mdnsAddr)
	if err != nil {
		return nil, err // Already wrapped as NetworkError
	}

	// Aggregate responses received within timeout window
	return q.collectResponses(ctx, name, recordType)
}

// collectResponses aggregates mDNS responses within the timeout window.
//
// Deduplicate identical responses
// Aggregate responses received within timeout window
// Parse mDNS response messages
// Filter answer section records
// Validate and discard malformed packets
// Continue collecting after discarding malformed packets
func (q *Querier) collectResponses(ctx context.Context, _ string, queryType RecordType) (*Response, error) {
	response := &Response{
		Records: make([]ResourceRecord, 0),
	}

	// Deduplication map
	seen := make(map[string]bool)

	// Collect responses until timeout or cancellation
	for {
		select {
		case <-ctx.Done():
			// Timeout is NOT an error - return what we collected
			return response, nil

		case responseMsg := <-q.responseChan:
			// Parse response message
			parsedMsg, err := message.ParseMessage(responseMsg)
			if err != nil {
				// Log and continue on malformed packets
				// Malformed packets are dropped silently
				continue
			}

			// Validate response flags
			err = protocol.ValidateResponse(parsedMsg.Header.Flags)
			if err != nil {
				// Invalid response (QR=0 or RCODE≠0) - discard
				continue
			}

			// Answer section: records of the queried type.
			// Additional section: the supplementary records a responder
			// attaches per RFC 6763 §12 (SRV/TXT/A/AAAA riding along with
			// a PTR answer), returned regardless of the queried type so a
			// single reply can satisfy follow-up lookups. Authority
			// records carry probe proposals, not answers, and are skipped.
			for _, answer := range parsedMsg.Answers {
				if RecordType(answer.TYPE) != queryType {
					continue
				}
				appendRecord(response, seen, answer)
			}
			for _, additional := range parsedMsg.Additionals {
				appendRecord(response, seen, additional)
			}
		}
	}
}

// appendRecord parses one wire record, deduplicates it, and adds it to
// the response. Malformed or unsupported RDATA drops the record silently.
func appendRecord(response *Response, seen map[string]bool, answer message.Answer) {
	if !protocol.RecordType(answer.TYPE).IsSupported() {
		return
	}

	data, err := message.ParseRDATA(answer.TYPE, answer.RDATA)
	if err != nil {
		return
	}
	data = convertRDATA(data)

	// Deduplicate identical records across responders
	// Key: name + type + data representation
	dedupeKey := fmt.Sprintf("%s|%d|%v", answer.NAME, answer.TYPE, data)
	if seen[dedupeKey] {
		return
	}
	seen[dedupeKey] = true

	response.Records = append(response.Records, ResourceRecord{
		Name:  answer.NAME,
		Type:  RecordType(answer.TYPE),
		Class: answer.CLASS,
		TTL:   answer.TTL,
		Data:  data,
	})
}

// convertRDATA maps the wire parser's internal types onto this package's
// public ones, so callers only ever see querier types behind Data.
func convertRDATA(data interface{}) interface{} {
	switch v := data.(type) {
	case message.SRVData:
		return SRVData{
			Target:   v.Target,
			Priority: v.Priority,
			Weight:   v.Weight,
			Port:     v.Port,
		}
	case message.NSECData:
		types := make([]RecordType, 0, len(v.Types))
		for _, rt := range v.Types {
			types = append(types, RecordType(rt))
		}
		return NSECData{NextName: v.NextName, Types: types}
	default:
		return data
	}
}

// receiveLoop runs in a background goroutine to continuously receive mDNS responses.
//
// System MUST receive responses with configurable timeout
// System MUST close socket after query completion
//
// nolint:gocyclo // Complexity 22 due to network packet handling with rate limiting, context management, source IP validation, and error recovery
func (q *Querier) receiveLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			// Querier closed - exit loop
			return

		default:
			// Receive with short timeout to check context periodically
			// Migrated from network.ReceiveResponse to transport.Receive()
			ctx, cancel := context.WithTimeout(q.ctx, 100*time.Millisecond)
			responseMsg, srcAddr, err := q.transport.Receive(ctx)
			cancel()

			if err != nil {
				// Timeout or network error - continue listening
				// Check if it's a timeout (expected) or real error
				var netErr *errors.NetworkError
				if goerrors.As(err, &netErr) {
					// Network timeout is expected - continue
					continue
				}
				// Real network error - might want to log in production
				continue
			}

			// Packet size validation per RFC 6762 §17
			// Fail fast - reject oversized packets before parsing
			const maxMDNSPacketSize = 9000 // RFC 6762 §17
			if len(responseMsg) > maxMDNSPacketSize {
				// Packet exceeds RFC limit - drop it
				// TODO Add debug logging (source IP + size)
				continue
			}

			// Extract source IP for validation and rate limiting
			var srcIP net.IP
			var srcIPStr string
			if udpAddr, ok := srcAddr.(*net.UDPAddr); ok {
				srcIP = udpAddr.IP
				srcIPStr = udpAddr.IP.String()
			}

			// Basic source IP validation (link-local check)
			// RFC 6762 §2: mDNS is link-local scope
			// NOTE: Full per-interface source filtering requires per-interface transports
			// (available via the beacon engine's explicit interface list)
			// Conservative link-local validation:
			// - Accept link-local addresses (169.254.0.0/16) - ALWAYS valid per RFC 3927
			// - Accept private addresses (10.x, 172.16.x, 192.168.x) - likely same subnet
			// - Reject public/routed IPs (8.8.8.8, etc.) - definitely not link-local
			if srcIP != nil {
				ip4 := srcIP.To4()
				if ip4 != nil {
					// Check if it's a public/routed IP (not private, not link-local)
					isLinkLocal := ip4[0] == 169 && ip4[1] == 254
					isPrivate := ip4[0] == 10 ||
						(ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31) ||
						(ip4[0] == 192 && ip4[1] == 168)

					// Reject public/routed IPs (definitely not link-local scope)
					if !isLinkLocal && !isPrivate {
						// Public IP - drop packet (violates RFC 6762 §2 link-local scope)
						// TODO Add debug logging (source IP + reason)
						continue
					}
				}
			}

			// Apply rate limiting if enabled (drop packets from flooding sources)
			if q.rateLimitEnabled && q.rateLimiter != nil && srcIPStr != "" {
				if !q.rateLimiter.Allow(srcIPStr) {
					// Rate limited - drop packet silently
					// Logging (first at warn, subsequent at debug) handled by caller
					// TODO Add logging in production
					continue
				}
			}

			// Send response to channel (non-blocking)
			select {
			case q.responseChan <- responseMsg:
				// Sent successfully
			default:
				// Channel full - drop packet
				// Production might want to expand buffer or log
			}
		}
	}
}

// cleanupLoop periodically cleans up stale rate limiter entries.
// Per Cleanup runs every 5 minutes to prevent memory growth.
func (q *Querier) cleanupLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			// Querier closed - exit loop
			return

		case <-ticker.C:
			// Periodic cleanup
			if q.rateLimiter != nil {
				q.rateLimiter.Cleanup()
			}
		}
	}
}

// Close gracefully shuts down the Querier and releases resources.
//
// Close cancels the lifecycle context, waits for background goroutines to exit,
// and closes the UDP socket .
//
// System MUST close socket after query completion
// System MUST support graceful shutdown via context cancellation
//
// Example:
//
//	q, err := querier.New()
//	if err != nil {
//	    return err
//	}
//	defer q.Close() // Always close to release resources
func (q *Querier) Close() error {
	// Cancel lifecycle context (stops receiver goroutine)
	q.cancel()

	// Wait for receiver goroutine to exit
	q.wg.Wait()

	// Close transport
	// Migrated from network.CloseSocket to transport.Close()
	// FIX: Now properly propagates errors (CloseSocket was swallowing them)
	err := q.transport.Close()
	if err != nil {
		return err
	}

	// Close response channel
	close(q.responseChan)

	return nil
}
