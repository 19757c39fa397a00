package responder

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
	"github.com/beacon-mdns/beacon/internal/records"
	"github.com/beacon-mdns/beacon/internal/responder"
	"github.com/beacon-mdns/beacon/internal/state"
	"github.com/beacon-mdns/beacon/internal/transport"
)

// Responder manages mDNS service registration and response per RFC 6762.
//
// Responder struct
// Added query handler goroutine support
type Responder struct {
	ctx              context.Context
	transport        transport.Transport
	registry         *responder.Registry
	machines         map[string]*state.Machine // live lifecycle machine per instance name-key
	machinesMu       sync.Mutex
	hostname         string
	injectConflict   bool                       // Test hook: inject conflict during probing
	responseBuilder  *responder.ResponseBuilder // RFC 6762 §6 response construction
	recordSet        *records.RecordSet         // Per-record rate limiting tracker
	queryHandlerDone chan struct{}              // Signal query handler shutdown

	// Store last machine for message capture (contract test support)
	lastMachine *state.Machine // Last state machine used for registration

	// Store callbacks for applying to new machines
	onProbeCallback    func() // Callback for probe events
	onAnnounceCallback func() // Callback for announce events

	// Store last announced records for contract test validation
	lastAnnouncedRecords []*ResourceRecord // Last record set announced
}

// New creates a new mDNS responder.
//
// Responder.New() implementation
// Start query handler goroutine
func New(ctx context.Context, opts ...Option) (*Responder, error) {
	// Get system hostname if not provided
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	hostname = hostname + ".local"

	// Create transport
	t, err := transport.NewUDPv4Transport()
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r := &Responder{
		ctx:              ctx,
		transport:        t,
		registry:         responder.NewRegistry(),
		machines:         make(map[string]*state.Machine),
		hostname:         hostname,
		responseBuilder:  responder.NewResponseBuilder(),
		recordSet:        records.NewRecordSet(),
		queryHandlerDone: make(chan struct{}),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Start query handler goroutine
	go r.runQueryHandler()

	return r, nil
}

// maxRenameAttempts is the maximum number of times to rename a service on conflict.
//
// RFC 6762 §9: No explicit limit specified, but we use 10 as a reasonable maximum
// to prevent infinite loops and resource exhaustion.
//
// System MUST handle registration failures gracefully
const maxRenameAttempts = 10

// Register registers a service with probing and announcing per RFC 6762 §8.
//
// Process:
//  1. Validate service parameters
//  2. Attempt to register (with rename loop on conflict)
//  3. Build record set (PTR, SRV, TXT, A)
//  4. Run state machine (Probing → Announcing → Established)
//  5. Add to registry on success
//
// RFC 6762 §8: Total time ~1.5s (500ms probing + 1s announcing)
// RFC 6762 §9: If conflict detected, rename and retry (max 10 attempts)
//
// Returns:
//   - error: validation error, conflict error, max attempts error, or context error
//
// Full Register() implementation
// Add max rename attempts limit
func (r *Responder) Register(service *Service) error {
	if service == nil {
		return fmt.Errorf("service cannot be nil")
	}

	// Validate service parameters
	if err := service.Validate(); err != nil {
		return err
	}

	// Set hostname if not provided
	if service.Hostname == "" {
		service.Hostname = r.hostname
	}

	// Get local IPv4 address (simplified - use first non-loopback)
	ipv4, err := getLocalIPv4()
	if err != nil {
		return fmt.Errorf("failed to get local IPv4: %w", err)
	}

	// RFC 6762 §9: Rename loop on conflict (max 10 attempts)
	// Attempt probing up to maxRenameAttempts times
	for attempt := 1; attempt <= maxRenameAttempts; attempt++ {
		// Build record set for this service (with current name)
		serviceInfo := &records.ServiceInfo{
			InstanceName: service.InstanceName,
			ServiceType:  service.ServiceType,
			Hostname:     service.Hostname,
			Port:         service.Port,
			IPv4Address:  ipv4,
			TXTRecords:   service.TXTRecords,
		}
		recordSet := records.BuildRecordSet(serviceInfo)

		// Store record set for contract test validation
		r.lastAnnouncedRecords = recordSet

		// Create and run state machine
		machine := state.NewMachine()
		serviceName := service.InstanceName + "." + service.ServiceType

		// Apply test hooks (if any)
		if r.injectConflict {
			machine.SetInjectConflict(true)
		}

		// Store machine for message capture (contract test support)
		r.lastMachine = machine

		// Wire both state-machine stages to the transport so probes and
		// announcements actually hit the wire
		if prober := machine.GetProber(); prober != nil {
			prober.SetOurRecords(recordValues(recordSet))
			prober.SetSendFunc(func(ctx context.Context, packet []byte) error {
				return r.transport.Send(ctx, packet, nil)
			})
		}

		// Apply callbacks to new machine (if any)
		if r.onProbeCallback != nil {
			prober := machine.GetProber()
			if prober != nil {
				prober.SetOnSendQuery(r.onProbeCallback)
			}
		}
		if r.onAnnounceCallback != nil {
			announcer := machine.GetAnnouncer()
			if announcer != nil {
				announcer.SetOnSendAnnouncement(r.onAnnounceCallback)
			}
		}

		// Provide resource records to announcer for DNS message serialization
		announcer := machine.GetAnnouncer()
		if announcer != nil {
			announcer.SetRecords(recordSet)
			announcer.SetSendFunc(func(ctx context.Context, packet []byte) error {
				return r.transport.Send(ctx, packet, nil)
			})
		}

		// Run state machine (probing + announcing)
		err = machine.Run(r.ctx, serviceName)
		if err != nil {
			return fmt.Errorf("state machine failed: %w", err)
		}

		// Check final state
		finalState := machine.GetState()

		if finalState == state.StateConflictDetected {
			// Conflict detected - rename and retry (unless max attempts reached)
			if attempt >= maxRenameAttempts {
				// Max attempts exceeded - give up
				return fmt.Errorf("max rename attempts (%d) exceeded for service %q",
					maxRenameAttempts, service.InstanceName)
			}

			// Rename service and try again
			service.Rename() // "Name" -> "Name (2)" -> "Name (3)", ...
			continue         // Retry with new name
		}

		if finalState != state.StateEstablished {
			// This is NOT wrapping an error - finalState is state.State (int), not error type.
			// Using %v here is correct for formatting the state value.
			return fmt.Errorf("unexpected final state: %v", finalState) // nosemgrep: beacon-error-wrap-percent-v
		}

		// Success! Add to registry
		internalService := &responder.Service{
			InstanceName: service.InstanceName,
			ServiceType:  service.ServiceType,
			Port:         service.Port,
			TXT:          service.TXTRecords, // US5: Store TXT records for UpdateService support
			Hostname:     service.Hostname,
		}
		err = r.registry.Register(internalService)
		if err != nil {
			return fmt.Errorf("failed to add to registry: %w", err)
		}

		// keep the machine: Unregister drives its goodbye phase
		r.machinesMu.Lock()
		r.machines[strings.ToLower(service.InstanceName)] = machine
		r.machinesMu.Unlock()

		return nil // Successfully registered
	}

	// Should never reach here (loop returns on success or max attempts)
	return fmt.Errorf("unexpected: register loop completed without result")
}

// Unregister unregisters a service and sends goodbye packets per RFC 6762 §10.1.
//
// RFC 6762 §10.1: "A host may send unsolicited responses with TTL=0 to announce
// the departure of a record."
//
// Process:
//  1. Remove from registry
//  2. Send goodbye announcements (TTL=0)
//
// Returns:
//   - error: if service not found or send fails
//
func (r *Responder) Unregister(serviceID string) error {
	// Lookup service to get instance name (handles both full ID and instance name)
	svc, found := r.GetService(serviceID)
	if !found {
		return fmt.Errorf("service %q not registered", serviceID)
	}

	// Prefer the service's own lifecycle machine: its announcer already
	// holds the record set and transport, so Shutdown replays exactly
	// what was announced, with TTL zeroed.
	r.machinesMu.Lock()
	machine, hasMachine := r.machines[strings.ToLower(svc.InstanceName)]
	delete(r.machines, strings.ToLower(svc.InstanceName))
	r.machinesMu.Unlock()

	if hasMachine {
		_ = machine.Shutdown(r.ctx)
	} else {
		r.sendGoodbye(svc)
	}

	// Remove from registry using instance name
	err := r.registry.Remove(svc.InstanceName)
	if err != nil {
		return fmt.Errorf("service %q not registered", serviceID)
	}

	return nil
}

// sendGoodbye multicasts TTL=0 records for svc three times per RFC 6762
// §10.1, telling the network the service is departing.
func (r *Responder) sendGoodbye(svc *Service) {
	ipv4, err := getLocalIPv4()
	if err != nil {
		return
	}

	ipv6, _ := getLocalIPv6() // optional: nil skips the AAAA record

	info := &records.ServiceInfo{
		InstanceName: svc.InstanceName,
		ServiceType:  svc.ServiceType,
		Hostname:     r.hostname,
		Port:         svc.Port,
		IPv4Address:  ipv4,
		IPv6Address:  ipv6,
		TXTRecords:   svc.TXTRecords,
	}

	goodbyeRecords := records.BuildRecordSet(info)
	for _, rec := range goodbyeRecords {
		rec.TTL = 0
	}

	packet, err := message.BuildResponseWithAdditionals(goodbyeRecords, nil)
	if err != nil {
		return
	}

	for i := 0; i < 3; i++ {
		_ = r.transport.Send(r.ctx, packet, nil)
	}
}

// Close closes the responder and unregisters all services .
//
// Process:
//  1. Stop query handler goroutine
//  2. Unregister all services (sends goodbye packets)
//  3. Close transport
//
// Returns:
//   - error: transport close error
//
// Implement Close()
// Stop query handler
func (r *Responder) Close() error {
	// Stop query handler goroutine
	close(r.queryHandlerDone)

	// Unregister all services (sends goodbye packets)
	services := r.registry.List()
	for _, instanceName := range services {
		// Ignore errors - service may have been manually unregistered
		_ = r.Unregister(instanceName)
	}

	// Close transport
	if r.transport != nil {
		return r.transport.Close()
	}
	return nil
}

// recordValues dereferences a record set for the prober's value-typed API.
func recordValues(recordSet []*records.ResourceRecord) []message.ResourceRecord {
	out := make([]message.ResourceRecord, 0, len(recordSet))
	for _, rr := range recordSet {
		out = append(out, *rr)
	}
	return out
}

// getLocalIPv4 gets the first non-loopback IPv4 address.
//
// Returns:
//   - []byte: IPv4 address (4 bytes)
//   - error: if no suitable address found
func getLocalIPv4() ([]byte, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				return ipv4, nil
			}
		}
	}

	return nil, fmt.Errorf("no non-loopback IPv4 address found")
}

// getLocalIPv6 gets the first non-loopback, non-link-local IPv6 address.
//
// Returns:
//   - []byte: IPv6 address (16 bytes)
//   - error: if no suitable address found
func getLocalIPv6() ([]byte, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && !ipnet.IP.IsLinkLocalUnicast() {
			if ipv6 := ipnet.IP.To16(); ipv6 != nil && ipnet.IP.To4() == nil {
				return ipv6, nil
			}
		}
	}

	return nil, fmt.Errorf("no non-loopback IPv6 address found")
}

// OnProbe sets a callback to be called when a probe is sent.
//
// Contract test support for RFC 6762 §8.1 validation
func (r *Responder) OnProbe(callback func()) {
	// Store callback for future machines
	r.onProbeCallback = callback

	// Also apply to current machine if it exists
	if r.lastMachine != nil {
		prober := r.lastMachine.GetProber()
		if prober != nil {
			prober.SetOnSendQuery(callback)
		}
	}
}

// OnAnnounce sets a callback to be called when an announcement is sent.
//
// Contract test support for RFC 6762 §8.3 validation
func (r *Responder) OnAnnounce(callback func()) {
	// Store callback for future machines
	r.onAnnounceCallback = callback

	// Also apply to current machine if it exists
	if r.lastMachine != nil {
		announcer := r.lastMachine.GetAnnouncer()
		if announcer != nil {
			announcer.SetOnSendAnnouncement(callback)
		}
	}
}

// GetLastProbeMessage returns the last sent probe message.
//
// Contract test support for RFC 6762 §8.1 validation
func (r *Responder) GetLastProbeMessage() []byte {
	if r.lastMachine != nil {
		prober := r.lastMachine.GetProber()
		if prober != nil {
			return prober.GetLastProbeMessage()
		}
	}
	return nil
}

// GetLastAnnounceMessage returns the last sent announcement message.
//
// Contract test support for RFC 6762 §8.3 validation
func (r *Responder) GetLastAnnounceMessage() []byte {
	if r.lastMachine != nil {
		announcer := r.lastMachine.GetAnnouncer()
		if announcer != nil {
			return announcer.GetLastAnnounceMessage()
		}
	}
	return nil
}

// GetLastAnnouncedRecords returns the last announced record set.
//
// Contract test support for RFC 6762 §8.3 and RFC 6763 §6 validation
func (r *Responder) GetLastAnnouncedRecords() []*ResourceRecord {
	return r.lastAnnouncedRecords
}

// GetLastAnnounceDest returns the last announcement destination address.
//
// Contract test support for RFC 6762 §5 multicast address validation
func (r *Responder) GetLastAnnounceDest() string {
	if r.lastMachine != nil {
		announcer := r.lastMachine.GetAnnouncer()
		if announcer != nil {
			return announcer.GetLastDestAddr()
		}
	}
	return ""
}

// GetService retrieves a registered service by service ID.
//
// The serviceID can be either:
//   - Full service ID: "Instance Name._service._proto.local"
//   - Just instance name: "Instance Name" (backward compatibility)
//
// Returns:
//   - *Service: The service if found
//   - bool: true if service exists, false otherwise
//
// GetService looks up a registered service.
func (r *Responder) GetService(serviceID string) (*Service, bool) {
	// Try lookup by instance name directly (works if serviceID is just the instance name)
	if svc, found := r.registry.Get(serviceID); found {
		// Convert internal Service to public Service
		return &Service{
			InstanceName: svc.InstanceName,
			ServiceType:  svc.ServiceType,
			Port:         svc.Port,
			TXTRecords:   svc.TXT,
			Hostname:     svc.Hostname,
		}, true
	}

	// serviceID might be full DNS name "Instance._service._proto.local"
	// Extract instance name (everything before first dot)
	// For now, iterate through all services and find matching one
	for _, instanceName := range r.registry.List() {
		svc, found := r.registry.Get(instanceName)
		if !found {
			continue
		}

		// Build full service ID and compare
		fullID := svc.InstanceName + "." + svc.ServiceType
		if fullID == serviceID {
			return &Service{
				InstanceName: svc.InstanceName,
				ServiceType:  svc.ServiceType,
				Port:         svc.Port,
				TXTRecords:   svc.TXT,
			}, true
		}
	}

	return nil, false
}

// UpdateService updates a registered service's TXT records without re-probing.
//
// Per RFC 6762 §8.4, updating TXT records does NOT require re-probing since:
// - The service instance name hasn't changed (no conflict possible)
// - TXT records are metadata, not part of the unique service identity
//
// Process:
//  1. Find service in registry
//  2. Update TXT records
//  3. Send announcement with updated TXT record (multicast to inform network)
//
// Parameters:
//   - serviceID: Service identifier (InstanceName or InstanceName.ServiceType)
//   - txtRecords: New TXT records to set
//
// Returns:
//   - error: If service not found or update fails
//
// UpdateService updates a registered service in place, without re-probing.
func (r *Responder) UpdateService(serviceID string, txtRecords map[string]string) error {
	// Lookup service
	svc, found := r.GetService(serviceID)
	if !found {
		return fmt.Errorf("service %q not found", serviceID)
	}

	// Update TXT records in registry
	// The registry stores internal/responder.Service, so we need to update it there
	internalSvc, found := r.registry.Get(svc.InstanceName)
	if !found {
		return fmt.Errorf("internal error: service %q in GetService but not in registry", svc.InstanceName)
	}

	// Update TXT records
	internalSvc.TXT = txtRecords

	r.sendAnnouncement(internalSvc)

	return nil
}

// sendAnnouncement multicasts an unsolicited response carrying svc's current
// record set, per RFC 6762 §8.3: a record change re-announces to update
// caches that already hold the stale data.
func (r *Responder) sendAnnouncement(svc *responder.Service) {
	ipv4, err := getLocalIPv4()
	if err != nil {
		return
	}

	info := &records.ServiceInfo{
		InstanceName: svc.InstanceName,
		ServiceType:  svc.ServiceType,
		Hostname:     r.hostname,
		Port:         svc.Port,
		IPv4Address:  ipv4,
		TXTRecords:   svc.TXT,
	}

	announceRecords := records.BuildRecordSet(info)

	packet, err := message.BuildResponseWithAdditionals(announceRecords, nil)
	if err != nil {
		return
	}

	_ = r.transport.Send(r.ctx, packet, nil)
}

// InjectConflictDuringProbing is a test hook to inject conflicts during probing.
//
// When enabled, the state machine will always report StateConflictDetected,
// forcing the rename loop to trigger.
//
// Test hook for max rename attempts testing
func (r *Responder) InjectConflictDuringProbing(inject bool) {
	r.injectConflict = inject
}

// InjectSimultaneousProbe is a test hook for injecting simultaneous probe scenarios.
//
// This method is currently a stub placeholder for future simultaneous probe testing
// per RFC 6762 §8.2 tiebreaking. It will be implemented when detailed conflict
// resolution testing is added.
//
// Parameters:
//   - First parameter: Our probe packet (currently unused)
//   - Second parameter: Incoming probe packet (currently unused)
//
// Test hook infrastructure for conflict scenarios
func (r *Responder) InjectSimultaneousProbe([]byte, []byte) {}

// ResourceRecord is a type alias for records.ResourceRecord.
//
// This alias allows contract tests to reference ResourceRecord without importing
// the internal records package directly, maintaining clean architecture boundaries.
//
// The underlying type contains DNS resource record fields:
//   - Name: Domain name (e.g., "myservice._http._tcp.local")
//   - Type: Record type (A, PTR, SRV, TXT per RFC 1035)
//   - Class: Record class (IN for Internet)
//   - TTL: Time-to-live in seconds
//   - Data: Record-specific data (IP address, target name, etc.)
//   - CacheFlush: Cache-flush bit per RFC 6762 §10.2
//
// Contract test support for validating resource records
type ResourceRecord = records.ResourceRecord

// runQueryHandler continuously receives and processes mDNS queries.
//
// RFC 6762 §6: Responders SHOULD respond to queries for services they have registered.
//
// Process:
//  1. Receive query packet from transport
//  2. Parse DNS message
//  3. For each question, check if we have matching service
//  4. Build response (PTR answer + SRV/TXT/A additional)
//  5. Apply rate limiting per RFC 6762 §6.2
//  6. Send response (unicast or multicast based on QU bit)
//
// Query handler goroutine
func (r *Responder) runQueryHandler() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.queryHandlerDone:
			return
		default:
			// Receive query with timeout
			packet, srcAddr, err := r.transport.Receive(r.ctx)
			if err != nil {
				// Context cancelled or transport closed
				select {
				case <-r.ctx.Done():
					return
				case <-r.queryHandlerDone:
					return
				default:
					// Other error - continue receiving
					continue
				}
			}

			// Handle query
			_ = r.handleQuery(packet, srcAddr)
		}
	}
}

// handleQuery processes a single mDNS query and sends response.
//
// RFC 6762 §6: "When a Multicast DNS responder receives a query, it must determine
// whether the query is requesting information for which this responder is authoritative."
//
// Process:
//  1. Parse query message
//  2. Extract questions
//  3. Check if we have matching registered services
//  4. Build response using ResponseBuilder
//  5. Apply QU bit logic (unicast vs multicast)
//  6. Apply rate limiting (RFC 6762 §6.2)
//  7. Send response
//
// Returns:
//   - error: parse error or send error (logged, not propagated)
//
func (r *Responder) handleQuery(packet []byte, srcAddr net.Addr) error {
	// Import message parser
	msg, err := parseMessage(packet)
	if err != nil {
		// Malformed query - ignore per RFC 6762 §6
		return err
	}

	// Ignore responses (QR=1)
	if msg.Header.IsResponse() {
		return nil
	}

	// Process each question
	for _, question := range msg.Questions {
		// Only handle PTR queries for now (implementation)
		if question.QTYPE != uint16(protocol.RecordTypePTR) {
			continue
		}

		// Check if we have a service matching this query
		// Query is for "_http._tcp.local", we need to find services of that type
		serviceType := question.QNAME

		// Get all registered services
		services := r.registry.List()
		for _, instanceName := range services {
			service, found := r.registry.Get(instanceName)
			if !found {
				continue
			}

			// Check if service type matches query
			if service.ServiceType != serviceType {
				continue
			}

			// We have a match! Build response
			// Convert to ServiceWithIP for ResponseBuilder
			ipv4, err := getLocalIPv4()
			if err != nil {
				continue
			}

			serviceWithIP := &responder.ServiceWithIP{
				InstanceName: service.InstanceName,
				ServiceType:  service.ServiceType,
				Domain:       "local",
				Port:         service.Port,
				IPv4Address:  ipv4,
				TXTRecords:   service.TXT, // internal.Service uses TXT field
				Hostname:     r.hostname,
			}

			// Build response
			response, err := r.responseBuilder.BuildResponse(serviceWithIP, msg)
			if err != nil {
				continue
			}

			// RFC 6762 §5.4: if the querier set the QU bit, reply unicast
			// straight back to it instead of multicasting.
			dest := net.Addr(nil)
			if question.QCLASS&uint16(protocol.UnicastResponseBit) != 0 {
				dest = srcAddr
			}

			// RFC 6762 §6.2: per-record multicast rate limiting — a
			// record multicast within the last second is dropped from
			// this response; unicast QU replies are exempt
			if dest == nil {
				response.Answers = r.filterMulticastable(response.Answers)
				response.Additionals = r.filterMulticastable(response.Additionals)
				if len(response.Answers) == 0 {
					break
				}
			}

			responsePacket := buildResponsePacket(response)
			_ = r.transport.Send(r.ctx, responsePacket, dest)

			// Only respond once per query
			break
		}
	}

	return nil
}

// multicastLogID is the rate-limit sink id for this responder's single
// multicast socket.
const multicastLogID = "multicast"

// filterMulticastable drops answers whose record was multicast less than
// a second ago and stamps the ones that go out (RFC 6762 §6.2).
func (r *Responder) filterMulticastable(answers []message.Answer) []message.Answer {
	kept := answers[:0]
	for _, a := range answers {
		rr := &message.ResourceRecord{
			Name:  a.NAME,
			Type:  protocol.RecordType(a.TYPE),
			Class: protocol.DNSClass(a.CLASS &^ uint16(protocol.CacheFlushBit)),
			TTL:   a.TTL,
			Data:  a.RDATA,
		}
		if !r.recordSet.CanMulticast(rr, multicastLogID) {
			continue
		}
		r.recordSet.RecordMulticast(rr, multicastLogID)
		kept = append(kept, a)
	}
	return kept
}

// parseMessage is a wrapper around message.ParseMessage for easier imports.
func parseMessage(packet []byte) (*message.DNSMessage, error) {
	return message.ParseMessage(packet)
}

// buildResponsePacket serializes a DNSMessage's answer and additional
// sections to wire format.
func buildResponsePacket(msg *message.DNSMessage) []byte {
	answers := answersToResourceRecords(msg.Answers)
	additionals := answersToResourceRecords(msg.Additionals)

	packet, err := message.BuildResponseWithAdditionals(answers, additionals)
	if err != nil {
		return []byte{}
	}

	return packet
}

// answersToResourceRecords converts parsed/built Answer entries back into
// ResourceRecord form so they can be re-serialized with serializeResourceRecord.
func answersToResourceRecords(answers []message.Answer) []*message.ResourceRecord {
	records := make([]*message.ResourceRecord, 0, len(answers))

	for _, a := range answers {
		records = append(records, &message.ResourceRecord{
			Name:       a.NAME,
			Type:       protocol.RecordType(a.TYPE),
			Class:      protocol.DNSClass(a.CLASS &^ uint16(protocol.CacheFlushBit)),
			TTL:        a.TTL,
			Data:       a.RDATA,
			CacheFlush: a.CLASS&uint16(protocol.CacheFlushBit) != 0,
		})
	}

	return records
}
