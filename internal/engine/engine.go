// Package engine implements the mDNS query/response state machine: it
// answers inbound questions from the authoritative record set and the
// shared cache, folds inbound answers into that cache, and notifies
// attached listeners of every record transition. Outbound traffic flows
// through the reactor; inbound traffic arrives via HandleMessage, which
// the reactor invokes for every parsed datagram.
package engine

import (
	"context"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/beacon-mdns/beacon/internal/cache"
	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
	"github.com/beacon-mdns/beacon/internal/reactor"
	"github.com/beacon-mdns/beacon/internal/records"
	"github.com/beacon-mdns/beacon/internal/responder"
)

// Response delay bounds for multicast answers, RFC 6762 §6: a responder
// SHOULD delay its response by a random amount in this range so that
// simultaneous responders do not collide on the wire.
const (
	responseDelayMin = 20 * time.Millisecond
	responseDelayMax = 120 * time.Millisecond
)

// ServiceEnumerationName is the meta-query name of RFC 6763 §9: a PTR
// query for it enumerates every advertised service type.
const ServiceEnumerationName = "_services._dns-sd._udp.local"

// RecordListener observes every record the engine applies to the cache,
// goodbyes included (a TTL=0 record is removed from the cache, then
// delivered). Called
// on the receive goroutine: implementations must return quickly.
type RecordListener interface {
	RecordUpdated(rec cache.Record, now time.Time)
}

// Engine is the query/response core shared by the public facade, the
// browser, and the resolver.
type Engine struct {
	cache *cache.Cache
	rx    *reactor.Reactor
	log   *logrus.Logger

	builder *responder.ResponseBuilder
	limit   int

	// recent tracks when each record last went out multicast, enforcing
	// the RFC 6762 §6.2 one-second per-record rate limit on the
	// query-answer path (announcements and goodbyes are exempt: §8.3
	// mandates their repetition).
	recent *records.RecordSet

	// randDelay is swappable for deterministic tests.
	randDelay func() time.Duration

	mu            sync.Mutex
	authoritative map[string][]*message.ResourceRecord // lowercased owner name -> records
	listeners     map[RecordListener]struct{}
	pending       []*message.ResourceRecord // coalesced multicast answers awaiting flush
	pendingTimer  uint64
	closed        bool
}

// New creates an Engine sending through rx, with datagram payloads capped
// at limit bytes (values below the RFC 1035 floor, zero included, fall
// back to the default protocol.MaxDatagramPayload).
func New(rx *reactor.Reactor, c *cache.Cache, limit int, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if limit < message.MinDatagramPayload {
		limit = protocol.MaxDatagramPayload
	}
	return &Engine{
		cache:         c,
		rx:            rx,
		log:           log,
		builder:       responder.NewResponseBuilder(),
		recent:        records.NewRecordSet(),
		limit:         limit,
		randDelay:     randomResponseDelay,
		authoritative: make(map[string][]*message.ResourceRecord),
		listeners:     make(map[RecordListener]struct{}),
	}
}

// Cache exposes the shared record store for the browser and resolver.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// AddListener attaches l to every future record transition. The engine
// holds the only reference it needs; detaching via RemoveListener is the
// listener's responsibility before it is dropped.
func (e *Engine) AddListener(l RecordListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[l] = struct{}{}
}

// RemoveListener detaches l. Unknown listeners are a no-op.
func (e *Engine) RemoveListener(l RecordListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, l)
}

// SetAuthoritative installs the record set the engine answers for under
// name (a service instance or host name). Replaces any prior set.
func (e *Engine) SetAuthoritative(name string, records []*message.ResourceRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authoritative[strings.ToLower(name)] = records
}

// RemoveAuthoritative drops the record set registered under name.
func (e *Engine) RemoveAuthoritative(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.authoritative, strings.ToLower(name))
}

// HandleMessage is the reactor's dispatch target: queries are answered,
// responses are folded into the cache.
func (e *Engine) HandleMessage(msg *message.DNSMessage, src net.Addr) {
	if msg.Header.IsQuery() {
		e.handleQuery(msg, src)
		return
	}
	e.handleResponse(msg)
}

// handleResponse applies every answer and additional record to the cache
// and notifies listeners. A TTL=0 record is a goodbye: it leaves the
// cache, then listeners see it (so browsers can emit a removal).
func (e *Engine) handleResponse(msg *message.DNSMessage) {
	now := time.Now()
	records := make([]message.Answer, 0, len(msg.Answers)+len(msg.Additionals))
	records = append(records, msg.Answers...)
	records = append(records, msg.Additionals...)

	for _, a := range records {
		rec := cache.FromAnswer(a, now)
		if rec.TTL == 0 {
			e.cache.Remove(rec)
		} else {
			e.cache.Add(rec, now)
		}
		e.notify(rec, now)
	}
}

func (e *Engine) notify(rec cache.Record, now time.Time) {
	e.mu.Lock()
	listeners := make([]RecordListener, 0, len(e.listeners))
	for l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.mu.Unlock()

	for _, l := range listeners {
		l.RecordUpdated(rec, now)
	}
}

// handleQuery gathers answers for every question, applies known-answer
// suppression against the query's answer section, and responds: unicast
// immediately when the querier asked for it from the local link,
// multicast after a short random delay otherwise.
func (e *Engine) handleQuery(msg *message.DNSMessage, src net.Addr) {
	knownAnswers := answersToRecords(msg.Answers)

	var unicastWanted bool
	var answers []*message.ResourceRecord
	for i := range msg.Questions {
		q := &msg.Questions[i]
		if q.UnicastResponseRequested() && sourceOnLocalLink(src) {
			unicastWanted = true
		}
		for _, rr := range e.answersFor(q) {
			if !e.builder.ApplyKnownAnswerSuppression(rr, knownAnswers) {
				continue
			}
			answers = append(answers, rr)
		}
	}
	if len(answers) == 0 {
		return
	}

	if unicastWanted {
		e.sendAnswers(answers, src)
		return
	}
	e.coalesce(answers)
}

// answersFor collects authoritative records (registry-owned, TTL fresh)
// and cached records (learned from peers) matching one question.
func (e *Engine) answersFor(q *message.Question) []*message.ResourceRecord {
	qtype := protocol.RecordType(q.QTYPE)

	if qtype == protocol.RecordTypePTR && nameEqualFold(q.QNAME, ServiceEnumerationName) {
		return e.enumerateServiceTypes()
	}

	var out []*message.ResourceRecord
	e.mu.Lock()
	for _, set := range e.authoritative {
		for _, rr := range set {
			if (qtype == protocol.RecordTypeANY || rr.Type == qtype) && nameEqualFold(rr.Name, q.QNAME) {
				out = append(out, rr)
			}
		}
	}
	e.mu.Unlock()

	now := time.Now()
	for _, rec := range e.cache.GetByName(q.QNAME) {
		if qtype != protocol.RecordTypeANY && rec.Type != qtype {
			continue
		}
		remaining := remainingTTL(rec, now)
		if remaining == 0 {
			continue
		}
		out = append(out, &message.ResourceRecord{
			Name:       rec.Name,
			Type:       rec.Type,
			Class:      rec.Class,
			TTL:        remaining,
			Data:       rec.Data,
			CacheFlush: rec.CacheFlush,
		})
	}

	return dedupeRecords(out)
}

// enumerateServiceTypes answers the RFC 6763 §9 meta-query: one PTR
// record named _services._dns-sd._udp.local per distinct service type
// this host advertises, each pointing at the type name.
func (e *Engine) enumerateServiceTypes() []*message.ResourceRecord {
	e.mu.Lock()
	types := make(map[string]string) // lowercased -> original case
	for _, set := range e.authoritative {
		for _, rr := range set {
			if rr.Type == protocol.RecordTypePTR && !nameEqualFold(rr.Name, ServiceEnumerationName) {
				types[strings.ToLower(rr.Name)] = rr.Name
			}
		}
	}
	e.mu.Unlock()

	var out []*message.ResourceRecord
	for _, serviceType := range types {
		rdata, err := message.EncodeName(serviceType)
		if err != nil {
			continue
		}
		out = append(out, &message.ResourceRecord{
			Name:  ServiceEnumerationName,
			Type:  protocol.RecordTypePTR,
			Class: protocol.ClassIN,
			TTL:   protocol.TTLService,
			Data:  rdata,
		})
	}
	return out
}

// coalesce queues multicast answers and (re)arms the flush timer at a
// random 20-120ms deadline, letting several near-simultaneous questions
// share one response datagram.
func (e *Engine) coalesce(answers []*message.ResourceRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.pending = append(e.pending, answers...)
	if e.pendingTimer != 0 {
		return // a flush is already scheduled; new answers ride along
	}
	e.pendingTimer = e.rx.Schedule(e.randDelay(), e.flushPending)
}

// flushPending runs on the reactor timer goroutine.
func (e *Engine) flushPending() {
	e.mu.Lock()
	answers := dedupeRecords(e.pending)
	e.pending = nil
	e.pendingTimer = 0
	e.mu.Unlock()

	if len(answers) > 0 {
		e.sendAnswers(answers, nil)
	}
}

// multicastLogID is the rate-limit sink id for answers fanned out to
// every socket at once.
const multicastLogID = "multicast"

// sendAnswers assembles answers into one or more response datagrams and
// transmits them, multicast when dest is nil. Multicast answers pass the
// per-record one-second rate limit (RFC 6762 §6.2) first; records sent
// too recently are silently dropped from the response.
func (e *Engine) sendAnswers(answers []*message.ResourceRecord, dest net.Addr) {
	if dest == nil {
		kept := answers[:0]
		for _, rr := range answers {
			if !e.recent.CanMulticast(rr, multicastLogID) {
				continue
			}
			e.recent.RecordMulticast(rr, multicastLogID)
			kept = append(kept, rr)
		}
		answers = kept
		if len(answers) == 0 {
			return
		}
	}

	out := &message.Outgoing{
		Flags:   protocol.FlagQR | protocol.FlagAA,
		Answers: answers,
	}
	datagrams, err := out.Datagrams(e.limit)
	if err != nil {
		e.log.WithError(err).Debug("dropping unencodable response")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, datagram := range datagrams {
		if err := e.rx.Send(ctx, datagram, reactor.FamilyAll, dest); err != nil {
			e.log.WithError(err).Debug("response send failed")
			return
		}
	}
}

// SendQuery assembles and transmits a query with the given questions and
// known-answer list. Known answers carry their remaining TTL and spill
// into TC-chained datagrams when they outgrow the limit.
func (e *Engine) SendQuery(ctx context.Context, questions []message.QueryQuestion, knownAnswers []*message.ResourceRecord) error {
	out := &message.Outgoing{
		Questions: questions,
		Answers:   knownAnswers,
	}
	datagrams, err := out.Datagrams(e.limit)
	if err != nil {
		return err
	}
	for _, datagram := range datagrams {
		if err := e.rx.Send(ctx, datagram, reactor.FamilyAll, nil); err != nil {
			return err
		}
	}
	return nil
}

// SendProbe transmits one probe query for name per RFC 6762 §8.1: a
// type-ANY question with the proposed record set in the authority
// section, so simultaneous probers can run the §8.2 tiebreak.
func (e *Engine) SendProbe(ctx context.Context, name string, proposed []*message.ResourceRecord) error {
	out := &message.Outgoing{
		Questions: []message.QueryQuestion{{
			Name: name,
			Type: uint16(protocol.RecordTypeANY),
		}},
		Authorities: proposed,
	}
	datagrams, err := out.Datagrams(e.limit)
	if err != nil {
		return err
	}
	for _, datagram := range datagrams {
		if err := e.rx.Send(ctx, datagram, reactor.FamilyAll, nil); err != nil {
			return err
		}
	}
	return nil
}

// SendRecords transmits records as an unsolicited response (announcement
// when TTLs are fresh, goodbye when the caller zeroed them), multicast on
// every socket.
func (e *Engine) SendRecords(ctx context.Context, records []*message.ResourceRecord) error {
	out := &message.Outgoing{
		Flags:   protocol.FlagQR | protocol.FlagAA,
		Answers: records,
	}
	datagrams, err := out.Datagrams(e.limit)
	if err != nil {
		return err
	}
	for _, datagram := range datagrams {
		if err := e.rx.Send(ctx, datagram, reactor.FamilyAll, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close detaches all listeners and drops any pending coalesced response.
// The reactor owns socket/timer shutdown.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.listeners = make(map[RecordListener]struct{})
	if e.pendingTimer != 0 {
		e.rx.Cancel(e.pendingTimer)
		e.pendingTimer = 0
	}
	e.pending = nil
}

// remainingTTL reports rec's TTL as of now, in whole seconds.
func remainingTTL(rec *cache.Record, now time.Time) uint32 {
	elapsed := now.Sub(rec.CreatedAt)
	if elapsed <= 0 {
		return rec.TTL
	}
	used := uint32(elapsed / time.Second) //nolint:gosec // TTL bounded to 32 bits on the wire
	if used >= rec.TTL {
		return 0
	}
	return rec.TTL - used
}

// answersToRecords converts a query's answer section (the known-answer
// list) into ResourceRecords for the suppression check.
func answersToRecords(answers []message.Answer) []*message.ResourceRecord {
	out := make([]*message.ResourceRecord, 0, len(answers))
	for _, a := range answers {
		out = append(out, &message.ResourceRecord{
			Name:  a.NAME,
			Type:  protocol.RecordType(a.TYPE),
			Class: protocol.DNSClass(a.CLASS &^ uint16(protocol.CacheFlushBit)),
			TTL:   a.TTL,
			Data:  a.RDATA,
		})
	}
	return out
}

// dedupeRecords drops records identical in (name, type, class, rdata),
// keeping first occurrence order.
func dedupeRecords(records []*message.ResourceRecord) []*message.ResourceRecord {
	type key struct {
		name  string
		rtype protocol.RecordType
		class protocol.DNSClass
		data  string
	}
	seen := make(map[key]struct{}, len(records))
	out := records[:0]
	for _, rr := range records {
		k := key{strings.ToLower(rr.Name), rr.Type, rr.Class, string(rr.Data)}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, rr)
	}
	return out
}

// nameEqualFold compares DNS names case-insensitively, ignoring a
// trailing dot on either side.
func nameEqualFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

// randomResponseDelay picks a uniform-random multicast response delay in
// the RFC 6762 §6 window.
func randomResponseDelay() time.Duration {
	span := responseDelayMax - responseDelayMin
	return responseDelayMin + rand.N(span)
}

// sourceOnLocalLink reports whether src is an address the engine may
// answer unicast: RFC 6762 §5.4 allows unicast replies only to queriers
// on the local link.
func sourceOnLocalLink(src net.Addr) bool {
	udp, ok := src.(*net.UDPAddr)
	if !ok || udp.IP == nil {
		return false
	}
	ip := udp.IP
	return ip.IsLinkLocalUnicast() || ip.IsPrivate() || ip.IsLoopback()
}
