package resolver

import (
	"context"
	goerrors "errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/beacon-mdns/beacon/internal/cache"
	"github.com/beacon-mdns/beacon/internal/engine"
	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
	"github.com/beacon-mdns/beacon/internal/transport"
)

// mdnsGroup is the standard mDNS IPv4 multicast destination (RFC 6762 §5).
var mdnsGroup = protocol.MulticastGroupIPv4()

// Resolver answers get-service-info calls for individual service
// instances, driving outbound queries for whatever SRV/TXT/A/AAAA records
// are still missing and merging inbound answers into its shared cache.
//
// A Resolver may back several concurrent GetServiceInfo calls: each call
// reads and requeries independently, and every inbound answer wakes all of
// them so none waits longer than necessary.
type Resolver struct {
	transport     transport.Transport
	cache         *cache.Cache
	ownsTransport bool

	// eng, when set, attaches the Resolver to a running engine: queries
	// go out through it and inbound answers arrive via its listener
	// callbacks instead of a private socket and receive loop.
	eng *engine.Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	waiters []chan struct{}
	now     func() time.Time
}

// New creates a Resolver with optional configuration, starting a
// background goroutine that folds inbound mDNS traffic into its cache.
func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		cache: cache.New(),
		now:   time.Now,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())

	if r.eng != nil {
		r.cache = r.eng.Cache()
		r.eng.AddListener(r)
		return r, nil
	}

	if r.transport == nil {
		tr, err := transport.NewUDPv4Transport()
		if err != nil {
			return nil, err
		}
		r.transport = tr
		r.ownsTransport = true
	}

	r.wg.Add(1)
	go r.receiveLoop()

	return r, nil
}

// RecordUpdated implements engine.RecordListener for attached mode: any
// inbound record wakes blocked GetServiceInfo callers so they can re-join
// their view against the shared cache.
func (r *Resolver) RecordUpdated(_ cache.Record, _ time.Time) {
	r.wakeWaiters()
}

// GetServiceInfo blocks until instanceName's SRV, TXT, and address records
// are all known, or timeout elapses. It first checks the cache; if
// incomplete, it queries for exactly the record types still missing,
// retrying at 1s, 2s, 4s, ... (doubling, bounded by the remaining
// timeout) until the view is complete or the deadline passes. A query for
// a given record type is never repeated once its answer is cached.
func (r *Resolver) GetServiceInfo(ctx context.Context, instanceName string, timeout time.Duration) (*ServiceInfo, error) {
	// the instance label may hold arbitrary UTF-8 (RFC 6763 §4.3); only
	// the service-type tail is validated strictly
	if i := strings.Index(instanceName, "._"); i >= 0 {
		if err := protocol.ValidateServiceType(instanceName[i+1:]); err != nil {
			return nil, err
		}
	} else if err := protocol.ValidateName(instanceName); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if info, complete := r.buildServiceInfo(instanceName); complete {
		return info, nil
	}

	wait := time.Second
	woken := r.subscribe()
	defer r.unsubscribe(woken)

	for {
		if questions := r.missingQuestions(instanceName); len(questions) > 0 {
			if err := r.sendQuery(ctx, questions); err != nil && !goerrors.Is(err, context.Canceled) {
				return nil, err
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			info, _ := r.buildServiceInfo(instanceName)
			return info, ctx.Err()
		case <-woken:
			timer.Stop()
		case <-timer.C:
		}

		if info, complete := r.buildServiceInfo(instanceName); complete {
			return info, nil
		}
		wait *= 2
	}
}

// missingQuestions returns one QueryQuestion per SRV/TXT/A/AAAA record
// instanceName still needs. Until the server name is known from an SRV
// answer, A/AAAA questions speculatively target instanceName itself.
func (r *Resolver) missingQuestions(instanceName string) []message.QueryQuestion {
	var questions []message.QueryQuestion

	srv := r.cache.GetByDetails(instanceName, protocol.RecordTypeSRV, protocol.ClassIN)
	if srv == nil {
		questions = append(questions, message.QueryQuestion{Name: instanceName, Type: uint16(protocol.RecordTypeSRV)})
	}
	if r.cache.GetByDetails(instanceName, protocol.RecordTypeTXT, protocol.ClassIN) == nil {
		questions = append(questions, message.QueryQuestion{Name: instanceName, Type: uint16(protocol.RecordTypeTXT)})
	}

	addrName := instanceName
	if srv != nil {
		if data, err := message.ParseRDATA(uint16(protocol.RecordTypeSRV), srv.Data); err == nil {
			addrName = data.(message.SRVData).Target
		}
	}

	haveA, haveAAAA := false, false
	for _, rec := range r.cache.GetByName(addrName) {
		switch rec.Type {
		case protocol.RecordTypeA:
			haveA = true
		case protocol.RecordTypeAAAA:
			haveAAAA = true
		}
	}
	if !haveA {
		questions = append(questions, message.QueryQuestion{Name: addrName, Type: uint16(protocol.RecordTypeA)})
	}
	if !haveAAAA {
		questions = append(questions, message.QueryQuestion{Name: addrName, Type: uint16(protocol.RecordTypeAAAA)})
	}

	return questions
}

// buildServiceInfo joins the current cache contents into a ServiceInfo for
// instanceName, reporting whether the result is complete.
func (r *Resolver) buildServiceInfo(instanceName string) (*ServiceInfo, bool) {
	info := &ServiceInfo{}
	info.SetInstanceName(instanceName)
	if i := strings.Index(instanceName, "._"); i >= 0 {
		info.ServiceType = instanceName[i+1:]
	}

	if srv := r.cache.GetByDetails(instanceName, protocol.RecordTypeSRV, protocol.ClassIN); srv != nil {
		if data, err := message.ParseRDATA(uint16(protocol.RecordTypeSRV), srv.Data); err == nil {
			sd := data.(message.SRVData)
			info.Server = sd.Target
			info.Port = sd.Port
			info.Priority = sd.Priority
			info.Weight = sd.Weight
		}
	}

	if txt := r.cache.GetByDetails(instanceName, protocol.RecordTypeTXT, protocol.ClassIN); txt != nil {
		if data, err := message.ParseRDATA(uint16(protocol.RecordTypeTXT), txt.Data); err == nil {
			info.Properties = decodeProperties(data.([]string))
		} else {
			info.Properties = map[string][]byte{}
		}
	}

	if info.Server != "" {
		for _, rec := range r.cache.GetByName(info.Server) {
			switch rec.Type {
			case protocol.RecordTypeA, protocol.RecordTypeAAAA:
				if data, err := message.ParseRDATA(uint16(rec.Type), rec.Data); err == nil {
					if ip, ok := data.(net.IP); ok {
						info.Addresses = append(info.Addresses, []byte(ip))
					}
				}
			}
		}
	}

	return info, info.Complete()
}

// decodeProperties parses RFC 6763 §6.3 TXT strings into a key/value map.
// A string with no '=' is a key present with no value (nil). Duplicate
// keys: first occurrence wins, per RFC 6763 §6.4.
func decodeProperties(strs []string) map[string][]byte {
	props := make(map[string][]byte, len(strs))
	for _, s := range strs {
		if s == "" {
			continue
		}
		key, value, hasValue := strings.Cut(s, "=")
		if _, exists := props[key]; exists {
			continue
		}
		if hasValue {
			props[key] = []byte(value)
		} else {
			props[key] = nil
		}
	}
	return props
}

// sendQuery transmits a single multi-question query for questions.
func (r *Resolver) sendQuery(ctx context.Context, questions []message.QueryQuestion) error {
	if r.eng != nil {
		return r.eng.SendQuery(ctx, questions, nil)
	}
	query, err := message.BuildMultiQuery(questions)
	if err != nil {
		return err
	}
	return r.transport.Send(ctx, query, mdnsGroup)
}

// subscribe registers a channel that receiveLoop pings whenever it merges
// a new answer into the cache, letting GetServiceInfo wake early instead
// of waiting out its full backoff interval.
func (r *Resolver) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()
	return ch
}

func (r *Resolver) unsubscribe(ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiters {
		if w == ch {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			break
		}
	}
}

func (r *Resolver) wakeWaiters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// receiveLoop parses inbound mDNS traffic and merges answers into the
// cache: a record with TTL=0 is a goodbye and is removed rather than
// added, per RFC 6762 §10.1.
func (r *Resolver) receiveLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		recvCtx, cancel := context.WithTimeout(r.ctx, 200*time.Millisecond)
		packet, _, err := r.transport.Receive(recvCtx)
		cancel()
		if err != nil {
			continue
		}

		msg, err := message.ParseMessage(packet)
		if err != nil {
			continue
		}

		now := r.now()
		changed := false
		answers := append(msg.Answers, msg.Additionals...)
		for _, a := range answers {
			rec := cache.FromAnswer(a, now)
			if a.TTL == 0 {
				r.cache.Remove(rec)
				continue
			}
			r.cache.Add(rec, now)
			changed = true
		}
		if changed {
			r.wakeWaiters()
		}
	}
}

// Close shuts down the background receiver and, if Resolver opened its
// own transport, closes it.
func (r *Resolver) Close() error {
	r.cancel()
	if r.eng != nil {
		r.eng.RemoveListener(r)
	}
	r.wg.Wait()

	if r.ownsTransport {
		return r.transport.Close()
	}
	return nil
}
