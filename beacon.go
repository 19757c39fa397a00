// Package beacon is a multicast DNS (RFC 6762) / DNS-based Service
// Discovery (RFC 6763) endpoint: it announces this host's services on
// the local link and discovers services announced by others, over UDP
// multicast on the .local. pseudo-TLD.
//
// Open binds the multicast sockets and starts the engine; services are
// published with RegisterService and discovered with AddServiceListener
// (continuous browsing) or GetServiceInfo (one-shot resolution). The
// lower-level querier and responder packages remain available for
// callers that want only one side of the protocol.
package beacon

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/beacon-mdns/beacon/browser"
	"github.com/beacon-mdns/beacon/internal/cache"
	"github.com/beacon-mdns/beacon/internal/engine"
	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
	"github.com/beacon-mdns/beacon/internal/reactor"
	"github.com/beacon-mdns/beacon/internal/records"
	"github.com/beacon-mdns/beacon/internal/responder"
	"github.com/beacon-mdns/beacon/internal/transport"
	"github.com/beacon-mdns/beacon/resolver"
)

// ServiceInfo is the materialised view of a service instance, shared
// between registration (what this host announces) and resolution (what
// peers announce). See the resolver package for field documentation.
type ServiceInfo = resolver.ServiceInfo

// Probing parameters per RFC 6762 §8.1: three queries 250ms apart, and a
// bounded number of rename-and-retry rounds before giving up.
const (
	probeCount       = 3
	probeInterval    = 250 * time.Millisecond
	maxProbeAttempts = 10
	announceCount    = 3
)

// cacheReapInterval is how often the engine sweeps expired records out
// of the cache.
const cacheReapInterval = 10 * time.Second

// registeredService tracks one locally-owned service after a successful
// probe: its announced record set and any still-pending announce timers.
type registeredService struct {
	info    *ServiceInfo
	records []*message.ResourceRecord
	timers  []uint64
}

// Engine is the top-level mDNS endpoint. All methods are safe for
// concurrent use; every method fails with ClosedError after Close.
type Engine struct {
	cfg      *config
	log      *logrus.Logger
	rx       *reactor.Reactor
	core     *engine.Engine
	res      *resolver.Resolver
	registry *responder.Registry
	detector *responder.ConflictDetector

	mu       sync.Mutex
	services map[string]*registeredService // lowercased instance name -> service
	browsers map[browser.Listener][]*browser.Browser
	closed   bool
}

// Open binds the configured multicast (or unicast-query) sockets, starts
// the receive and timer loops, and returns a running Engine. Socket
// setup failures propagate; once Open returns, per-socket receive errors
// are handled internally with backoff and reopen.
func Open(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	log := cfg.log
	if log == nil {
		log = logrus.StandardLogger()
	}

	sockets, err := openSockets(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		log:      log,
		services: make(map[string]*registeredService),
		browsers: make(map[browser.Listener][]*browser.Browser),
	}

	store := cache.New()
	e.rx = reactor.New(sockets, func(msg *message.DNSMessage, src net.Addr) {
		e.core.HandleMessage(msg, src)
	}, log)
	e.core = engine.New(e.rx, store, cfg.datagramLimit, log)

	e.detector = responder.NewConflictDetector()
	e.registry = responder.NewRegistry()
	e.registry.SetConflictCheck(func(svc *responder.Service) error {
		return cacheConflict(store, svc)
	})

	e.res, err = resolver.New(resolver.WithEngine(e.core))
	if err != nil {
		_ = e.rx.Close()
		return nil, err
	}

	e.rx.Start()
	e.scheduleReap()

	return e, nil
}

// scheduleReap arms the periodic cache sweep on the reactor timer loop.
func (e *Engine) scheduleReap() {
	e.rx.Schedule(cacheReapInterval, func() {
		e.core.Cache().Reap(time.Now())
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if !closed {
			e.scheduleReap()
		}
	})
}

// RegisterService probes for the uniqueness of info's instance name and,
// once clear, announces the service. On a probe conflict the instance is
// renamed ("Name" → "Name (2)" → "Name (3)", ...) and probing restarts,
// up to ten attempts; with WithoutRename, or once the attempts are
// exhausted, NonUniqueNameError is returned. cooperating skips conflict
// detection entirely, for hosts intentionally sharing a record set.
func (e *Engine) RegisterService(info *ServiceInfo, cooperating bool) error {
	if err := e.checkOpen("register service"); err != nil {
		return err
	}
	if err := validateServiceInfo(info); err != nil {
		return err
	}

	attempts := maxProbeAttempts
	if cooperating {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		instance := info.InstanceName + "." + info.ServiceType
		recordSet := buildRecordSet(info)

		conflict := false
		if !cooperating {
			var err error
			conflict, err = e.probe(instance, recordSet)
			if err != nil {
				return err
			}
		}

		if !conflict {
			err := e.adopt(info, recordSet, cooperating)
			if err == nil {
				return nil
			}
			var nonUnique *errors.NonUniqueNameError
			if !goerrors.As(err, &nonUnique) {
				return err
			}
			// the registry's cache check caught an owner the probe
			// window missed; fall through to the rename path
			conflict = true
		}

		if conflict {
			if !e.cfg.allowRename {
				return &errors.NonUniqueNameError{Name: instance, Owner: "another responder"}
			}
			info.SetInstanceName(responder.TruncateLabel(e.detector.Rename(info.InstanceName), protocol.MaxLabelLength))
		}
	}

	return &errors.NonUniqueNameError{
		Name:  info.InstanceName + "." + info.ServiceType,
		Owner: "another responder",
	}
}

// probe runs one RFC 6762 §8.1 probe round: three type-ANY queries with
// the proposed records in the authority section, 250ms apart, watching
// for any competing record under the proposed name.
func (e *Engine) probe(instance string, recordSet []*message.ResourceRecord) (bool, error) {
	watch := newConflictWatch(instance, recordSet)
	if watch.checkCache(e.core.Cache()) {
		return true, nil
	}

	e.core.AddListener(watch)
	defer e.core.RemoveListener(watch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeCount+1)*probeInterval)
	defer cancel()

	for i := 0; i < probeCount; i++ {
		if err := e.core.SendProbe(ctx, instance, recordSet); err != nil {
			return false, err
		}
		select {
		case <-time.After(probeInterval):
		case <-watch.conflict:
			return true, nil
		}
	}

	// one more interval of quiet before the name is considered won
	select {
	case <-time.After(probeInterval):
	case <-watch.conflict:
		return true, nil
	}
	return false, nil
}

// adopt registers the probed name (the registry runs the cache-backed
// conflict check unless the caller is a cooperating responder), installs
// the record set as authoritative, and announces it announceCount times,
// the repeats spaced by the register interval.
func (e *Engine) adopt(info *ServiceInfo, recordSet []*message.ResourceRecord, cooperating bool) error {
	entry := registryEntry(info)
	if err := e.registry.Register(entry); err != nil {
		if cooperating {
			// shared names are the point of cooperating responders; a
			// duplicate or foreign owner is not an error here
			e.log.WithError(err).Debug("cooperating registration overlaps an existing owner")
		} else {
			return err
		}
	}

	key := strings.ToLower(info.InstanceName + "." + info.ServiceType)
	svc := &registeredService{info: info, records: recordSet}

	e.mu.Lock()
	e.services[key] = svc
	e.mu.Unlock()

	e.core.SetAuthoritative(key, recordSet)
	e.repeatSend(svc, recordSet)
	return nil
}

// registryEntry converts the public ServiceInfo into the registry's
// string-keyed service shape.
func registryEntry(info *ServiceInfo) *responder.Service {
	txt := make(map[string]string, len(info.Properties))
	for key, value := range info.Properties {
		txt[key] = string(value)
	}
	return &responder.Service{
		InstanceName: info.InstanceName,
		ServiceType:  strings.TrimSuffix(info.ServiceType, "."),
		Port:         int(info.Port),
		TXT:          txt,
		Hostname:     info.Server,
	}
}

// cacheConflict implements the registry's conflict check against the
// shared record cache: an observed SRV for the proposed instance name
// whose target is a different host means the name is owned elsewhere.
func cacheConflict(store *cache.Cache, svc *responder.Service) error {
	instance := svc.InstanceName + "." + svc.ServiceType
	for _, rec := range store.EntriesWithNameAndAlias(protocol.RecordTypeSRV, instance) {
		if rec.Type != protocol.RecordTypeSRV {
			continue
		}
		parsed, err := message.ParseRDATA(uint16(protocol.RecordTypeSRV), rec.Data)
		if err != nil {
			continue
		}
		srv, ok := parsed.(message.SRVData)
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSuffix(srv.Target, "."), strings.TrimSuffix(svc.Hostname, ".")) {
			return &errors.NonUniqueNameError{Name: instance, Owner: srv.Target}
		}
	}
	return nil
}

// repeatSend transmits records now and schedules the remaining repeats,
// remembering the timer tokens so unregistration can cancel them.
func (e *Engine) repeatSend(svc *registeredService, recordSet []*message.ResourceRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.core.SendRecords(ctx, recordSet); err != nil {
		e.log.WithError(err).Debug("announcement send failed")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 1; i < announceCount; i++ {
		id := e.rx.Schedule(time.Duration(i)*e.cfg.registerInterval, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := e.core.SendRecords(ctx, recordSet); err != nil {
				e.log.WithError(err).Debug("announcement send failed")
			}
		})
		svc.timers = append(svc.timers, id)
	}
}

// UpdateService rebuilds and re-announces the record set for an already
// registered service (changed TXT properties, port, or addresses).
func (e *Engine) UpdateService(info *ServiceInfo) error {
	if err := e.checkOpen("update service"); err != nil {
		return err
	}
	if err := validateServiceInfo(info); err != nil {
		return err
	}

	key := strings.ToLower(info.InstanceName + "." + info.ServiceType)
	e.mu.Lock()
	svc, ok := e.services[key]
	e.mu.Unlock()
	if !ok {
		return &errors.ValidationError{
			Field: "service", Value: info.InstanceName,
			Message: "service is not registered",
		}
	}

	recordSet := buildRecordSet(info)
	e.mu.Lock()
	svc.info = info
	svc.records = recordSet
	e.mu.Unlock()

	// keep the registry's view of the service current too
	if entry, ok := e.registry.Get(info.InstanceName); ok {
		*entry = *registryEntry(info)
	}

	e.core.SetAuthoritative(key, recordSet)
	e.repeatSend(svc, recordSet)
	return nil
}

// UnregisterService withdraws a service: its records leave the
// authoritative set immediately and goodbyes (TTL=0) go out
// announceCount times so peers flush their caches.
func (e *Engine) UnregisterService(info *ServiceInfo) error {
	if err := e.checkOpen("unregister service"); err != nil {
		return err
	}
	key := strings.ToLower(info.InstanceName + "." + info.ServiceType)
	return e.unregisterKey(key)
}

func (e *Engine) unregisterKey(key string) error {
	e.mu.Lock()
	svc, ok := e.services[key]
	if ok {
		delete(e.services, key)
		for _, id := range svc.timers {
			e.rx.Cancel(id)
		}
	}
	e.mu.Unlock()
	if !ok {
		return &errors.ValidationError{
			Field: "service", Value: key,
			Message: "service is not registered",
		}
	}

	_ = e.registry.Remove(svc.info.InstanceName)
	e.core.RemoveAuthoritative(key)
	goodbyes := zeroTTLCopies(svc.records)
	e.repeatSend(svc, goodbyes)
	return nil
}

// UnregisterAllServices withdraws every registered service.
func (e *Engine) UnregisterAllServices() error {
	if err := e.checkOpen("unregister all services"); err != nil {
		return err
	}

	e.mu.Lock()
	keys := make([]string, 0, len(e.services))
	for key := range e.services {
		keys = append(keys, key)
	}
	e.mu.Unlock()

	for _, key := range keys {
		_ = e.unregisterKey(key)
	}
	return nil
}

// GetServiceInfo resolves one service instance, blocking until its SRV,
// TXT, and address records are known or timeout elapses. Returns nil
// (and no error) on timeout.
func (e *Engine) GetServiceInfo(serviceType, instanceName string, timeout time.Duration) (*ServiceInfo, error) {
	if err := e.checkOpen("get service info"); err != nil {
		return nil, err
	}
	if err := protocol.ValidateServiceType(serviceType); err != nil {
		return nil, err
	}

	name := instanceName
	if !strings.HasSuffix(strings.ToLower(name), strings.ToLower(strings.TrimSuffix(serviceType, "."))) {
		name = instanceName + "." + serviceType
	}

	info, err := e.res.GetServiceInfo(context.Background(), name, timeout)
	if err != nil {
		if info != nil && info.Complete() {
			return info, nil
		}
		return nil, nil // timed out without a complete view
	}
	return info, nil
}

// AddServiceListener starts continuous browsing for serviceType,
// delivering Added/Updated/Removed events to listener. One listener may
// watch several types via repeated calls.
func (e *Engine) AddServiceListener(serviceType string, listener browser.Listener) error {
	if err := e.checkOpen("add service listener"); err != nil {
		return err
	}
	if err := protocol.ValidateServiceType(serviceType); err != nil {
		// the service enumeration meta-type is browsable too
		if !strings.EqualFold(strings.TrimSuffix(serviceType, "."), engine.ServiceEnumerationName) {
			return err
		}
	}

	b, err := browser.New(e.core, []string{serviceType}, listener)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.browsers[listener] = append(e.browsers[listener], b)
	e.mu.Unlock()
	return nil
}

// RemoveServiceListener stops every browse attached to listener.
func (e *Engine) RemoveServiceListener(listener browser.Listener) error {
	if err := e.checkOpen("remove service listener"); err != nil {
		return err
	}

	e.mu.Lock()
	browsers := e.browsers[listener]
	delete(e.browsers, listener)
	e.mu.Unlock()

	for _, b := range browsers {
		_ = b.Close()
	}
	return nil
}

// RemoveAllServiceListeners stops every active browse.
func (e *Engine) RemoveAllServiceListeners() error {
	if err := e.checkOpen("remove all service listeners"); err != nil {
		return err
	}

	e.mu.Lock()
	var all []*browser.Browser
	for listener, browsers := range e.browsers {
		all = append(all, browsers...)
		delete(e.browsers, listener)
	}
	e.mu.Unlock()

	for _, b := range all {
		_ = b.Close()
	}
	return nil
}

// FindAllServiceTypes browses the _services._dns-sd._udp.local
// meta-type (RFC 6763 §9) for the given window and returns every service
// type name observed.
func (e *Engine) FindAllServiceTypes(timeout time.Duration) ([]string, error) {
	if err := e.checkOpen("find all service types"); err != nil {
		return nil, err
	}

	collector := &typeCollector{seen: make(map[string]string)}
	b, err := browser.New(e.core, []string{engine.ServiceEnumerationName}, collector)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	time.Sleep(timeout)
	return collector.types(), nil
}

// Close withdraws all services (single immediate goodbye), stops every
// browser and the resolver, and shuts down the sockets and timer loop.
// Blocking callers of GetServiceInfo observe a timeout. Safe to call
// more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	var goodbyes [][]*message.ResourceRecord
	for key, svc := range e.services {
		delete(e.services, key)
		for _, id := range svc.timers {
			e.rx.Cancel(id)
		}
		_ = e.registry.Remove(svc.info.InstanceName)
		e.core.RemoveAuthoritative(key)
		goodbyes = append(goodbyes, zeroTTLCopies(svc.records))
	}
	var browsers []*browser.Browser
	for listener, bs := range e.browsers {
		browsers = append(browsers, bs...)
		delete(e.browsers, listener)
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	for _, recordSet := range goodbyes {
		_ = e.core.SendRecords(ctx, recordSet)
	}
	cancel()

	for _, b := range browsers {
		_ = b.Close()
	}
	_ = e.res.Close()
	e.core.Close()
	return e.rx.Close()
}

func (e *Engine) checkOpen(operation string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return &errors.ClosedError{Operation: operation}
	}
	return nil
}

// typeCollector accumulates service-type names from the enumeration
// meta-browse.
type typeCollector struct {
	mu   sync.Mutex
	seen map[string]string
}

func (c *typeCollector) ServiceStateChanged(_, instanceName string, kind browser.EventKind) {
	if kind == browser.Removed {
		return
	}
	c.mu.Lock()
	c.seen[strings.ToLower(instanceName)] = instanceName
	c.mu.Unlock()
}

func (c *typeCollector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.seen))
	for _, name := range c.seen {
		out = append(out, name)
	}
	return out
}

// conflictWatch flags any record under the probed name that differs from
// the proposed set: somebody else already answers for it.
type conflictWatch struct {
	instanceKey string
	proposed    map[string]struct{} // rdata of our own records, to ignore echoes
	conflict    chan struct{}
	once        sync.Once
}

func newConflictWatch(instance string, recordSet []*message.ResourceRecord) *conflictWatch {
	w := &conflictWatch{
		instanceKey: strings.ToLower(strings.TrimSuffix(instance, ".")),
		proposed:    make(map[string]struct{}, len(recordSet)),
		conflict:    make(chan struct{}),
	}
	for _, rr := range recordSet {
		w.proposed[recordKey(rr.Type, rr.Data)] = struct{}{}
	}
	return w
}

func recordKey(rtype protocol.RecordType, data []byte) string {
	return fmt.Sprintf("%d/%s", rtype, data)
}

// checkCache reports a pre-existing claim on the probed name.
func (w *conflictWatch) checkCache(store *cache.Cache) bool {
	for _, rec := range store.EntriesWithNameAndAlias(protocol.RecordTypeSRV, w.instanceKey) {
		if _, ours := w.proposed[recordKey(rec.Type, rec.Data)]; !ours {
			return true
		}
	}
	return false
}

// RecordUpdated implements engine.RecordListener during the probe window.
func (w *conflictWatch) RecordUpdated(rec cache.Record, _ time.Time) {
	if strings.ToLower(strings.TrimSuffix(rec.Name, ".")) != w.instanceKey {
		return
	}
	switch rec.Type {
	case protocol.RecordTypeSRV, protocol.RecordTypeTXT, protocol.RecordTypeA, protocol.RecordTypeAAAA:
		if _, ours := w.proposed[recordKey(rec.Type, rec.Data)]; !ours {
			w.once.Do(func() { close(w.conflict) })
		}
	}
}

// validateServiceInfo applies the public-API name rules: a well-formed
// service type and an instance label that fits one DNS label.
func validateServiceInfo(info *ServiceInfo) error {
	if info == nil {
		return &errors.ValidationError{Field: "service", Message: "service info cannot be nil"}
	}
	if err := protocol.ValidateServiceType(info.ServiceType); err != nil {
		return err
	}
	if err := protocol.ValidateInstanceLabel(info.InstanceName); err != nil {
		return err
	}
	if info.Port == 0 {
		return &errors.ValidationError{Field: "port", Value: info.Port, Message: "port cannot be zero"}
	}
	if len(info.Addresses) == 0 {
		return &errors.ValidationError{Field: "addresses", Message: "at least one address required"}
	}
	return nil
}

// buildRecordSet renders a ServiceInfo into its announcement records.
func buildRecordSet(info *ServiceInfo) []*message.ResourceRecord {
	hostname := info.Server
	if hostname == "" {
		hostname = strings.ToLower(strings.SplitN(info.InstanceName, ".", 2)[0]) + ".local"
	}
	ir := &records.InstanceRecords{
		InstanceName: info.InstanceName,
		ServiceType:  strings.TrimSuffix(info.ServiceType, "."),
		Hostname:     strings.TrimSuffix(hostname, "."),
		Port:         info.Port,
		Priority:     info.Priority,
		Weight:       info.Weight,
		Properties:   info.Properties,
		Addresses:    info.Addresses,
		Subtypes:     info.Subtypes,
	}
	return ir.Build()
}

// zeroTTLCopies clones records with TTL=0 for a goodbye transmission.
func zeroTTLCopies(recordSet []*message.ResourceRecord) []*message.ResourceRecord {
	out := make([]*message.ResourceRecord, 0, len(recordSet))
	for _, rr := range recordSet {
		clone := *rr
		clone.TTL = 0
		out = append(out, &clone)
	}
	return out
}

// openSockets builds the reactor socket set from the configuration.
func openSockets(cfg *config) ([]reactor.Socket, error) {
	if len(cfg.sockets) > 0 {
		out := make([]reactor.Socket, 0, len(cfg.sockets))
		for _, s := range cfg.sockets {
			family := reactor.FamilyIPv4
			if s.ipv6 {
				family = reactor.FamilyIPv6
			}
			out = append(out, reactor.Socket{Transport: s.transport, Family: family})
		}
		return out, nil
	}

	var out []reactor.Socket
	wantV4 := cfg.ipVersion == IPv4Only || cfg.ipVersion == IPAll
	wantV6 := cfg.ipVersion == IPv6Only || cfg.ipVersion == IPAll

	if cfg.unicast {
		if wantV4 {
			t, err := transport.NewUnicastUDPTransport(false, cfg.appleP2P)
			if err != nil {
				return nil, err
			}
			out = append(out, reactor.Socket{
				Transport: t,
				Family:    reactor.FamilyIPv4,
				Reopen: func() (transport.Transport, error) {
					return transport.NewUnicastUDPTransport(false, cfg.appleP2P)
				},
			})
		}
		if wantV6 {
			t, err := transport.NewUnicastUDPTransport(true, cfg.appleP2P)
			if err != nil {
				closeSockets(out)
				return nil, err
			}
			out = append(out, reactor.Socket{
				Transport: t,
				Family:    reactor.FamilyIPv6,
				Reopen: func() (transport.Transport, error) {
					return transport.NewUnicastUDPTransport(true, cfg.appleP2P)
				},
			})
		}
		return out, nil
	}

	// one multicast socket per explicit interface, or one on the kernel
	// default set when no explicit list was given
	explicit := cfg.interfaces
	count := len(explicit)
	if count == 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		var ifi *net.Interface
		if len(explicit) > 0 {
			ifi = &explicit[i]
		}
		if wantV4 {
			t, err := transport.NewUDPv4TransportWith(ifi, cfg.appleP2P)
			if err != nil {
				closeSockets(out)
				return nil, err
			}
			reopen := func() (transport.Transport, error) { return transport.NewUDPv4TransportWith(ifi, cfg.appleP2P) }
			out = append(out, reactor.Socket{Transport: t, Family: reactor.FamilyIPv4, Reopen: reopen})
		}
		if wantV6 {
			t, err := transport.NewUDPv6TransportWith(ifi, cfg.appleP2P)
			if err != nil {
				closeSockets(out)
				return nil, err
			}
			reopen := func() (transport.Transport, error) { return transport.NewUDPv6TransportWith(ifi, cfg.appleP2P) }
			out = append(out, reactor.Socket{Transport: t, Family: reactor.FamilyIPv6, Reopen: reopen})
		}
	}
	return out, nil
}

func closeSockets(sockets []reactor.Socket) {
	for _, s := range sockets {
		_ = s.Transport.Close()
	}
}
