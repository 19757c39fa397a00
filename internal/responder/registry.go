// Package responder manages mDNS service registration and response logic.
package responder

import (
	"fmt"
	"strings"
	"sync"
)

// nameKey canonicalises a DNS name for identity comparison: lowercased,
// with any trailing root dot stripped. This is the same canonicalisation
// the record cache uses, so registry ownership and cached observations of
// a name always collide.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// Registry is the set of locally-owned services, keyed by the
// case-insensitive instance name. DNS names compare case-insensitively
// (RFC 1035 §2.3.3), so "My Printer" and "my printer" are the same
// registration; the display form of the first registration is preserved.
//
// An optional conflict check runs before a name is accepted: the engine
// installs one backed by the shared record cache, refusing names the
// network already shows owned by a different responder.
type Registry struct {
	mu            sync.RWMutex
	services      map[string]*Service // instance name-key -> service (display form on the Service)
	conflictCheck func(*Service) error
}

// NewRegistry creates a new service registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]*Service),
	}
}

// SetConflictCheck installs a check consulted by Register before a name
// is accepted. A nil check (the default) accepts any non-duplicate name;
// the engine sets one that inspects the record cache for SRV/TXT records
// under the proposed name owned elsewhere.
func (r *Registry) SetConflictCheck(check func(*Service) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflictCheck = check
}

// Register adds a service to the registry.
//
// Registration fails when the instance name is already taken (duplicate
// detection is case-insensitive) or when the installed conflict check
// rejects the name.
//
// Thread-safe: Uses write lock (RWMutex.Lock)
func (r *Registry) Register(service *Service) error {
	if service == nil {
		return fmt.Errorf("cannot register nil service")
	}
	if service.InstanceName == "" {
		return fmt.Errorf("service InstanceName cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey(service.InstanceName)
	if _, exists := r.services[key]; exists {
		return fmt.Errorf("service with InstanceName %q already registered", service.InstanceName)
	}

	if r.conflictCheck != nil {
		if err := r.conflictCheck(service); err != nil {
			return err
		}
	}

	r.services[key] = service
	return nil
}

// Get retrieves a service by instance name, case-insensitively.
//
// Thread-safe: Uses read lock (RWMutex.RLock) - allows concurrent reads
func (r *Registry) Get(instanceName string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	service, exists := r.services[nameKey(instanceName)]
	return service, exists
}

// Remove removes a service from the registry, case-insensitively.
//
// Thread-safe: Uses write lock (RWMutex.Lock)
func (r *Registry) Remove(instanceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey(instanceName)
	if _, exists := r.services[key]; !exists {
		return fmt.Errorf("service with InstanceName %q not found", instanceName)
	}

	delete(r.services, key)
	return nil
}

// List returns the registered instance names in their display form.
//
// Thread-safe: Uses read lock (RWMutex.RLock)
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for _, service := range r.services {
		names = append(names, service.InstanceName)
	}
	return names
}

// ListServiceTypes returns the distinct registered service types,
// deduplicated case-insensitively, in the display form first seen.
//
// This supports RFC 6763 §9 service enumeration: a PTR query for
// "_services._dns-sd._udp.local" is answered with one PTR per type
// (e.g., "_http._tcp.local", "_ssh._tcp.local"), never per instance.
//
// Thread-safe: Uses read lock (RWMutex.RLock)
func (r *Registry) ListServiceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.services))
	types := make([]string, 0, len(r.services))
	for _, service := range r.services {
		key := nameKey(service.ServiceType)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		types = append(types, service.ServiceType)
	}
	return types
}

// Service is a locally-owned service as the registry tracks it: the
// display-form names, the owning host, the port, and the TXT metadata
// needed to rebuild its record set on update.
type Service struct {
	InstanceName string
	ServiceType  string
	Port         int
	TXT          map[string]string

	// Hostname is the server name the service's SRV record targets.
	// Conflict checks compare it against the SRV targets the cache has
	// observed for the instance name: a cached SRV pointing at a
	// different host means the name is owned elsewhere.
	Hostname string
}

// NameKey returns the case-insensitive identity of the full instance
// name ("<instance>.<service-type>"), matching the record cache's name
// canonicalisation.
func (s *Service) NameKey() string {
	return nameKey(s.InstanceName + "." + s.ServiceType)
}
