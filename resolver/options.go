package resolver

import (
	"time"

	"github.com/beacon-mdns/beacon/internal/cache"
	"github.com/beacon-mdns/beacon/internal/engine"
	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/transport"
)

// Option is a functional option for configuring a Resolver.
//
// Options follow the functional options pattern per F-5 (API Usability).
type Option func(*Resolver) error

// WithTransport supplies the transport the Resolver queries and listens
// on, instead of opening its own IPv4 socket. The caller retains ownership
// and must close the transport itself.
//
// This is how the engine shares one socket set between the resolver,
// browser, and responder, and how tests substitute a MockTransport.
func WithTransport(t transport.Transport) Option {
	return func(r *Resolver) error {
		if t == nil {
			return &errors.ValidationError{
				Field:   "transport",
				Message: "transport cannot be nil",
			}
		}
		r.transport = t
		return nil
	}
}

// WithCache shares an existing record cache with the Resolver instead of
// creating a private one. Answers already cached (e.g. by a browser on
// the same engine) then satisfy GetServiceInfo without any query.
func WithCache(c *cache.Cache) Option {
	return func(r *Resolver) error {
		if c == nil {
			return &errors.ValidationError{
				Field:   "cache",
				Message: "cache cannot be nil",
			}
		}
		r.cache = c
		return nil
	}
}

// WithEngine attaches the Resolver to a running engine: queries go out
// through the engine's sockets, answers arrive via its shared cache, and
// no private socket is opened. Takes precedence over WithTransport.
func WithEngine(eng *engine.Engine) Option {
	return func(r *Resolver) error {
		if eng == nil {
			return &errors.ValidationError{
				Field:   "engine",
				Message: "engine cannot be nil",
			}
		}
		r.eng = eng
		return nil
	}
}

// WithClock overrides the time source used to stamp inbound records.
// Intended for tests that need records created in the past.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) error {
		if now == nil {
			return &errors.ValidationError{
				Field:   "clock",
				Message: "clock cannot be nil",
			}
		}
		r.now = now
		return nil
	}
}
