package beacon

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/beacon-mdns/beacon/internal/errors"
	"github.com/beacon-mdns/beacon/internal/message"
	"github.com/beacon-mdns/beacon/internal/protocol"
	"github.com/beacon-mdns/beacon/internal/transport"
)

// IPVersion selects which address families the engine binds.
type IPVersion int

const (
	// IPv4Only binds only the 224.0.0.251 group (the default).
	IPv4Only IPVersion = iota
	// IPv6Only binds only the ff02::fb group.
	IPv6Only
	// IPAll binds both families.
	IPAll
)

// Option is a functional option for configuring an Engine.
//
// Options follow the functional options pattern per F-5 (API Usability).
type Option func(*config) error

// config collects Open-time settings before sockets exist.
type config struct {
	ipVersion        IPVersion
	interfaces       []net.Interface // nil = kernel default set
	unicast          bool
	appleP2P         bool
	datagramLimit    int
	registerInterval time.Duration
	allowRename      bool
	log              *logrus.Logger
	sockets          []injectedSocket // test injection, bypasses binding
}

type injectedSocket struct {
	transport transport.Transport
	ipv6      bool
}

func defaultConfig() *config {
	return &config{
		ipVersion:        IPv4Only,
		datagramLimit:    protocol.MaxDatagramPayload,
		registerInterval: time.Second,
		allowRename:      true,
	}
}

// WithIPVersion selects the address families to bind. Default: IPv4Only.
func WithIPVersion(v IPVersion) Option {
	return func(c *config) error {
		if v < IPv4Only || v > IPAll {
			return &errors.ValidationError{Field: "ipVersion", Value: v, Message: "unknown IP version"}
		}
		c.ipVersion = v
		return nil
	}
}

// WithInterfaces restricts the engine to an explicit interface list
// instead of the kernel's default multicast interface selection.
func WithInterfaces(ifaces []net.Interface) Option {
	return func(c *config) error {
		if len(ifaces) == 0 {
			return &errors.ValidationError{Field: "interfaces", Message: "interface list cannot be empty"}
		}
		c.interfaces = ifaces
		return nil
	}
}

// WithUnicastQueries binds an ephemeral port instead of 5353, so replies
// to this engine's queries arrive unicast (RFC 6762 §5.1 one-shot mode).
// Incompatible with answering: a unicast-only engine cannot register
// services, since peers' queries never reach the ephemeral port.
func WithUnicastQueries() Option {
	return func(c *config) error {
		c.unicast = true
		return nil
	}
}

// WithAppleP2P additionally enables AWDL (peer-to-peer Wi-Fi) traffic on
// the sockets. Ignored on platforms without AWDL.
func WithAppleP2P() Option {
	return func(c *config) error {
		c.appleP2P = true
		return nil
	}
}

// WithDatagramLimit caps outgoing datagram payloads. Values below the
// 512-byte DNS floor are rejected; the default is 1440 bytes.
func WithDatagramLimit(limit int) Option {
	return func(c *config) error {
		if limit < message.MinDatagramPayload {
			return &errors.ValidationError{
				Field: "datagramLimit", Value: limit,
				Message: "datagram limit must be at least 512 bytes",
			}
		}
		c.datagramLimit = limit
		return nil
	}
}

// WithRegisterInterval sets the spacing between the repeated announcement
// (and goodbye) transmissions. Default: 1 second per RFC 6762 §8.3.
func WithRegisterInterval(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return &errors.ValidationError{Field: "registerInterval", Value: d, Message: "interval must be positive"}
		}
		c.registerInterval = d
		return nil
	}
}

// WithoutRename makes RegisterService fail with NonUniqueNameError on the
// first probe conflict instead of renaming the instance automatically.
func WithoutRename() Option {
	return func(c *config) error {
		c.allowRename = false
		return nil
	}
}

// WithLogger supplies the logger used for debug-level drop/retry
// messages. Default: the process-wide standard logger.
func WithLogger(log *logrus.Logger) Option {
	return func(c *config) error {
		if log == nil {
			return &errors.ValidationError{Field: "logger", Message: "logger cannot be nil"}
		}
		c.log = log
		return nil
	}
}

// WithSocket injects a pre-built transport instead of binding real
// multicast sockets. Intended for tests; may be given more than once.
func WithSocket(t transport.Transport, ipv6 bool) Option {
	return func(c *config) error {
		if t == nil {
			return &errors.ValidationError{Field: "socket", Message: "transport cannot be nil"}
		}
		c.sockets = append(c.sockets, injectedSocket{transport: t, ipv6: ipv6})
		return nil
	}
}
