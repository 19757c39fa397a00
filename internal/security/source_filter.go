// Package security provides security features including rate limiting
// and source IP validation for mDNS multicast traffic.
package security

import "net"

// linkLocalV4 is the RFC 3927 IPv4 link-local block; mDNS traffic
// originating there is always considered in-scope regardless of the
// receiving interface's configured subnet.
var linkLocalV4 = net.IPNet{
	IP:   net.IPv4(169, 254, 0, 0),
	Mask: net.CIDRMask(16, 32),
}

// SourceFilter accepts or rejects an inbound datagram's source address
// before the datagram is handed to the parser, per RFC 6762 §2 (mDNS is
// link-local scope only). An accepted source is either RFC 3927 link-local
// or within a subnet the receiving interface itself is configured on.
type SourceFilter struct {
	iface      net.Interface
	ifaceAddrs []net.IPNet
}

// NewSourceFilter builds a filter for iface, snapshotting its addresses once
// so IsValid avoids a syscall on every packet. If address enumeration fails,
// the filter still works — it just falls back to the link-local-only check.
func NewSourceFilter(iface net.Interface) (*SourceFilter, error) {
	sf := &SourceFilter{iface: iface}

	addrs, err := iface.Addrs()
	if err != nil {
		return sf, nil
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			sf.ifaceAddrs = append(sf.ifaceAddrs, *ipnet)
		}
	}
	return sf, nil
}

// IsValid reports whether srcIP is an acceptable mDNS source: an IPv4
// link-local address, or an address within one of the receiving interface's
// own subnets. IPv6 sources are rejected here; v6 scoping is handled at the
// socket layer via interface-bound multicast membership instead.
func (sf *SourceFilter) IsValid(srcIP net.IP) bool {
	v4 := srcIP.To4()
	if v4 == nil {
		return false
	}
	if linkLocalV4.Contains(v4) {
		return true
	}
	for _, subnet := range sf.ifaceAddrs {
		if subnet.Contains(srcIP) {
			return true
		}
	}
	return false
}

// isPrivate reports whether ip falls in one of the RFC 1918 private ranges.
func isPrivate(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	switch {
	case v4[0] == 10:
		return true
	case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
		return true
	case v4[0] == 192 && v4[1] == 168:
		return true
	default:
		return false
	}
}
