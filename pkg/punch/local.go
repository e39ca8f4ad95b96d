package punch

import (
	"fmt"
	"net"
	"sort"
)

// LocalPrivateAddrs returns this host's private (RFC 1918 / link-local)
// IPv4 and IPv6 addresses, paired with port so they can be offered to a
// peer as same-network candidates in a PeerInfo.LocalAddrs list.
//
// PunchHole tries these before falling back to public-address hole
// punching: two nodes behind the same router reach each other over the
// LAN in a couple of milliseconds instead of waiting out a NAT traversal
// timeout, so ordering here (private before public, IPv4 before IPv6)
// matters more than completeness.
func LocalPrivateAddrs(port int) ([]*net.UDPAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	var addrs []*net.UDPAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range ifaceAddrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			if ip == nil || ip.IsLoopback() || !isPrivateIP(ip) {
				continue
			}

			addrs = append(addrs, &net.UDPAddr{IP: ip, Port: port})
		}
	}

	// IPv4 first: most LANs route IPv4 between hosts without any extra
	// configuration, while link-local IPv6 needs a zone ID we don't carry.
	sort.SliceStable(addrs, func(i, j int) bool {
		return addrs[i].IP.To4() != nil && addrs[j].IP.To4() == nil
	})

	return addrs, nil
}

// isPrivateIP reports whether ip falls in an RFC 1918 (IPv4) or unique
// local / link-local (IPv6) range.
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		case ip4[0] == 169 && ip4[1] == 254:
			return true
		default:
			return false
		}
	}

	if len(ip) == net.IPv6len {
		if ip[0] >= 0xfc && ip[0] <= 0xfd {
			return true // fc00::/7, unique local
		}
		if ip[0] == 0xfe && ip[1] >= 0x80 && ip[1] <= 0xbf {
			return true // fe80::/10, link-local
		}
	}

	return false
}
