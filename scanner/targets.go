package scanner

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ExpandTargets turns a target expression into an ordered list of host
// addresses. Supported forms:
//
//	10.0.0.0/24            CIDR (network and broadcast excluded for IPv4)
//	10.0.0.5-10.0.0.9      explicit range
//	10.0.0.5-9             range with bare last octet
//	10.0.0.5               single address
func ExpandTargets(target string) ([]string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("empty target")
	}

	if strings.Contains(target, "-") && !strings.Contains(target, "/") {
		return expandRange(target)
	}

	if strings.Contains(target, "/") {
		return expandCIDR(target)
	}

	addr, err := netip.ParseAddr(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}
	return []string{addr.String()}, nil
}

// maxExpandHosts bounds how many addresses a single target expression
// may produce. A /64 would otherwise iterate 2^64 addresses.
const maxExpandHosts = 65536

func expandCIDR(target string) ([]string, error) {
	prefix, err := netip.ParsePrefix(target)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", target, err)
	}
	prefix = prefix.Masked()

	if prefix.IsSingleIP() {
		return []string{prefix.Addr().String()}, nil
	}

	if hostBits := prefix.Addr().BitLen() - prefix.Bits(); hostBits > 16 {
		return nil, fmt.Errorf("CIDR %q expands to 2^%d addresses, limit is %d", target, hostBits, maxExpandHosts)
	}

	var hosts []string
	for addr := prefix.Addr(); prefix.Contains(addr); addr = addr.Next() {
		hosts = append(hosts, addr.String())
	}

	// IPv4 networks below /31 reserve the network and broadcast
	// addresses; they are not probe targets.
	if prefix.Addr().Is4() && prefix.Bits() < 31 && len(hosts) > 2 {
		hosts = hosts[1 : len(hosts)-1]
	}
	return hosts, nil
}

func expandRange(target string) ([]string, error) {
	startStr, endStr, _ := strings.Cut(target, "-")
	start, err := netip.ParseAddr(strings.TrimSpace(startStr))
	if err != nil {
		return nil, fmt.Errorf("invalid range start %q: %w", startStr, err)
	}

	endStr = strings.TrimSpace(endStr)
	end, err := netip.ParseAddr(endStr)
	if err != nil {
		// Bare final octet shorthand: 10.0.0.5-9.
		last, convErr := strconv.Atoi(endStr)
		if convErr != nil || !start.Is4() || last < 0 || last > 255 {
			return nil, fmt.Errorf("invalid range end %q", endStr)
		}
		octets := start.As4()
		octets[3] = byte(last)
		end = netip.AddrFrom4(octets)
	}

	if start.Is4() != end.Is4() {
		return nil, fmt.Errorf("range endpoints mix address families")
	}
	if end.Less(start) {
		start, end = end, start
	}

	var hosts []string
	for addr := start; !end.Less(addr); addr = addr.Next() {
		if len(hosts) >= maxExpandHosts {
			return nil, fmt.Errorf("range %q exceeds the %d host limit", target, maxExpandHosts)
		}
		hosts = append(hosts, addr.String())
		if addr == end {
			break
		}
	}
	return hosts, nil
}
