// Package resolve enriches scan rows with hostnames, MAC addresses and
// vendor names. Everything here is best effort: a host that resolves to
// nothing is left alone, never an error.
package resolve

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"netsweep/scanner"
)

const (
	lookupTimeout  = 500 * time.Millisecond
	lookupParallel = 32
)

// Hostnames resolves PTR records for ips with bounded parallelism.
// Unresolvable addresses are simply absent from the result.
func Hostnames(ctx context.Context, ips []string) map[string]string {
	sem := semaphore.NewWeighted(lookupParallel)
	var (
		mu    sync.Mutex
		names = make(map[string]string)
		wg    sync.WaitGroup
	)

	for _, ip := range ips {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			defer sem.Release(1)

			lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
			defer cancel()
			ptrs, err := net.DefaultResolver.LookupAddr(lctx, ip)
			if err != nil || len(ptrs) == 0 {
				return
			}
			name := strings.TrimSuffix(ptrs[0], ".")
			mu.Lock()
			names[ip] = name
			mu.Unlock()
		}(ip)
	}
	wg.Wait()
	return names
}

var (
	// Linux "ip neigh": 192.168.1.1 dev wlan0 lladdr a4:... REACHABLE
	neighPattern = regexp.MustCompile(`(?i)(\d+\.\d+\.\d+\.\d+)\s+.*?lladdr\s+([0-9a-f:]{11,})`)
	// BSD "arp -an": ? (192.168.1.1) at a4:... on en0 ifscope [ethernet]
	arpPattern = regexp.MustCompile(`(?i)\((\d+\.\d+\.\d+\.\d+)\)\s+at\s+([0-9a-f:]{11,})`)
)

// ARPTable returns a best-effort IP to MAC mapping from the OS neighbor
// table. No ARP frames are sent; this only reads what the kernel already
// knows.
func ARPTable() map[string]string {
	if runtime.GOOS == "linux" {
		if f, err := os.Open("/proc/net/arp"); err == nil {
			defer f.Close()
			if table := parseProcARP(f); len(table) > 0 {
				return table
			}
		}
		if out := runCommand("ip", "neigh"); out != "" {
			if table := parseNeighbors(out, neighPattern); len(table) > 0 {
				return table
			}
		}
	}
	return parseNeighbors(runCommand("arp", "-an"), arpPattern)
}

func runCommand(name string, args ...string) string {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil && len(out) == 0 {
		return ""
	}
	return string(out)
}

// parseProcARP reads the /proc/net/arp table format: columns are
// "IP address, HW type, Flags, HW address, Mask, Device".
func parseProcARP(r io.Reader) map[string]string {
	table := make(map[string]string)
	sc := bufio.NewScanner(r)
	sc.Scan() // header
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		mac := strings.ToLower(fields[3])
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		table[fields[0]] = mac
	}
	return table
}

func parseNeighbors(out string, pattern *regexp.Regexp) map[string]string {
	table := make(map[string]string)
	for _, m := range pattern.FindAllStringSubmatch(out, -1) {
		table[m[1]] = strings.ToLower(m[2])
	}
	return table
}

// ouiVendors is a tiny built-in OUI prefix table covering common local
// hardware. Keys are the first three octets without separators,
// uppercase.
var ouiVendors = map[string]string{
	"A45E60": "Apple, Inc.",
	"BC2411": "Apple, Inc.",
	"703EAC": "Apple, Inc.",
	"001A11": "Cisco Systems",
	"B827EB": "Raspberry Pi Foundation",
	"DCA632": "Raspberry Pi Trading",
	"F0B479": "Samsung Electronics",
	"001132": "Synology",
	"9C93E4": "Ubiquiti",
	"001D7E": "Netgear",
	"C0FFD4": "TP-Link",
	"525400": "QEMU virtual NIC",
	"0050F2": "Microsoft",
	"080027": "VirtualBox",
	"005056": "VMware",
}

// VendorFor maps a MAC address to a vendor name via its 24-bit OUI.
// Unknown prefixes yield the empty string.
func VendorFor(mac string) string {
	hex := strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac))
	if len(hex) < 6 {
		return ""
	}
	return ouiVendors[hex[:6]]
}

// Enrich gathers hostname, MAC and vendor data for ips, keyed by
// address. Hosts with no data at all are omitted.
func Enrich(ctx context.Context, ips []string) map[string]scanner.Enrichment {
	names := Hostnames(ctx, ips)
	macs := ARPTable()

	out := make(map[string]scanner.Enrichment)
	for _, ip := range ips {
		e := scanner.Enrichment{Hostname: names[ip], MAC: macs[ip]}
		if e.MAC != "" {
			e.Vendor = VendorFor(e.MAC)
		}
		if e.Hostname != "" || e.MAC != "" {
			out[ip] = e
		}
	}
	return out
}
