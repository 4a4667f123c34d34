package scanner

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// HostProbe is the outcome of a single reachability probe. A failed
// probe (timeout, no reply, missing ping binary) is a normal outcome,
// never an error.
type HostProbe struct {
	Reachable  bool
	Latency    time.Duration
	HasLatency bool
}

// PingFunc executes one reachability probe against ip with the given
// per-call timeout. It must not retry internally.
type PingFunc func(ctx context.Context, ip string, timeout time.Duration) HostProbe

var (
	// First echo reply, e.g. "64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=2.31 ms"
	pingTimePattern = regexp.MustCompile(`(?i)time[=<]\s*([0-9]+(?:\.[0-9]+)?)\s*ms`)
	// Summary fallback, e.g. "rtt min/avg/max/mdev = 0.032/0.045/0.058/0.013 ms"
	pingRTTPattern = regexp.MustCompile(`=\s*([0-9]+(?:\.[0-9]+)?)/([0-9]+(?:\.[0-9]+)?)/`)
)

// SystemPing shells out to the platform ping utility, sending a single
// echo request. Raw ICMP sockets are deliberately avoided; the system
// binary carries the needed privileges.
func SystemPing(ctx context.Context, ip string, timeout time.Duration) HostProbe {
	bin, args := pingCommand(runtime.GOOS, ip, timeout)

	// Grace period covers ping's own startup and teardown beyond the
	// per-packet timeout it enforces itself.
	ctx, cancel := context.WithTimeout(ctx, timeout+500*time.Millisecond)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	output := string(out)
	reachable := err == nil || strings.Contains(strings.ToLower(output), "bytes from")
	if !reachable {
		return HostProbe{}
	}

	probe := HostProbe{Reachable: true}
	if lat, ok := parsePingLatency(output); ok {
		probe.Latency = lat
		probe.HasLatency = true
	}
	return probe
}

// pingCommand builds the platform-specific ping invocation. macOS ping
// takes -W in milliseconds, the common Linux ping in whole seconds.
func pingCommand(goos, ip string, timeout time.Duration) (string, []string) {
	switch goos {
	case "darwin":
		ms := int(timeout / time.Millisecond)
		if ms < 1 {
			ms = 1
		}
		return pingBinary("/sbin/ping"), []string{"-c", "1", "-W", strconv.Itoa(ms), ip}
	default:
		sec := int((timeout + 500*time.Millisecond) / time.Second)
		if sec < 1 {
			sec = 1
		}
		return pingBinary("/bin/ping"), []string{"-c", "1", "-W", strconv.Itoa(sec), ip}
	}
}

func pingBinary(preferred string) string {
	if _, err := os.Stat(preferred); err == nil {
		return preferred
	}
	return "ping"
}

// parsePingLatency extracts the round-trip time from ping output,
// preferring the per-reply "time=" field over the rtt summary average.
func parsePingLatency(output string) (time.Duration, bool) {
	if m := pingTimePattern.FindStringSubmatch(output); m != nil {
		if ms, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}
	if m := pingRTTPattern.FindStringSubmatch(output); m != nil {
		if ms, err := strconv.ParseFloat(m[2], 64); err == nil {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}
	return 0, false
}
