package scanner

import (
	"testing"
	"time"
)

func TestPingCommandPlatformFlags(t *testing.T) {
	_, args := pingCommand("darwin", "10.0.0.1", time.Second)
	if args[0] != "-c" || args[1] != "1" {
		t.Errorf("darwin args = %v, want single echo request", args)
	}
	if args[2] != "-W" || args[3] != "1000" {
		t.Errorf("darwin timeout args = %v, want -W in milliseconds", args)
	}

	_, args = pingCommand("linux", "10.0.0.1", time.Second)
	if args[2] != "-W" || args[3] != "1" {
		t.Errorf("linux timeout args = %v, want -W in whole seconds", args)
	}

	// Sub-second timeouts never produce a zero flag value.
	_, args = pingCommand("linux", "10.0.0.1", 200*time.Millisecond)
	if args[3] != "1" {
		t.Errorf("sub-second linux timeout = %v, want clamped to 1", args[3])
	}
	_, args = pingCommand("darwin", "10.0.0.1", 500*time.Microsecond)
	if args[3] != "1" {
		t.Errorf("sub-millisecond darwin timeout = %v, want clamped to 1", args[3])
	}
}

func TestParsePingLatency(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   time.Duration
		ok     bool
	}{
		{
			name:   "linux reply line",
			output: "64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=2.31 ms",
			want:   2310 * time.Microsecond,
			ok:     true,
		},
		{
			name:   "sub-millisecond reply",
			output: "64 bytes from 127.0.0.1: icmp_seq=1 ttl=64 time=0.045 ms",
			want:   45 * time.Microsecond,
			ok:     true,
		},
		{
			name:   "macOS time< form",
			output: "64 bytes from 192.168.1.1: icmp_seq=0 ttl=64 time<1 ms",
			want:   time.Millisecond,
			ok:     true,
		},
		{
			name:   "summary line only",
			output: "rtt min/avg/max/mdev = 0.032/0.045/0.058/0.013 ms",
			want:   45 * time.Microsecond,
			ok:     true,
		},
		{
			name:   "no latency information",
			output: "Request timeout for icmp_seq 0",
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parsePingLatency(tt.output)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("latency = %v, want %v", got, tt.want)
			}
		})
	}
}
