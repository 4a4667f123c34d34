package scanner

import (
	"net"
	"testing"
	"time"
)

func TestConnectProbeOpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	open, err := ConnectProbe("127.0.0.1", port, time.Second)
	if err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if !open {
		t.Errorf("port %d with live listener reported closed", port)
	}
}

func TestConnectProbeClosedPort(t *testing.T) {
	// Grab a free port, then close the listener so the connect is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	open, err := ConnectProbe("127.0.0.1", port, time.Second)
	if err != nil {
		t.Fatalf("refused connection must not be an error, got %v", err)
	}
	if open {
		t.Errorf("port %d without listener reported open", port)
	}
}

func TestServiceNameLookup(t *testing.T) {
	if name, ok := ServiceName(22); !ok || name != "ssh" {
		t.Errorf("ServiceName(22) = %q/%v", name, ok)
	}
	if _, ok := ServiceName(48123); ok {
		t.Error("unregistered port resolved to a service name")
	}
}
