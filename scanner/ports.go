package scanner

import (
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"
)

// PortProbeFunc attempts a single TCP connection to host:port. open
// reports whether the port accepted the connection; refused and timed
// out connects are "not open", never errors. A non-nil error means the
// probe itself could not run (descriptor exhaustion).
type PortProbeFunc func(host string, port int, timeout time.Duration) (open bool, err error)

// ConnectProbe is the production port prober: a full TCP connect that is
// closed immediately on success.
func ConnectProbe(host string, port int, timeout time.Duration) (bool, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		if isResourceExhausted(err) {
			return false, err
		}
		// Refused, timeout, unreachable: the port is simply not open.
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

// isResourceExhausted reports whether err indicates the process hit an
// OS descriptor or socket limit. These are the only probe failures that
// surface as errors; the sweep logs them once and carries on.
func isResourceExhausted(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}
