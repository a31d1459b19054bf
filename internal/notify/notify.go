// Package notify emits the "something changed" signal consumed by status
// displays. The signal is an empty UDP datagram: it carries no payload on
// purpose, so a listener re-queries the store instead of trusting a message
// that may be stale or lost.
package notify

import (
	"net"
)

// DefaultAddr is where status displays listen for change signals.
const DefaultAddr = "127.0.0.1:25283"

// Sender sends change signals to one address. The zero value is not usable;
// use New.
type Sender struct {
	addr string
}

// New returns a Sender for addr, or DefaultAddr when addr is empty.
func New(addr string) *Sender {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Sender{addr: addr}
}

// Send fires one datagram. Failures are ignored: there may simply be no
// listener, and the signal is advisory.
func (s *Sender) Send() {
	conn, err := net.Dial("udp", s.addr)
	if err != nil {
		return
	}
	defer conn.Close()
	_, _ = conn.Write([]byte{})
}
