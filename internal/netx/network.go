// Package netx carries raw datagrams between the coordinator and its peers.
package netx

import (
	"errors"
	"net/netip"
)

var ErrClosed = errors.New("transport closed")
var ErrAddrInUse = errors.New("address already in use")

// InboxSize bounds the datagrams buffered between the reader and Recv.
const InboxSize = 256

// Datagram is one received packet and its source.
type Datagram struct {
	From netip.AddrPort
	Data []byte
}

// Transport is an unreliable, unordered datagram socket. Recv never blocks;
// it reports false when nothing is waiting.
type Transport interface {
	Recv() (Datagram, bool)
	Send(to netip.AddrPort, b []byte) error
	LocalAddr() netip.AddrPort
	Close() error
}

// Canonical strips the IPv4-in-IPv6 mapping so one peer always has one key.
func Canonical(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
