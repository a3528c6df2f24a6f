package netx

import (
	"math/rand"
	"net/netip"
	"sync"
	"sync/atomic"
)

// DropFunc decides whether a datagram is lost in flight.
type DropFunc func(from, to netip.AddrPort, b []byte) bool

// Switch is an in-process network connecting Inproc endpoints. Handy for
// tests and single-process demos without sockets.
type Switch struct {
	mu    sync.RWMutex
	ports map[netip.AddrPort]*Inproc

	dropMu sync.Mutex
	drop   DropFunc
}

func NewSwitch() *Switch {
	return &Switch{ports: make(map[netip.AddrPort]*Inproc)}
}

// SetDrop installs a loss model; nil delivers everything.
func (s *Switch) SetDrop(fn DropFunc) {
	s.dropMu.Lock()
	s.drop = fn
	s.dropMu.Unlock()
}

func (s *Switch) lost(from, to netip.AddrPort, b []byte) bool {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	return s.drop != nil && s.drop(from, to, b)
}

// Listen attaches a new endpoint at addr.
func (s *Switch) Listen(addr netip.AddrPort) (*Inproc, error) {
	addr = Canonical(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ports[addr]; ok {
		return nil, ErrAddrInUse
	}
	p := &Inproc{sw: s, addr: addr, inbox: make(chan Datagram, InboxSize)}
	s.ports[addr] = p
	return p, nil
}

func (s *Switch) deliver(from, to netip.AddrPort, b []byte) {
	if s.lost(from, to, b) {
		return
	}
	s.mu.RLock()
	dst, ok := s.ports[Canonical(to)]
	s.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case dst.inbox <- Datagram{From: from, Data: append([]byte(nil), b...)}:
	default:
		dst.dropped.Add(1)
	}
}

// Inproc is one endpoint on a Switch.
type Inproc struct {
	sw      *Switch
	addr    netip.AddrPort
	inbox   chan Datagram
	closed  atomic.Bool
	dropped atomic.Uint64
}

func (p *Inproc) Recv() (Datagram, bool) {
	select {
	case d := <-p.inbox:
		return d, true
	default:
		return Datagram{}, false
	}
}

func (p *Inproc) Send(to netip.AddrPort, b []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.sw.deliver(p.addr, to, b)
	return nil
}

func (p *Inproc) LocalAddr() netip.AddrPort { return p.addr }

func (p *Inproc) Dropped() uint64 { return p.dropped.Load() }

func (p *Inproc) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.sw.mu.Lock()
	delete(p.sw.ports, p.addr)
	p.sw.mu.Unlock()
	return nil
}

// DropRandom loses each datagram with probability frac, drawing from a
// seeded source so runs repeat.
func DropRandom(seed int64, frac float64) DropFunc {
	rng := rand.New(rand.NewSource(seed))
	return func(netip.AddrPort, netip.AddrPort, []byte) bool {
		return rng.Float64() < frac
	}
}

// DropEvery loses every nth datagram.
func DropEvery(n int) DropFunc {
	i := 0
	return func(netip.AddrPort, netip.AddrPort, []byte) bool {
		i++
		return n > 0 && i%n == 0
	}
}
