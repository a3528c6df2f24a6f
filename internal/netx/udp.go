package netx

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// maxRead is larger than any valid datagram so oversize packets arrive
// whole and fail decoding instead of being silently truncated.
const maxRead = 2048

// UDP is a Transport over one UDP socket. A reader goroutine fills a bounded
// inbox; when the inbox is full new datagrams are dropped, as the network
// would.
type UDP struct {
	conn    *net.UDPConn
	inbox   chan Datagram
	log     *zap.Logger
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func ListenUDP(addr string, log *zap.Logger) (*UDP, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	u := &UDP{
		conn:  conn,
		inbox: make(chan Datagram, InboxSize),
		log:   log.Named("udp"),
		done:  make(chan struct{}),
	}
	go u.readLoop()
	u.log.Info("listening", zap.Stringer("addr", u.LocalAddr()))
	return u, nil
}

func (u *UDP) readLoop() {
	defer close(u.done)
	buf := make([]byte, maxRead)
	for {
		n, from, err := u.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.Debug("read failed", zap.Error(err))
			continue
		}
		d := Datagram{From: Canonical(from), Data: append([]byte(nil), buf[:n]...)}
		select {
		case u.inbox <- d:
		default:
			u.dropped.Add(1)
			u.log.Debug("inbox full, dropping datagram", zap.Stringer("from", d.From))
		}
	}
}

func (u *UDP) Recv() (Datagram, bool) {
	select {
	case d := <-u.inbox:
		return d, true
	default:
		return Datagram{}, false
	}
}

func (u *UDP) Send(to netip.AddrPort, b []byte) error {
	if _, err := u.conn.WriteToUDPAddrPort(b, to); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

func (u *UDP) LocalAddr() netip.AddrPort {
	if ua, ok := u.conn.LocalAddr().(*net.UDPAddr); ok {
		return Canonical(ua.AddrPort())
	}
	return netip.AddrPort{}
}

// Dropped counts datagrams lost to a full inbox.
func (u *UDP) Dropped() uint64 { return u.dropped.Load() }

// Close stops the reader and releases the socket. Closing twice is a no-op.
func (u *UDP) Close() error {
	var err error
	u.once.Do(func() {
		err = u.conn.Close()
		<-u.done
		u.log.Info("closed", zap.Uint64("dropped", u.Dropped()))
	})
	return err
}
