// Package client runs one peer's handshake against a coordinator.
package client

import (
	"context"
	"errors"
	"net/netip"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobbysync/internal/engine"
	"github.com/DoyleJ11/lobbysync/internal/match"
	"github.com/DoyleJ11/lobbysync/internal/netx"
	"github.com/DoyleJ11/lobbysync/internal/protocol"
	"github.com/DoyleJ11/lobbysync/internal/setup"
	"github.com/DoyleJ11/lobbysync/internal/telemetry"
	"github.com/DoyleJ11/lobbysync/pkg/types"
)

var ErrDone = errors.New("handshake finished")

type Msg interface{ isClientMsg() }

// SetChoice edits this peer's own seat.
type SetChoice struct {
	Choice setup.Choice
	Reply  chan error
}

// Leave starts a graceful goodbye.
type Leave struct{ Reply chan error }

func (SetChoice) isClientMsg() {}
func (Leave) isClientMsg()     {}

type Publisher interface {
	Publish(types.Snapshot)
}

type Config struct {
	Name     string
	Server   netip.AddrPort
	Versions engine.Versions
	Tick     time.Duration
	// Linger keeps answering go after the match started so the coordinator
	// hears the acknowledgement.
	Linger time.Duration
}

type Client struct {
	cfg       Config
	tr        netx.Transport
	validator match.Validator
	starter   match.Starter
	pub       Publisher
	log       *zap.Logger
	inbox     chan Msg

	peer      engine.Peer
	startedAt time.Time

	doneOnce sync.Once
	done     chan struct{}

	mu   sync.RWMutex
	snap types.Snapshot
	end  error
}

func New(cfg Config, tr netx.Transport, validator match.Validator, starter match.Starter, pub Publisher, log *zap.Logger) *Client {
	if cfg.Versions == (engine.Versions{}) {
		cfg.Versions = engine.DefaultVersions
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 50 * time.Millisecond
	}
	if cfg.Linger <= 0 {
		cfg.Linger = 5 * time.Second
	}
	c := &Client{
		cfg:       cfg,
		tr:        tr,
		validator: validator,
		starter:   starter,
		pub:       pub,
		log:       log.Named("client").With(zap.Stringer("server", cfg.Server)),
		inbox:     make(chan Msg, 16),
		peer:      engine.NewPeer(cfg.Name, cfg.Versions),
		done:      make(chan struct{}),
	}
	c.publish()
	return c
}

func (c *Client) Inbox() chan<- Msg { return c.inbox }

// Done is closed once the handshake reaches a terminal state.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err is nil while running and after a started match; otherwise it is an
// *engine.EndError naming the reason.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.end
}

func (c *Client) State() engine.State { return c.peer.State }

// Run drives the handshake until it ends. Cancelling ctx sends one goodbye
// and returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	t := time.NewTicker(c.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			effects, p, err := engine.ApplyPeer(c.peer, engine.Detach{Now: time.Now()})
			if err == nil {
				c.peer = p
				c.apply(time.Now(), effects)
			}
			return ctx.Err()
		case now := <-t.C:
			c.Tick(now)
			if c.finished(now) {
				return c.Err()
			}
		}
	}
}

func (c *Client) finished(now time.Time) bool {
	if c.peer.State == engine.StateStarted {
		return now.Sub(c.startedAt) >= c.cfg.Linger
	}
	return c.peer.State.Terminal()
}

// Tick runs one step: local commands, received datagrams, then resends.
func (c *Client) Tick(now time.Time) {
	start := time.Now()
	defer func() {
		telemetry.TickDuration.WithLabelValues("peer").Observe(time.Since(start).Seconds())
	}()

	c.drain(now)
	c.poll(now)
	effects, p, _ := engine.ApplyPeer(c.peer, engine.Tick{Now: now})
	c.step(now, p, effects)
	c.publish()
}

func (c *Client) drain(now time.Time) {
	for {
		select {
		case m := <-c.inbox:
			switch msg := m.(type) {
			case SetChoice:
				effects, p, err := engine.ApplyPeer(c.peer, engine.Edit{Now: now, Choice: msg.Choice})
				c.step(now, p, effects)
				msg.Reply <- err
			case Leave:
				effects, p, err := engine.ApplyPeer(c.peer, engine.Detach{Now: now})
				c.step(now, p, effects)
				msg.Reply <- err
			}
		default:
			return
		}
	}
}

func (c *Client) poll(now time.Time) {
	for {
		d, ok := c.tr.Recv()
		if !ok {
			return
		}
		if d.From != c.cfg.Server {
			telemetry.DroppedTotal.WithLabelValues("unknown_sender").Inc()
			continue
		}
		dir, msg, err := protocol.Unmarshal(d.Data)
		if err != nil {
			telemetry.DroppedTotal.WithLabelValues("malformed").Inc()
			c.log.Debug("malformed datagram", zap.Error(err))
			continue
		}
		if dir != protocol.ToPeer {
			telemetry.DroppedTotal.WithLabelValues("direction").Inc()
			continue
		}
		telemetry.DatagramsTotal.WithLabelValues("in", msg.Kind().String()).Inc()
		before := c.peer.State
		effects, p, err := engine.ApplyPeer(c.peer, engine.Received{Now: now, Msg: msg})
		if err != nil {
			c.log.Debug("ignored", zap.Stringer("kind", msg.Kind()),
				zap.String("state", string(before)), zap.Error(err))
		}
		c.step(now, p, effects)
	}
}

// step installs p and carries out its effects.
func (c *Client) step(now time.Time, p engine.Peer, effects []engine.Effect) {
	before := c.peer.State
	c.peer = p
	if p.State != before {
		c.log.Debug("transition", zap.String("from", string(before)), zap.String("to", string(p.State)))
	}
	c.apply(now, effects)
	if c.peer.State.Terminal() && !before.Terminal() {
		c.finish(now)
	}
}

func (c *Client) apply(now time.Time, effects []engine.Effect) {
	for _, e := range effects {
		switch e := e.(type) {
		case engine.Send:
			c.send(e.Msg)
		case engine.CheckMap:
			ok, sum := c.validator.Validate(e.Path)
			c.log.Info("map offered", zap.String("path", e.Path),
				zap.Uint32("want", e.Checksum), zap.Uint32("have", sum), zap.Bool("found", ok))
			more, p, _ := engine.ApplyPeer(c.peer, engine.MapVerdict{Now: now, OK: ok, Checksum: sum})
			c.peer = p
			c.apply(now, more)
		case engine.StartMatch:
			c.starter.Start(e.Roster, e.Setup)
		}
	}
}

func (c *Client) send(msg protocol.Message) {
	if err := c.tr.Send(c.cfg.Server, protocol.Marshal(protocol.ToCoordinator, msg)); err != nil {
		c.log.Debug("send failed", zap.Error(err))
		return
	}
	telemetry.DatagramsTotal.WithLabelValues("out", msg.Kind().String()).Inc()
}

func (c *Client) finish(now time.Time) {
	reason := c.peer.Reason
	telemetry.HandshakesEnded.WithLabelValues("peer", string(reason)).Inc()
	if c.peer.State == engine.StateStarted {
		c.startedAt = now
		c.log.Info("match started", zap.Int("slot", c.peer.Slot))
	} else {
		c.mu.Lock()
		c.end = &engine.EndError{Reason: reason}
		c.mu.Unlock()
		c.log.Info("handshake ended", zap.String("state", string(c.peer.State)), zap.String("reason", string(reason)))
	}
	c.doneOnce.Do(func() { close(c.done) })
}

// ---- Local commands, safe from any goroutine ----

func (c *Client) call(ctx context.Context, m Msg, reply chan error) error {
	select {
	case c.inbox <- m:
	case <-c.done:
		return ErrDone
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) SetChoice(ctx context.Context, ch setup.Choice) error {
	r := make(chan error, 1)
	return c.call(ctx, SetChoice{Choice: ch, Reply: r}, r)
}

func (c *Client) Leave(ctx context.Context) error {
	r := make(chan error, 1)
	return c.call(ctx, Leave{Reply: r}, r)
}

// ---- Snapshot ----

func (c *Client) Snapshot() types.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Client) publish() {
	next := c.build()
	c.mu.Lock()
	next.Version = c.snap.Version
	if reflect.DeepEqual(next, c.snap) {
		c.mu.Unlock()
		return
	}
	next.Version++
	c.snap = next
	c.mu.Unlock()
	if c.pub != nil {
		c.pub.Publish(next)
	}
}

func (c *Client) build() types.Snapshot {
	p := c.peer
	snap := types.Snapshot{
		Role:    "peer",
		State:   string(p.State),
		Reason:  string(p.Reason),
		Slot:    p.Slot,
		Map:     types.MapInfo{Path: p.Map.Path, Checksum: p.Map.Checksum},
		Options: make(map[string]uint8, len(setup.Options)),
	}
	for _, o := range setup.Options {
		v, _ := p.Setup.Option(o)
		snap.Options[string(o)] = v
	}
	for i, e := range p.Roster {
		if e.Empty() {
			continue
		}
		ch := p.Setup.ChoiceOf(i)
		seat := types.Seat{Slot: i, Name: e.Name, Ready: ch.Ready, Race: ch.Race, CompOption: p.Setup.CompOption[i]}
		if i == p.Slot {
			seat.State = string(p.State)
		}
		snap.Seats = append(snap.Seats, seat)
	}
	return snap
}
