// Package lobby is the coordinator's session: the roster, the authoritative
// setup record and one handshake per seat, driven by a fixed-period tick.
package lobby

import (
	"context"
	"errors"
	"fmt"
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

var ErrNotReady = errors.New("not every peer is synced and ready")
var ErrNoPeers = errors.New("no peers have joined")
var ErrLaunched = errors.New("launch already under way")
var ErrNoSuchSlot = errors.New("no such slot")
var ErrClosed = errors.New("lobby closed")

// Phase is the lifecycle of the whole session.
type Phase string

const (
	PhaseOpen      Phase = "open"
	PhaseLaunching Phase = "launching" // goahead sent, no go yet
	PhaseStarting  Phase = "starting"  // first go sent, launch committed
	PhaseStarted   Phase = "started"
	PhaseClosed    Phase = "closed"
)

// quitRepeats is how many server_quit copies each seat gets.
const quitRepeats = 3

type Msg interface{ isLobbyMsg() }

type SetOption struct {
	Option setup.Option
	Value  uint8
	Reply  chan error
}

// SetChoice edits the host's own seat.
type SetChoice struct {
	Choice setup.Choice
	Reply  chan error
}

type Kick struct {
	Slot  int
	Reply chan error
}

type Launch struct{ Reply chan error }

type Quit struct{}

func (SetOption) isLobbyMsg() {}
func (SetChoice) isLobbyMsg() {}
func (Kick) isLobbyMsg()      {}
func (Launch) isLobbyMsg()    {}
func (Quit) isLobbyMsg()      {}

// Publisher receives every changed snapshot.
type Publisher interface {
	Publish(types.Snapshot)
}

type Config struct {
	HostName string
	Map      protocol.Map
	Versions engine.Versions
	Liveness engine.Liveness
	Tick     time.Duration
}

type Lobby struct {
	cfg     Config
	tr      netx.Transport
	starter match.Starter
	pub     Publisher
	log     *zap.Logger
	inbox   chan Msg

	// owned by the tick goroutine
	roster setup.Roster
	rec    setup.Record
	slots  [setup.MaxSlots]engine.Slot
	phase  Phase

	closeOnce sync.Once
	closed    chan struct{}

	mu   sync.RWMutex
	snap types.Snapshot
}

// New builds a lobby with the host in seat 0. pub may be nil.
func New(cfg Config, tr netx.Transport, starter match.Starter, pub Publisher, log *zap.Logger) *Lobby {
	if cfg.Liveness == (engine.Liveness{}) {
		cfg.Liveness = engine.DefaultLiveness
	}
	if cfg.Versions == (engine.Versions{}) {
		cfg.Versions = engine.DefaultVersions
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 50 * time.Millisecond
	}
	host := setup.NormalizeName(cfg.HostName)
	if host == "" {
		host = "host"
	}
	l := &Lobby{
		cfg:     cfg,
		tr:      tr,
		starter: starter,
		pub:     pub,
		log:     log.Named("lobby"),
		inbox:   make(chan Msg, 64), // Small buffer
		phase:   PhaseOpen,
		closed:  make(chan struct{}),
	}
	l.roster[setup.HostSlot] = setup.Entry{Slot: setup.HostSlot, Name: host}
	for i := range l.slots {
		l.slots[i] = engine.Slot{Index: i, State: engine.StateUnused}
	}
	l.publish()
	return l
}

// Expose the inbox so tests or the ws layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Run ticks until the session closes, the match has started and every seat
// has acknowledged go, or ctx ends. Cancelling ctx quits the session.
func (l *Lobby) Run(ctx context.Context) error {
	t := time.NewTicker(l.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			l.quit()
			l.publish()
			return nil
		case now := <-t.C:
			l.Tick(now)
			if l.Done() {
				return nil
			}
		}
	}
}

// Tick runs one step of the session: host commands, received datagrams,
// resends, liveness, the start check and the snapshot.
func (l *Lobby) Tick(now time.Time) {
	start := time.Now()
	defer func() {
		telemetry.TickDuration.WithLabelValues("coordinator").Observe(time.Since(start).Seconds())
	}()

	l.drain(now)
	if l.phase == PhaseClosed {
		l.publish()
		return
	}
	l.poll(now)
	for i := setup.HostSlot + 1; i < setup.MaxSlots; i++ {
		if l.slots[i].State == engine.StateUnused {
			continue
		}
		effects, s, _ := engine.ApplySlot(l.slots[i], l.view(), engine.Tick{Now: now})
		l.slots[i] = s
		l.apply(i, effects)
	}
	if l.phase != PhaseStarted {
		for i := setup.HostSlot + 1; i < setup.MaxSlots; i++ {
			if l.slots[i].State == engine.StateUnused {
				continue
			}
			effects, s := engine.Sweep(l.slots[i], now, l.cfg.Liveness)
			l.slots[i] = s
			if engine.ContainsKind(effects, protocol.KindAreYouThere) {
				l.log.Debug("probing quiet seat", zap.Int("slot", i),
					zap.Duration("quiet", now.Sub(s.LastHeard)))
			}
			l.apply(i, effects)
		}
	}
	l.progress()
	l.publish()
}

func (l *Lobby) drain(now time.Time) {
	for {
		select {
		case m := <-l.inbox:
			l.handle(m, now)
		default:
			return
		}
	}
}

func (l *Lobby) handle(m Msg, now time.Time) {
	if l.phase == PhaseClosed {
		reply(m, ErrClosed)
		return
	}
	switch msg := m.(type) {
	case SetOption:
		msg.Reply <- l.setOption(msg.Option, msg.Value)
	case SetChoice:
		msg.Reply <- l.setHostChoice(msg.Choice)
	case Kick:
		msg.Reply <- l.kick(msg.Slot, now)
	case Launch:
		msg.Reply <- l.launch(now)
	case Quit:
		l.quit()
	}
}

func reply(m Msg, err error) {
	switch msg := m.(type) {
	case SetOption:
		msg.Reply <- err
	case SetChoice:
		msg.Reply <- err
	case Kick:
		msg.Reply <- err
	case Launch:
		msg.Reply <- err
	}
}

func (l *Lobby) poll(now time.Time) {
	for {
		d, ok := l.tr.Recv()
		if !ok {
			return
		}
		dir, msg, err := protocol.Unmarshal(d.Data)
		if err != nil {
			telemetry.DroppedTotal.WithLabelValues("malformed").Inc()
			l.log.Debug("malformed datagram", zap.Stringer("from", d.From), zap.Error(err))
			continue
		}
		if dir != protocol.ToCoordinator {
			telemetry.DroppedTotal.WithLabelValues("direction").Inc()
			continue
		}
		telemetry.DatagramsTotal.WithLabelValues("in", msg.Kind().String()).Inc()
		l.dispatch(d.From, msg, now)
	}
}

func (l *Lobby) dispatch(from netip.AddrPort, msg protocol.Message, now time.Time) {
	if i, ok := l.roster.Find(from); ok {
		before := l.slots[i].State
		effects, s, err := engine.ApplySlot(l.slots[i], l.view(), engine.Received{Now: now, Msg: msg})
		l.slots[i] = s
		if err != nil {
			l.log.Debug("ignored", zap.Int("slot", i), zap.Stringer("kind", msg.Kind()),
				zap.String("state", string(before)), zap.Error(err))
		} else if s.State != before {
			l.log.Debug("seat transition", zap.Int("slot", i),
				zap.String("from", string(before)), zap.String("to", string(s.State)))
		}
		l.apply(i, effects)
		return
	}
	hello, ok := msg.(protocol.Hello)
	if !ok {
		telemetry.DroppedTotal.WithLabelValues("unknown_sender").Inc()
		return
	}
	l.admit(from, hello, now)
}

func (l *Lobby) admit(from netip.AddrPort, hello protocol.Hello, now time.Time) {
	free, ok := l.roster.FreeSlot()
	if l.phase == PhaseStarting || l.phase == PhaseStarted {
		ok = false
	}
	if rej, err := engine.Admit(hello, l.cfg.Versions, ok); err != nil {
		l.send(from, rej)
		l.log.Info("refused", zap.Stringer("from", from), zap.String("name", hello.Name), zap.Error(err))
		return
	}

	name := setup.NormalizeName(hello.Name)
	if name == "" {
		name = fmt.Sprintf("Player %d", free)
	}
	l.roster[free] = setup.Entry{Addr: from, Slot: uint16(free), Name: name}
	l.rec = l.rec.ClearSlot(free)
	effects, s := engine.Join(free, l.view(), now)
	l.slots[free] = s
	l.apply(free, effects)
	l.log.Info("joined", zap.Int("slot", free), zap.String("name", name), zap.Stringer("from", from))

	l.markAllExcept(free)
	l.abortLaunch("player joined")
}

// apply carries out the effects of seat i. The launch commits on the
// transition that sends the first go.
func (l *Lobby) apply(i int, effects []engine.Effect) {
	if l.phase == PhaseLaunching && l.slots[i].State == engine.StateStarted {
		l.phase = PhaseStarting
		l.log.Info("launch committed", zap.Int("slot", i))
	}
	for _, e := range effects {
		switch e := e.(type) {
		case engine.Send:
			l.send(l.roster[i].Addr, e.Msg)
		case engine.Publish:
			l.rec = e.Setup
			l.markAllExcept(i)
		case engine.Release:
			l.release(i, e.Reason)
		}
	}
}

func (l *Lobby) send(to netip.AddrPort, msg protocol.Message) {
	if err := l.tr.Send(to, protocol.Marshal(protocol.ToPeer, msg)); err != nil {
		l.log.Debug("send failed", zap.Stringer("to", to), zap.Error(err))
		return
	}
	telemetry.DatagramsTotal.WithLabelValues("out", msg.Kind().String()).Inc()
}

func (l *Lobby) release(i int, reason engine.Reason) {
	l.log.Info("seat released", zap.Int("slot", i), zap.String("name", l.roster[i].Name),
		zap.String("reason", string(reason)))
	telemetry.HandshakesEnded.WithLabelValues("coordinator", string(reason)).Inc()

	l.roster[i] = setup.Entry{}
	l.rec = l.rec.ClearSlot(i)
	l.slots[i] = engine.Slot{Index: i, State: engine.StateUnused}
	if l.phase == PhaseStarting || l.phase == PhaseStarted {
		return
	}
	l.markAllExcept(i)
	l.abortLaunch("player left")
}

// markAllExcept tells every other occupied seat that its peer's copy of the
// session is stale.
func (l *Lobby) markAllExcept(slot int) {
	for i := setup.HostSlot + 1; i < setup.MaxSlots; i++ {
		if i == slot || l.slots[i].State == engine.StateUnused {
			continue
		}
		l.slots[i] = engine.Invalidate(l.slots[i])
	}
}

func (l *Lobby) abortLaunch(why string) {
	if l.phase != PhaseLaunching {
		return
	}
	l.phase = PhaseOpen
	l.log.Info("launch aborted", zap.String("why", why))
}

func (l *Lobby) setOption(o setup.Option, v uint8) error {
	if l.phase != PhaseOpen {
		return ErrLaunched
	}
	rec, err := l.rec.WithOption(o, v)
	if err != nil {
		return err
	}
	if rec != l.rec {
		l.rec = rec
		l.markAllExcept(setup.HostSlot)
	}
	return nil
}

func (l *Lobby) setHostChoice(c setup.Choice) error {
	if l.phase != PhaseOpen {
		return ErrLaunched
	}
	rec := l.rec.WithChoice(setup.HostSlot, c)
	if rec != l.rec {
		l.rec = rec
		l.markAllExcept(setup.HostSlot)
	}
	return nil
}

func (l *Lobby) kick(slot int, now time.Time) error {
	if slot <= setup.HostSlot || slot >= setup.MaxSlots || l.roster[slot].Empty() {
		return ErrNoSuchSlot
	}
	if l.phase == PhaseStarting || l.phase == PhaseStarted {
		return ErrLaunched
	}
	effects, s, err := engine.Kick(l.slots[slot], l.view(), now)
	if err != nil {
		return err
	}
	l.slots[slot] = s
	l.apply(slot, effects)
	l.log.Info("kicking", zap.Int("slot", slot), zap.String("name", l.roster[slot].Name))
	return nil
}

func (l *Lobby) launch(now time.Time) error {
	if l.phase != PhaseOpen {
		return ErrLaunched
	}
	peers := 0
	for i := setup.HostSlot + 1; i < setup.MaxSlots; i++ {
		if l.roster[i].Empty() {
			continue
		}
		peers++
		if l.slots[i].State != engine.StateSynced || l.rec.Ready[i] == 0 {
			return fmt.Errorf("slot %d is %s: %w", i, l.slots[i].State, ErrNotReady)
		}
	}
	if peers == 0 {
		return ErrNoPeers
	}
	for i := setup.HostSlot + 1; i < setup.MaxSlots; i++ {
		if l.roster[i].Empty() {
			continue
		}
		effects, s, err := engine.Launch(l.slots[i], l.view(), now)
		if err != nil {
			return err
		}
		l.slots[i] = s
		l.apply(i, effects)
	}
	l.phase = PhaseLaunching
	l.log.Info("launching", zap.Int("peers", peers))
	return nil
}

func (l *Lobby) quit() {
	if l.phase == PhaseClosed {
		return
	}
	for i := setup.HostSlot + 1; i < setup.MaxSlots; i++ {
		if l.roster[i].Empty() {
			continue
		}
		for n := 0; n < quitRepeats; n++ {
			l.send(l.roster[i].Addr, protocol.ServerQuit{})
		}
	}
	l.phase = PhaseClosed
	l.closeOnce.Do(func() { close(l.closed) })
	l.log.Info("session closed")
}

// progress starts the match once the launch is committed and every seat
// has started.
func (l *Lobby) progress() {
	if l.phase != PhaseStarting {
		return
	}
	peers := 0
	for i := setup.HostSlot + 1; i < setup.MaxSlots; i++ {
		switch l.slots[i].State {
		case engine.StateUnused:
			continue
		case engine.StateStarted:
			peers++
		default:
			return
		}
	}
	if peers == 0 {
		l.phase = PhaseOpen
		l.log.Warn("every peer left before the match started")
		return
	}
	l.phase = PhaseStarted
	l.log.Info("match starting", zap.Int("peers", peers))
	l.starter.Start(l.roster, l.rec)
}

// Done reports whether Run has nothing left to do.
func (l *Lobby) Done() bool {
	switch l.phase {
	case PhaseClosed:
		return true
	case PhaseStarted:
		ceiling := engine.SlotSchedule[engine.StateStarted].Ceiling
		for i := setup.HostSlot + 1; i < setup.MaxSlots; i++ {
			s := l.slots[i]
			if s.State == engine.StateStarted && !s.GoAcked && s.Tries < ceiling {
				return false
			}
		}
		return true
	}
	return false
}

func (l *Lobby) Phase() Phase { return l.phase }

func (l *Lobby) view() engine.View {
	return engine.View{Roster: l.roster, Setup: l.rec, Map: l.cfg.Map}
}

// ---- Host commands, safe from any goroutine ----

func (l *Lobby) call(ctx context.Context, m Msg, reply chan error) error {
	select {
	case l.inbox <- m:
	case <-l.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-l.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lobby) SetOption(ctx context.Context, o setup.Option, v uint8) error {
	r := make(chan error, 1)
	return l.call(ctx, SetOption{Option: o, Value: v, Reply: r}, r)
}

func (l *Lobby) SetChoice(ctx context.Context, c setup.Choice) error {
	r := make(chan error, 1)
	return l.call(ctx, SetChoice{Choice: c, Reply: r}, r)
}

func (l *Lobby) Kick(ctx context.Context, slot int) error {
	r := make(chan error, 1)
	return l.call(ctx, Kick{Slot: slot, Reply: r}, r)
}

func (l *Lobby) Launch(ctx context.Context) error {
	r := make(chan error, 1)
	return l.call(ctx, Launch{Reply: r}, r)
}

// ---- Snapshot ----

// Snapshot returns the view published at the end of the last tick.
func (l *Lobby) Snapshot() types.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

func (l *Lobby) publish() {
	next := l.build()
	l.mu.Lock()
	next.Version = l.snap.Version
	if reflect.DeepEqual(next, l.snap) {
		l.mu.Unlock()
		return
	}
	next.Version++
	l.snap = next
	l.mu.Unlock()

	telemetry.SlotsOccupied.Set(float64(l.roster.Occupied()))
	if l.pub != nil {
		l.pub.Publish(next)
	}
}

func (l *Lobby) build() types.Snapshot {
	snap := types.Snapshot{
		Role:    "coordinator",
		State:   string(l.phase),
		Slot:    setup.HostSlot,
		Map:     types.MapInfo{Path: l.cfg.Map.Path, Checksum: l.cfg.Map.Checksum},
		Options: make(map[string]uint8, len(setup.Options)),
	}
	for _, o := range setup.Options {
		v, _ := l.rec.Option(o)
		snap.Options[string(o)] = v
	}
	for i, e := range l.roster {
		if e.Empty() {
			continue
		}
		c := l.rec.ChoiceOf(i)
		seat := types.Seat{
			Slot:       i,
			Name:       e.Name,
			State:      string(l.slots[i].State),
			Ready:      c.Ready,
			Race:       c.Race,
			CompOption: l.rec.CompOption[i],
		}
		if i == setup.HostSlot {
			seat.State = "host"
		} else {
			seat.Addr = e.Addr.String()
		}
		snap.Seats = append(snap.Seats, seat)
	}
	return snap
}
