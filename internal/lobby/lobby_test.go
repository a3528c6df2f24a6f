package lobby

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobbysync/internal/client"
	"github.com/DoyleJ11/lobbysync/internal/engine"
	"github.com/DoyleJ11/lobbysync/internal/match"
	"github.com/DoyleJ11/lobbysync/internal/netx"
	"github.com/DoyleJ11/lobbysync/internal/protocol"
	"github.com/DoyleJ11/lobbysync/internal/setup"
	"github.com/DoyleJ11/lobbysync/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const step = 50 * time.Millisecond

var serverAddr = netip.MustParseAddrPort("10.0.0.1:6660")

var testMap = protocol.Map{Path: "skirmish01.map", Checksum: 0xDEADBEEF}

type starts struct{ n int }

func (s *starts) Start(setup.Roster, setup.Record) { s.n++ }

type recorder struct{ snaps []types.Snapshot }

func (r *recorder) Publish(s types.Snapshot) { r.snaps = append(r.snaps, s) }

// rig ticks one lobby and its peers on a shared fake clock.
type rig struct {
	t       *testing.T
	sw      *netx.Switch
	lobby   *Lobby
	started *starts
	pub     *recorder
	peers   []*client.Client
	peerGo  []*starts
	frozen  map[*client.Client]bool
	now     time.Time
}

func newRig(t *testing.T, v engine.Versions) *rig {
	t.Helper()
	sw := netx.NewSwitch()
	tr, err := sw.Listen(serverAddr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := &rig{t: t, sw: sw, started: &starts{}, pub: &recorder{}, frozen: map[*client.Client]bool{}, now: t0}
	r.lobby = New(Config{HostName: "host", Map: testMap, Versions: v}, tr, r.started, r.pub, zap.NewNop())
	return r
}

// join adds a peer whose local copy of the map has checksum sum.
func (r *rig) join(name string, v engine.Versions, sum uint32) *client.Client {
	r.t.Helper()
	addr := netip.AddrPortFrom(netip.MustParseAddr("10.0.0.2"), uint16(7000+len(r.peers)))
	tr, err := r.sw.Listen(addr)
	if err != nil {
		r.t.Fatalf("listen: %v", err)
	}
	maps := match.ValidatorFunc(func(path string) (bool, uint32) {
		return path == testMap.Path, sum
	})
	st := &starts{}
	c := client.New(client.Config{Name: name, Server: serverAddr, Versions: v}, tr, maps, st, nil, zap.NewNop())
	r.peers = append(r.peers, c)
	r.peerGo = append(r.peerGo, st)
	return c
}

func (r *rig) step(n int) {
	for i := 0; i < n; i++ {
		r.now = r.now.Add(step)
		r.lobby.Tick(r.now)
		for _, c := range r.peers {
			if !r.frozen[c] {
				c.Tick(r.now)
			}
		}
	}
}

// until steps the rig until cond holds, failing after max steps.
func (r *rig) until(max int, what string, cond func() bool) {
	r.t.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return
		}
		r.step(1)
	}
	if !cond() {
		r.t.Fatalf("%s: not reached after %d steps (lobby %+v)", what, max, r.lobby.Snapshot())
	}
}

func (r *rig) allSynced() bool {
	for _, c := range r.peers {
		if c.State() != engine.StateSynced {
			return false
		}
	}
	for i := setup.HostSlot + 1; i < setup.MaxSlots; i++ {
		st := r.lobby.slots[i].State
		if st != engine.StateUnused && st != engine.StateSynced {
			return false
		}
	}
	return true
}

func (r *rig) command(m func(chan error) Msg) error {
	r.t.Helper()
	reply := make(chan error, 1)
	r.lobby.Inbox() <- m(reply)
	r.step(1)
	select {
	case err := <-reply:
		return err
	default:
		r.t.Fatalf("no reply after one tick")
		return nil
	}
}

func (r *rig) launch() error {
	return r.command(func(c chan error) Msg { return Launch{Reply: c} })
}

func ready(c *client.Client, race uint8) {
	c.Inbox() <- client.SetChoice{Choice: setup.Choice{Ready: true, Race: race}, Reply: make(chan error, 1)}
}

func seat(s types.Snapshot, slot int) (types.Seat, bool) {
	for _, st := range s.Seats {
		if st.Slot == slot {
			return st, true
		}
	}
	return types.Seat{}, false
}

func endReason(err error) engine.Reason {
	var end *engine.EndError
	if errors.As(err, &end) {
		return end.Reason
	}
	return engine.ReasonNone
}

func TestLobby_MapMismatch(t *testing.T) {
	v := engine.Versions{Engine: 42, Protocol: 7}
	r := newRig(t, v)
	alice := r.join("Alice", v, 0x12345678)

	r.until(40, "alice refuses the map", func() bool { return alice.State() == engine.StateBadMap })
	if got := endReason(alice.Err()); got != engine.ReasonBadMap {
		t.Fatalf("alice ended with %q", got)
	}
	if _, ok := seat(r.lobby.Snapshot(), 1); !ok {
		t.Fatalf("seat 1 should stay until the peer goes quiet")
	}

	// a refusing peer answers nothing more; liveness frees the seat
	r.until(int(engine.DefaultLiveness.Dead/step)+20, "seat released", func() bool {
		_, ok := seat(r.lobby.Snapshot(), 1)
		return !ok
	})
	if r.started.n != 0 {
		t.Fatalf("match must not start")
	}
}

func TestLobby_EditPropagates(t *testing.T) {
	r := newRig(t, engine.DefaultVersions)
	a := r.join("alice", engine.DefaultVersions, testMap.Checksum)
	b := r.join("bob", engine.DefaultVersions, testMap.Checksum)
	r.until(100, "both synced", r.allSynced)

	a.Inbox() <- client.SetChoice{Choice: setup.Choice{Race: 2}, Reply: make(chan error, 1)}
	r.until(200, "bob sees alice's race", func() bool {
		s, ok := seat(b.Snapshot(), 1)
		return ok && s.Race == 2 && r.allSynced()
	})
	if s, _ := seat(r.lobby.Snapshot(), 1); s.Race != 2 {
		t.Fatalf("authoritative record not updated: %+v", s)
	}
	if s, _ := seat(a.Snapshot(), 2); s.Name != "bob" {
		t.Fatalf("alice's roster misses bob: %+v", a.Snapshot().Seats)
	}
	for _, c := range []*client.Client{a, b} {
		if got := c.Snapshot(); !reflect.DeepEqual(choices(got), choices(r.lobby.Snapshot())) {
			t.Fatalf("peer %d record diverged: %+v", got.Slot, got.Seats)
		}
	}
}

// choices reduces a snapshot to the per-seat record fields.
func choices(s types.Snapshot) map[int]types.Seat {
	out := make(map[int]types.Seat, len(s.Seats))
	for _, st := range s.Seats {
		out[st.Slot] = types.Seat{Ready: st.Ready, Race: st.Race, CompOption: st.CompOption}
	}
	return out
}

func TestLobby_HostOptionReachesPeers(t *testing.T) {
	r := newRig(t, engine.DefaultVersions)
	a := r.join("alice", engine.DefaultVersions, testMap.Checksum)
	r.until(100, "synced", r.allSynced)

	err := r.command(func(c chan error) Msg { return SetOption{Option: setup.OptDifficulty, Value: 3, Reply: c} })
	if err != nil {
		t.Fatalf("set option: %v", err)
	}
	r.until(100, "alice sees difficulty", func() bool {
		return a.Snapshot().Options[string(setup.OptDifficulty)] == 3 && r.allSynced()
	})

	err = r.command(func(c chan error) Msg { return SetOption{Option: "speed", Value: 1, Reply: c} })
	if !errors.Is(err, setup.ErrUnknownOption) {
		t.Fatalf("unknown option: got %v", err)
	}
}

func TestLobby_LaunchStartsOnce(t *testing.T) {
	r := newRig(t, engine.DefaultVersions)
	if err := r.launch(); !errors.Is(err, ErrNoPeers) {
		t.Fatalf("launch with nobody: got %v", err)
	}

	a := r.join("alice", engine.DefaultVersions, testMap.Checksum)
	b := r.join("bob", engine.DefaultVersions, testMap.Checksum)
	r.until(100, "both synced", r.allSynced)
	if err := r.launch(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("launch before ready: got %v", err)
	}

	ready(a, 1)
	ready(b, 3)
	r.until(200, "both ready", func() bool {
		return r.allSynced() && r.lobby.rec.Ready[1] == 1 && r.lobby.rec.Ready[2] == 1
	})
	if err := r.launch(); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if err := r.launch(); !errors.Is(err, ErrLaunched) {
		t.Fatalf("second launch: got %v", err)
	}

	r.until(100, "match started", func() bool { return r.lobby.Phase() == PhaseStarted })
	r.until(200, "settled", r.lobby.Done)
	if r.started.n != 1 {
		t.Fatalf("coordinator started %d times", r.started.n)
	}
	for i, c := range r.peers {
		if c.State() != engine.StateStarted || r.peerGo[i].n != 1 {
			t.Fatalf("peer %d: state %s, starts %d", i, c.State(), r.peerGo[i].n)
		}
		if c.Err() != nil {
			t.Fatalf("peer %d: %v", i, c.Err())
		}
	}

	late := r.join("carol", engine.DefaultVersions, testMap.Checksum)
	r.until(20, "late joiner refused", func() bool { return late.State() == engine.StateGameFull })
}

func TestLobby_LossyNetworkStillStarts(t *testing.T) {
	r := newRig(t, engine.DefaultVersions)
	r.sw.SetDrop(netx.DropRandom(7, 0.2))
	a := r.join("alice", engine.DefaultVersions, testMap.Checksum)
	b := r.join("bob", engine.DefaultVersions, testMap.Checksum)

	launched := false
	for i := 0; i < 1000 && !launched; i++ {
		for _, c := range r.peers {
			if slot := c.Snapshot().Slot; c.State() == engine.StateSynced && r.lobby.rec.Ready[slot] == 0 {
				ready(c, 0)
			}
		}
		if r.allSynced() && r.lobby.rec.Ready[1] == 1 && r.lobby.rec.Ready[2] == 1 {
			launched = r.launch() == nil
			continue
		}
		r.step(1)
	}
	if !launched {
		t.Fatalf("never launched: %+v", r.lobby.Snapshot())
	}
	r.until(1000, "match started", func() bool { return r.lobby.Phase() == PhaseStarted })
	r.until(400, "peers started", func() bool {
		return a.State() == engine.StateStarted && b.State() == engine.StateStarted
	})
	if r.started.n != 1 {
		t.Fatalf("coordinator started %d times", r.started.n)
	}
}

func TestLobby_GameFull(t *testing.T) {
	r := newRig(t, engine.DefaultVersions)
	for i := 1; i < setup.MaxSlots; i++ {
		r.join(fmt.Sprintf("p%d", i), engine.DefaultVersions, testMap.Checksum)
	}
	r.until(200, "table full", r.allSynced)
	if got := len(r.lobby.Snapshot().Seats); got != setup.MaxSlots {
		t.Fatalf("seats: %d", got)
	}

	extra := r.join("extra", engine.DefaultVersions, testMap.Checksum)
	r.until(20, "extra refused", func() bool { return extra.State() == engine.StateGameFull })
	if got := endReason(extra.Err()); got != engine.ReasonGameFull {
		t.Fatalf("reason %q", got)
	}
}

func TestLobby_VersionMismatch(t *testing.T) {
	r := newRig(t, engine.DefaultVersions)
	old := r.join("old", engine.Versions{Engine: 1, Protocol: engine.DefaultVersions.Protocol}, testMap.Checksum)
	odd := r.join("odd", engine.Versions{Engine: engine.DefaultVersions.Engine, Protocol: 99}, testMap.Checksum)
	r.until(20, "both refused", func() bool {
		return old.State() == engine.StateIncompatibleEngine && odd.State() == engine.StateIncompatibleProtocol
	})
	if got := r.lobby.roster.Occupied(); got != 1 {
		t.Fatalf("refused peers must not take seats, occupied %d", got)
	}
}

func TestLobby_KickAndLeave(t *testing.T) {
	r := newRig(t, engine.DefaultVersions)
	a := r.join("alice", engine.DefaultVersions, testMap.Checksum)
	b := r.join("bob", engine.DefaultVersions, testMap.Checksum)
	r.until(100, "both synced", r.allSynced)

	if err := r.command(func(c chan error) Msg { return Kick{Slot: 5, Reply: c} }); !errors.Is(err, ErrNoSuchSlot) {
		t.Fatalf("kick empty seat: got %v", err)
	}
	if err := r.command(func(c chan error) Msg { return Kick{Slot: 1, Reply: c} }); err != nil {
		t.Fatalf("kick: %v", err)
	}
	r.until(40, "alice kicked", func() bool { return a.State() == engine.StateDisconnected })
	if got := endReason(a.Err()); got != engine.ReasonKicked {
		t.Fatalf("alice ended with %q", got)
	}

	leave := make(chan error, 1)
	b.Inbox() <- client.Leave{Reply: leave}
	r.until(40, "bob left", func() bool { return b.State() == engine.StateDisconnected })
	if err := <-leave; err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got := endReason(b.Err()); got != engine.ReasonLeft {
		t.Fatalf("bob ended with %q", got)
	}
	r.until(40, "seats free", func() bool { return len(r.lobby.Snapshot().Seats) == 1 })
}

func TestLobby_DeadPeerLeavesRoster(t *testing.T) {
	r := newRig(t, engine.DefaultVersions)
	a := r.join("alice", engine.DefaultVersions, testMap.Checksum)
	b := r.join("bob", engine.DefaultVersions, testMap.Checksum)
	r.until(100, "both synced", r.allSynced)

	r.frozen[a] = true
	r.until(int(engine.DefaultLiveness.Dead/step)+40, "bob's roster drops alice", func() bool {
		_, ok := seat(b.Snapshot(), 1)
		return !ok && b.State() == engine.StateSynced
	})
	if _, ok := seat(r.lobby.Snapshot(), 1); ok {
		t.Fatalf("seat 1 should be free")
	}
}

func TestLobby_QuitTellsEveryone(t *testing.T) {
	r := newRig(t, engine.DefaultVersions)
	a := r.join("alice", engine.DefaultVersions, testMap.Checksum)
	r.until(100, "synced", r.allSynced)

	r.lobby.Inbox() <- Quit{}
	r.until(10, "alice told", func() bool { return a.State() == engine.StateServerQuit })
	if !r.lobby.Done() {
		t.Fatalf("lobby should be done after quit")
	}
	if err := r.lobby.Launch(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("launch after quit: got %v", err)
	}
}

func TestLobby_SnapshotVersions(t *testing.T) {
	r := newRig(t, engine.DefaultVersions)
	if got := r.lobby.Snapshot(); got.Version != 1 || got.State != string(PhaseOpen) || len(got.Seats) != 1 {
		t.Fatalf("initial snapshot %+v", got)
	}
	r.step(5)
	if len(r.pub.snaps) != 1 {
		t.Fatalf("idle ticks must not publish, got %d snapshots", len(r.pub.snaps))
	}

	r.join("alice", engine.DefaultVersions, testMap.Checksum)
	r.until(100, "synced", r.allSynced)
	last := 0
	for _, s := range r.pub.snaps {
		if s.Version <= last {
			t.Fatalf("versions not increasing: %d after %d", s.Version, last)
		}
		last = s.Version
	}
	s, ok := seat(r.lobby.Snapshot(), 1)
	if !ok || s.Name != "alice" || s.State != string(engine.StateSynced) {
		t.Fatalf("seat 1: %+v", s)
	}
}

func TestLobby_RunReturnsOnCancel(t *testing.T) {
	sw := netx.NewSwitch()
	tr, _ := sw.Listen(serverAddr)
	l := New(Config{Map: testMap, Tick: time.Millisecond}, tr, &starts{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	if err := l.Kick(ctx, 3); !errors.Is(err, ErrNoSuchSlot) {
		t.Fatalf("kick through Run: got %v", err)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not return")
	}
	if got := l.Snapshot().State; got != string(PhaseClosed) {
		t.Fatalf("state after cancel: %s", got)
	}
}

// readyRig seats the named peers and waits until every one is synced and
// ready, so the next Launch goes through.
func readyRig(t *testing.T, names ...string) (*rig, []*client.Client) {
	t.Helper()
	r := newRig(t, engine.DefaultVersions)
	var peers []*client.Client
	for _, n := range names {
		peers = append(peers, r.join(n, engine.DefaultVersions, testMap.Checksum))
	}
	r.until(100, "synced", r.allSynced)
	for _, c := range peers {
		ready(c, 1)
	}
	r.until(200, "ready", func() bool {
		if !r.allSynced() {
			return false
		}
		for _, c := range peers {
			if r.lobby.rec.Ready[c.Snapshot().Slot] == 0 {
				return false
			}
		}
		return true
	})
	return r, peers
}

func (r *rig) assertStartedOnce(peers ...*client.Client) {
	r.t.Helper()
	r.until(100, "match started", func() bool { return r.lobby.Phase() == PhaseStarted })
	if r.started.n != 1 {
		r.t.Fatalf("coordinator started %d times", r.started.n)
	}
	for _, c := range peers {
		r.until(100, "peer started", func() bool { return c.State() == engine.StateStarted })
	}
	for i, c := range r.peers {
		if c.State() == engine.StateStarted && r.peerGo[i].n != 1 {
			r.t.Fatalf("peer %d started %d times", i, r.peerGo[i].n)
		}
	}
}

func TestLobby_HelloDuringFirstGoIsTurnedAway(t *testing.T) {
	r, peers := readyRig(t, "alice")
	alice := peers[0]

	stranger, err := r.sw.Listen(netip.MustParseAddrPort("10.0.0.9:7100"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := r.launch(); err != nil {
		t.Fatalf("launch: %v", err)
	}
	// alice's config echo is already queued; the hello lands right behind it
	hello := protocol.Hello{Name: "late", Engine: engine.DefaultVersions.Engine, Protocol: engine.DefaultVersions.Protocol}
	if err := stranger.Send(serverAddr, protocol.Marshal(protocol.ToCoordinator, hello)); err != nil {
		t.Fatalf("send: %v", err)
	}

	r.step(1)
	if got := r.lobby.Phase(); got != PhaseStarted {
		t.Fatalf("phase after first go: %s", got)
	}
	if _, ok := seat(r.lobby.Snapshot(), 2); ok {
		t.Fatalf("hello took a seat after the launch committed")
	}
	d, ok := stranger.Recv()
	if !ok {
		t.Fatalf("stranger got no answer")
	}
	if _, msg, err := protocol.Unmarshal(d.Data); err != nil || msg.Kind() != protocol.KindGameFull {
		t.Fatalf("stranger got %v, %v", msg, err)
	}
	r.assertStartedOnce(alice)
}

func TestLobby_DeadSeatDuringFirstGoKeepsLaunch(t *testing.T) {
	r, peers := readyRig(t, "alice", "bob")
	alice, bob := peers[0], peers[1]

	r.frozen[bob] = true
	r.step(1) // flush what bob already sent
	slot := bob.Snapshot().Slot
	deadline := r.lobby.slots[slot].LastHeard.Add(engine.DefaultLiveness.Dead)
	for r.now.Add(2 * step).Before(deadline) {
		r.step(1)
	}

	// launch at the last tick bob is alive; the sweep drops him on the next
	// tick, the same one that sends alice go
	if err := r.launch(); err != nil {
		t.Fatalf("launch: %v", err)
	}
	r.step(1)
	if _, ok := seat(r.lobby.Snapshot(), slot); ok {
		t.Fatalf("bob's seat should be released")
	}
	if got := r.lobby.Phase(); got != PhaseStarted {
		t.Fatalf("phase: %s", got)
	}
	r.assertStartedOnce(alice)
}
