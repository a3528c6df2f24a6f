package engine

import (
	"time"

	"github.com/DoyleJ11/lobbysync/internal/protocol"
)

// retry paces the message a state repeats until the other side answers.
// Ceiling 0 means the state repeats without limit.
type retry struct {
	Interval time.Duration
	Ceiling  int
}

// PeerSchedule is the resend pacing of the peer machine.
var PeerSchedule = map[State]retry{
	StateConnecting: {Interval: 500 * time.Millisecond, Ceiling: 48},
	StateConnected:  {Interval: 850 * time.Millisecond, Ceiling: 20},
	StateMapInfo:    {Interval: 650 * time.Millisecond, Ceiling: 20},
	StateSynced:     {Interval: 850 * time.Millisecond, Ceiling: 50},
	StateChanged:    {Interval: 650 * time.Millisecond, Ceiling: 20},
	StateAsync:      {Interval: 450 * time.Millisecond, Ceiling: 20},
	StateGoAhead:    {Interval: 250 * time.Millisecond, Ceiling: 20},
	StateDetaching:  {Interval: 250 * time.Millisecond, Ceiling: 10},
}

// SlotSchedule is the resend pacing of a coordinator seat. Synced seats only
// answer; they never push.
var SlotSchedule = map[State]retry{
	StateConnecting: {Interval: 500 * time.Millisecond},
	StateConnected:  {Interval: 650 * time.Millisecond},
	StateMapInfo:    {Interval: 650 * time.Millisecond},
	StateAsync:      {Interval: 450 * time.Millisecond},
	StateGoAhead:    {Interval: 250 * time.Millisecond},
	StateStarted:    {Interval: 250 * time.Millisecond, Ceiling: 20},
	StateDetaching:  {Interval: 250 * time.Millisecond, Ceiling: 10},
}

// message is what a peer repeats in each state.
func (p Peer) message() protocol.Message {
	switch p.State {
	case StateConnecting:
		return protocol.Hello{Name: p.Name, Engine: p.Versions.Engine, Protocol: p.Versions.Protocol}
	case StateConnected, StateSynced:
		return protocol.Waiting{}
	case StateMapInfo:
		return protocol.Map{Path: p.Map.Path, Checksum: p.Map.Checksum}
	case StateChanged:
		return protocol.State{Setup: p.Setup.WithChoice(p.Slot, p.Pending)}
	case StateAsync:
		return protocol.Resync{Roster: p.Roster, Setup: p.Setup}
	case StateGoAhead:
		return protocol.Config{Roster: p.Roster, Setup: p.Setup}
	case StateDetaching:
		return protocol.GoodBye{}
	default:
		return nil
	}
}

// message is what a coordinator seat repeats in each state.
func (s Slot) message(v View) protocol.Message {
	switch s.State {
	case StateConnecting:
		return protocol.Welcome{Slot: uint16(s.Index), Roster: v.Roster}
	case StateConnected:
		return v.Map
	case StateMapInfo, StateAsync:
		return protocol.State{Setup: v.Setup}
	case StateGoAhead:
		return protocol.Config{Roster: v.Roster, Setup: v.Setup}
	case StateStarted:
		return protocol.Go{}
	case StateDetaching:
		return protocol.GoodBye{}
	default:
		return nil
	}
}

// due reports whether a state paced by r should send again at now.
func due(r retry, last, now time.Time) bool {
	return last.IsZero() || now.Sub(last) >= r.Interval
}
