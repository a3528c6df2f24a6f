package engine

import (
	"time"

	"github.com/DoyleJ11/lobbysync/internal/protocol"
	"github.com/DoyleJ11/lobbysync/internal/setup"
)

// Peer is a client's view of its own handshake.
type Peer struct {
	State    State
	Reason   Reason
	Tries    int
	LastSent time.Time

	Name     string
	Versions Versions
	Slot     int
	Roster   setup.Roster
	Setup    setup.Record // cached copy of the coordinator's record
	Map      protocol.Map

	// map offered by the coordinator, waiting for the local verdict
	Offer    protocol.Map
	HasOffer bool

	// local edit not yet acknowledged
	Pending setup.Choice
}

func NewPeer(name string, v Versions) Peer {
	return Peer{
		State:    StateConnecting,
		Name:     setup.NormalizeName(name),
		Versions: v,
		Slot:     -1,
	}
}

// ApplyPeer advances the peer machine by one event.
func ApplyPeer(p Peer, ev Event) ([]Effect, Peer, error) {
	switch ev := ev.(type) {
	case Tick:
		return p.tick(ev.Now)
	case Received:
		return p.receive(ev.Now, ev.Msg)
	case MapVerdict:
		return p.verdict(ev)
	case Edit:
		return p.edit(ev)
	case Detach:
		return p.detach(ev.Now)
	default:
		return nil, p, ErrUnsupportedEvent
	}
}

func (p Peer) tick(now time.Time) ([]Effect, Peer, error) {
	if p.State.Terminal() {
		return nil, p, nil
	}
	r, ok := PeerSchedule[p.State]
	if !ok || !due(r, p.LastSent, now) {
		return nil, p, nil
	}
	if r.Ceiling > 0 && p.Tries >= r.Ceiling {
		return nil, p.end(StateUnreachable, ReasonUnreachable), nil
	}
	p.Tries++
	p.LastSent = now
	return []Effect{Send{Msg: p.message()}}, p, nil
}

// enter switches state and sends the new state's message at once.
func (p Peer) enter(st State, now time.Time, first ...Effect) ([]Effect, Peer, error) {
	p.State = st
	p.Tries = 0
	p.LastSent = time.Time{}
	effects, p, err := p.tick(now)
	return append(first, effects...), p, err
}

func (p Peer) end(st State, reason Reason) Peer {
	p.State = st
	p.Reason = reason
	p.HasOffer = false
	return p
}

func (p Peer) receive(now time.Time, msg protocol.Message) ([]Effect, Peer, error) {
	if p.State == StateStarted {
		switch msg.(type) {
		case protocol.Go:
			return []Effect{Send{Msg: protocol.Go{}}}, p, nil
		case protocol.AreYouThere:
			return []Effect{Send{Msg: protocol.IAmHere{}}}, p, nil
		}
	}
	if p.State.Terminal() {
		return nil, p, ErrTerminal
	}

	// valid from every live state
	switch msg.(type) {
	case protocol.EngineMismatch:
		return nil, p.end(StateIncompatibleEngine, ReasonEngineMismatch), nil
	case protocol.ProtocolMismatch:
		return nil, p.end(StateIncompatibleProtocol, ReasonProtocolMismatch), nil
	case protocol.GameFull:
		return nil, p.end(StateGameFull, ReasonGameFull), nil
	case protocol.ServerQuit:
		return nil, p.end(StateServerQuit, ReasonServerQuit), nil
	case protocol.AreYouThere:
		return []Effect{Send{Msg: protocol.IAmHere{}}}, p, nil
	case protocol.GoodBye:
		if p.State == StateConnecting {
			return nil, p, ErrIgnored
		}
		reason := ReasonKicked
		if p.State == StateDetaching {
			reason = ReasonLeft
		}
		return []Effect{Send{Msg: protocol.SeeYou{}}}, p.end(StateDisconnected, reason), nil
	}

	switch p.State {
	case StateConnecting:
		if m, ok := msg.(protocol.Welcome); ok {
			p.Slot = int(m.Slot)
			p.Roster = m.Roster
			return p.enter(StateConnected, now)
		}

	case StateConnected:
		if m, ok := msg.(protocol.Map); ok {
			return p.offer(m)
		}

	case StateMapInfo:
		if m, ok := msg.(protocol.State); ok {
			p.Setup = m.Setup
			return p.enter(StateSynced, now)
		}

	case StateSynced:
		switch m := msg.(type) {
		case protocol.Waiting:
			p.Tries = 0
			return nil, p, nil
		case protocol.State:
			// pushed because someone else changed the record
			p.Setup = m.Setup
			return p.enter(StateAsync, now)
		case protocol.Config:
			return p.launch(now, m)
		}

	case StateChanged:
		switch m := msg.(type) {
		case protocol.State:
			p.Setup = m.Setup
			if m.Setup.ChoiceOf(p.Slot) == p.Pending {
				return p.enter(StateSynced, now)
			}
			// someone else's change crossed ours; keep resending the edit
			return nil, p, nil
		case protocol.Config:
			return p.launch(now, m)
		}

	case StateAsync:
		switch m := msg.(type) {
		case protocol.State:
			p.Setup = m.Setup
			return nil, p, nil
		case protocol.Resync:
			p.Roster = m.Roster
			p.Setup = m.Setup
			return p.enter(StateSynced, now)
		case protocol.Config:
			return p.launch(now, m)
		}

	case StateGoAhead:
		switch m := msg.(type) {
		case protocol.Go:
			p.State = StateStarted
			p.Reason = ReasonStarted
			return []Effect{
				StartMatch{Roster: p.Roster, Setup: p.Setup},
				Send{Msg: protocol.Go{}},
			}, p, nil
		case protocol.Config:
			p.Roster = m.Roster
			p.Setup = m.Setup
			return nil, p, nil
		case protocol.State:
			// launch called off; the coordinator is pushing again
			p.Setup = m.Setup
			return p.enter(StateAsync, now)
		}
	}
	return nil, p, ErrIgnored
}

func (p Peer) launch(now time.Time, m protocol.Config) ([]Effect, Peer, error) {
	p.Roster = m.Roster
	p.Setup = m.Setup
	p.Pending = m.Setup.ChoiceOf(p.Slot)
	return p.enter(StateGoAhead, now)
}

// offer asks for the local map check unless the path is unusable, which is
// treated exactly like a checksum mismatch.
func (p Peer) offer(m protocol.Map) ([]Effect, Peer, error) {
	if !protocol.SafePath(m.Path) {
		return []Effect{Send{Msg: protocol.MapUIDMismatch{Path: m.Path, Checksum: m.Checksum}}},
			p.end(StateBadMap, ReasonBadMap), nil
	}
	if p.HasOffer {
		return nil, p, ErrIgnored
	}
	p.Offer = m
	p.HasOffer = true
	p.Tries = 0
	return []Effect{CheckMap{Path: m.Path, Checksum: m.Checksum}}, p, nil
}

func (p Peer) verdict(ev MapVerdict) ([]Effect, Peer, error) {
	if p.State != StateConnected || !p.HasOffer {
		return nil, p, ErrIgnored
	}
	offer := p.Offer
	p.HasOffer = false
	if !ev.OK || ev.Checksum != offer.Checksum {
		return []Effect{Send{Msg: protocol.MapUIDMismatch{Path: offer.Path, Checksum: ev.Checksum}}},
			p.end(StateBadMap, ReasonBadMap), nil
	}
	p.Map = offer
	return p.enter(StateMapInfo, ev.Now)
}

func (p Peer) edit(ev Edit) ([]Effect, Peer, error) {
	switch {
	case p.State == StateSynced, p.State == StateChanged:
	case p.State.Terminal():
		return nil, p, ErrTerminal
	default:
		return nil, p, ErrNotSynced
	}
	p.Pending = ev.Choice
	return p.enter(StateChanged, ev.Now)
}

func (p Peer) detach(now time.Time) ([]Effect, Peer, error) {
	switch {
	case p.State.Terminal():
		return nil, p, ErrTerminal
	case p.State == StateDetaching:
		return nil, p, nil
	case p.State == StateConnecting:
		// no seat yet; one goodbye in case a welcome is in flight
		return []Effect{Send{Msg: protocol.GoodBye{}}}, p.end(StateAborted, ReasonAborted), nil
	}
	return p.enter(StateDetaching, now)
}
