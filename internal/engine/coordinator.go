package engine

import (
	"time"

	"github.com/DoyleJ11/lobbysync/internal/protocol"
	"github.com/DoyleJ11/lobbysync/internal/setup"
)

// View is the session data a seat reads while it transitions. The session
// manager owns it; a seat never writes it directly but asks through Publish.
type View struct {
	Roster setup.Roster
	Setup  setup.Record
	Map    protocol.Map
}

// Slot is the coordinator's handshake with the peer holding one seat.
type Slot struct {
	Index  int
	State  State
	Reason Reason

	Tries     int
	LastSent  time.Time
	LastHeard time.Time
	LastProbe time.Time

	GoAcked bool
	// Stale marks a seat invalidated before it reached synced; it passes
	// through async on arrival so the peer fetches the current roster.
	Stale bool
}

// Admit decides whether a hello may take a seat. On refusal it returns the
// reply to send back.
func Admit(h protocol.Hello, local Versions, free bool) (protocol.Message, error) {
	if h.Engine != local.Engine {
		return protocol.EngineMismatch{Version: local.Engine}, ErrEngineMismatch
	}
	if h.Protocol != local.Protocol {
		return protocol.ProtocolMismatch{Version: local.Protocol}, ErrProtocolMismatch
	}
	if !free {
		return protocol.GameFull{}, ErrGameFull
	}
	return nil, nil
}

// Join seats a newly admitted peer and welcomes it. v must already list the
// peer in its roster.
func Join(index int, v View, now time.Time) ([]Effect, Slot) {
	s := Slot{Index: index, LastHeard: now}
	effects, s, _ := s.enter(StateConnecting, v, now)
	return effects, s
}

// ApplySlot advances one seat by a Tick or a Received event.
func ApplySlot(s Slot, v View, ev Event) ([]Effect, Slot, error) {
	switch ev := ev.(type) {
	case Tick:
		return s.tick(v, ev.Now)
	case Received:
		return s.receive(v, ev.Now, ev.Msg)
	default:
		return nil, s, ErrUnsupportedEvent
	}
}

// Launch moves a synced seat to goahead.
func Launch(s Slot, v View, now time.Time) ([]Effect, Slot, error) {
	if s.State != StateSynced {
		return nil, s, ErrNotSynced
	}
	return s.enter(StateGoAhead, v, now)
}

// Kick starts a coordinator-initiated goodbye.
func Kick(s Slot, v View, now time.Time) ([]Effect, Slot, error) {
	switch s.State {
	case StateUnused:
		return nil, s, ErrTerminal
	case StateDetaching:
		return nil, s, nil
	}
	s.Reason = ReasonKicked
	return s.enter(StateDetaching, v, now)
}

// Invalidate marks a seat whose peer may now hold a stale record. Seats
// past go are committed and stay where they are.
func Invalidate(s Slot) Slot {
	switch s.State {
	case StateSynced, StateGoAhead:
		s.State = StateAsync
		s.Tries = 0
		s.LastSent = time.Time{}
	case StateConnecting, StateConnected, StateMapInfo:
		s.Stale = true
	}
	return s
}

func (s Slot) tick(v View, now time.Time) ([]Effect, Slot, error) {
	r, ok := SlotSchedule[s.State]
	if !ok || !due(r, s.LastSent, now) {
		return nil, s, nil
	}
	if s.State == StateStarted && s.GoAcked {
		return nil, s, nil
	}
	if r.Ceiling > 0 && s.Tries >= r.Ceiling {
		if s.State == StateDetaching {
			return []Effect{Release{Reason: s.Reason}}, s.release(), nil
		}
		return nil, s, nil
	}
	s.Tries++
	s.LastSent = now
	return []Effect{Send{Msg: s.message(v)}}, s, nil
}

func (s Slot) enter(st State, v View, now time.Time) ([]Effect, Slot, error) {
	s.State = st
	s.Tries = 0
	s.LastSent = time.Time{}
	return s.tick(v, now)
}

func (s Slot) release() Slot {
	s.State = StateUnused
	s.GoAcked = false
	s.Stale = false
	return s
}

func reply(s Slot, msg protocol.Message) ([]Effect, Slot, error) {
	return []Effect{Send{Msg: msg}}, s, nil
}

// receive handles one datagram from the seat's peer. Only an accepted
// message counts as hearing from the peer.
func (s Slot) receive(v View, now time.Time, msg protocol.Message) ([]Effect, Slot, error) {
	if s.State == StateUnused {
		return nil, s, ErrTerminal
	}
	effects, next, err := s.accept(v, now, msg)
	if err != nil {
		return nil, s, err
	}
	if next.State != StateUnused {
		next.LastHeard = now
	}
	return effects, next, nil
}

func (s Slot) accept(v View, now time.Time, msg protocol.Message) ([]Effect, Slot, error) {
	switch msg.(type) {
	case protocol.IAmHere:
		return nil, s, nil
	case protocol.MapUIDMismatch:
		// The peer ends its own handshake; the seat goes when liveness gives up.
		return nil, s, nil
	case protocol.GoodBye:
		if s.State == StateDetaching {
			return nil, s, ErrIgnored
		}
		s.Reason = ReasonLeft
		return s.enter(StateDetaching, v, now)
	case protocol.SeeYou:
		if s.State != StateDetaching {
			return nil, s, ErrIgnored
		}
		return []Effect{Release{Reason: s.Reason}}, s.release(), nil
	}

	switch s.State {
	case StateConnecting:
		switch msg.(type) {
		case protocol.Hello:
			return reply(s, s.message(v))
		case protocol.Waiting:
			return s.enter(StateConnected, v, now)
		}

	case StateConnected:
		if m, ok := msg.(protocol.Map); ok && m == v.Map {
			return s.enter(StateMapInfo, v, now)
		}

	case StateMapInfo:
		switch msg.(type) {
		case protocol.Waiting:
			if s.Stale {
				s.Stale = false
				return s.enter(StateAsync, v, now)
			}
			s.State = StateSynced
			s.Tries = 0
			return reply(s, protocol.Waiting{})
		case protocol.Map:
			return reply(s, protocol.State{Setup: v.Setup})
		}

	case StateSynced:
		switch m := msg.(type) {
		case protocol.Waiting:
			return reply(s, protocol.Waiting{})
		case protocol.Map:
			return reply(s, protocol.State{Setup: v.Setup})
		case protocol.State:
			return s.commit(v, m)
		case protocol.Resync:
			return reply(s, protocol.Resync{Roster: v.Roster, Setup: v.Setup})
		}

	case StateAsync:
		switch m := msg.(type) {
		case protocol.Resync:
			s.State = StateSynced
			s.Tries = 0
			return reply(s, protocol.Resync{Roster: v.Roster, Setup: v.Setup})
		case protocol.State:
			return s.commit(v, m)
		}

	case StateGoAhead:
		switch m := msg.(type) {
		case protocol.Config:
			if m.Roster == v.Roster.Wire() && m.Setup == v.Setup {
				return s.enter(StateStarted, v, now)
			}
			return reply(s, protocol.Config{Roster: v.Roster, Setup: v.Setup})
		case protocol.Resync:
			return reply(s, protocol.Config{Roster: v.Roster, Setup: v.Setup})
		}

	case StateStarted:
		switch msg.(type) {
		case protocol.Go:
			s.GoAcked = true
			return nil, s, nil
		case protocol.Config:
			return reply(s, protocol.Go{})
		}
	}
	return nil, s, ErrIgnored
}

// commit merges the peer's own seat choice into the record and acknowledges
// it with the merged record.
func (s Slot) commit(v View, m protocol.State) ([]Effect, Slot, error) {
	merged := v.Setup.WithChoice(s.Index, m.Setup.ChoiceOf(s.Index))
	var effects []Effect
	if merged != v.Setup {
		effects = append(effects, Publish{Setup: merged})
	}
	effects = append(effects, Send{Msg: protocol.State{Setup: merged}})
	s.State = StateSynced
	s.Tries = 0
	s.LastSent = time.Time{}
	return effects, s, nil
}
