package engine

import (
	"time"

	"github.com/DoyleJ11/lobbysync/internal/protocol"
)

// Liveness bounds how long a seat may stay silent.
type Liveness struct {
	Probe time.Duration // silence before asking are_you_there
	Dead  time.Duration // silence before the seat is released
}

var DefaultLiveness = Liveness{Probe: 5 * time.Second, Dead: 15 * time.Second}

// Sweep probes or releases a seat whose peer has gone quiet.
func Sweep(s Slot, now time.Time, l Liveness) ([]Effect, Slot) {
	if s.State == StateUnused {
		return nil, s
	}
	quiet := now.Sub(s.LastHeard)
	switch {
	case quiet >= l.Dead:
		s.Reason = ReasonDead
		return []Effect{Release{Reason: ReasonDead}}, s.release()
	case quiet >= l.Probe && now.Sub(s.LastProbe) >= l.Probe:
		s.LastProbe = now
		return []Effect{Send{Msg: protocol.AreYouThere{}}}, s
	}
	return nil, s
}
