// Package engine holds the handshake state machines of both roles as pure
// transition functions: (state, event) -> (effects, state, error). Nothing
// here touches a socket or a clock; callers feed time in through events and
// carry out the returned effects.
package engine

import (
	"errors"
	"time"

	"github.com/DoyleJ11/lobbysync/internal/protocol"
	"github.com/DoyleJ11/lobbysync/internal/setup"
)

var ErrIgnored = errors.New("message not expected in this state")
var ErrTerminal = errors.New("handshake already ended")
var ErrNotSynced = errors.New("setup can only be edited while synced")
var ErrEngineMismatch = errors.New("engine version mismatch")
var ErrProtocolMismatch = errors.New("protocol version mismatch")
var ErrGameFull = errors.New("no free slot")
var ErrUnsupportedEvent = errors.New("unsupported event")

// State is the handshake lifecycle shared by peers and coordinator slots.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateMapInfo    State = "map_info"
	StateSynced     State = "synced"
	StateChanged    State = "changed"
	StateAsync      State = "async"
	StateGoAhead    State = "goahead"
	StateStarted    State = "started"
	StateDetaching  State = "detaching"

	// terminal
	StateDisconnected         State = "disconnected"
	StateUnreachable          State = "unreachable"
	StateAborted              State = "aborted"
	StateBadMap               State = "bad_map"
	StateIncompatibleEngine   State = "incompatible_engine"
	StateIncompatibleProtocol State = "incompatible_protocol"
	StateGameFull             State = "game_full"
	StateServerQuit           State = "server_quit"

	// coordinator seat that holds nobody
	StateUnused State = "unused"
)

// Terminal reports whether no further transition can leave s. A started
// handshake is finished too, although it still answers go.
func (s State) Terminal() bool {
	switch s {
	case StateDisconnected, StateUnreachable, StateAborted, StateBadMap,
		StateIncompatibleEngine, StateIncompatibleProtocol, StateGameFull,
		StateServerQuit, StateUnused, StateStarted:
		return true
	}
	return false
}

// Reason says why a handshake or a seat ended.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonStarted          Reason = "started"
	ReasonEngineMismatch   Reason = "engine_mismatch"
	ReasonProtocolMismatch Reason = "protocol_mismatch"
	ReasonGameFull         Reason = "game_full"
	ReasonBadMap           Reason = "bad_map"
	ReasonUnreachable      Reason = "connection lost"
	ReasonServerQuit       Reason = "server_quit"
	ReasonKicked           Reason = "kicked"
	ReasonAborted          Reason = "aborted"
	ReasonDead             Reason = "dead"
	ReasonLeft             Reason = "left"
)

// EndError is the single value a finished handshake reports.
type EndError struct {
	Reason Reason
}

func (e *EndError) Error() string { return "handshake ended: " + string(e.Reason) }

// Versions are the engine and protocol numbers exchanged in hello.
type Versions struct {
	Engine   int32
	Protocol int32
}

// DefaultVersions are the numbers compiled into this build.
var DefaultVersions = Versions{Engine: protocol.EngineVersion, Protocol: protocol.ProtocolVersion}

type Event interface{ isEvent() }

// Tick is the periodic driver.
type Tick struct{ Now time.Time }

// Received delivers a decoded message from the other role.
type Received struct {
	Now time.Time
	Msg protocol.Message
}

// MapVerdict is the local map check requested by a CheckMap effect.
type MapVerdict struct {
	Now      time.Time
	OK       bool
	Checksum uint32
}

// Edit is a local change to this peer's own seat.
type Edit struct {
	Now    time.Time
	Choice setup.Choice
}

// Detach is the user walking away.
type Detach struct{ Now time.Time }

func (Tick) isEvent()       {}
func (Received) isEvent()   {}
func (MapVerdict) isEvent() {}
func (Edit) isEvent()       {}
func (Detach) isEvent()     {}

type Effect interface{ isEffect() }

// Send asks the caller to transmit Msg to the other role.
type Send struct{ Msg protocol.Message }

// CheckMap asks the caller to run the map validator and answer with
// MapVerdict.
type CheckMap struct {
	Path     string
	Checksum uint32
}

// StartMatch asks the caller to hand over to the match.
type StartMatch struct {
	Roster setup.Roster
	Setup  setup.Record
}

// Publish replaces the authoritative setup record; every other seat must be
// marked async.
type Publish struct{ Setup setup.Record }

// Release frees the seat.
type Release struct{ Reason Reason }

func (Send) isEffect()       {}
func (CheckMap) isEffect()   {}
func (StartMatch) isEffect() {}
func (Publish) isEffect()    {}
func (Release) isEffect()    {}
