// Package protocol is the closed message catalogue spoken between the lobby
// coordinator and its peers. The numbering in this file is the wire contract;
// both roles import it unchanged.
package protocol

import "github.com/DoyleJ11/lobbysync/internal/setup"

// Versions advertised in hello. Both must match the coordinator's exactly.
const (
	EngineVersion   int32 = 30100
	ProtocolVersion int32 = 7
)

// HeaderSize is u8 direction + u8 subtype.
const HeaderSize = 2

// PathSize is the char[] width of a map path.
const PathSize = 256

// MaxDatagram bounds every encoded message.
const MaxDatagram = 512

type Direction uint8

const (
	ToCoordinator Direction = 0
	ToPeer        Direction = 1
)

func (d Direction) String() string {
	switch d {
	case ToCoordinator:
		return "to_coordinator"
	case ToPeer:
		return "to_peer"
	default:
		return "unknown"
	}
}

type Kind uint8

const (
	KindHello            Kind = 1
	KindConfig           Kind = 2
	KindEngineMismatch   Kind = 3
	KindProtocolMismatch Kind = 4
	KindMapUIDMismatch   Kind = 5
	KindGameFull         Kind = 6
	KindWelcome          Kind = 7
	KindWaiting          Kind = 8
	KindMap              Kind = 9
	KindState            Kind = 10
	KindResync           Kind = 11
	KindServerQuit       Kind = 12
	KindGoodBye          Kind = 13
	KindSeeYou           Kind = 14
	KindGo               Kind = 15
	KindAreYouThere      Kind = 16
	KindIAmHere          Kind = 17
)

var kindNames = map[Kind]string{
	KindHello:            "hello",
	KindConfig:           "config",
	KindEngineMismatch:   "engine_mismatch",
	KindProtocolMismatch: "protocol_mismatch",
	KindMapUIDMismatch:   "map_uid_mismatch",
	KindGameFull:         "game_full",
	KindWelcome:          "welcome",
	KindWaiting:          "waiting",
	KindMap:              "map",
	KindState:            "state",
	KindResync:           "resync",
	KindServerQuit:       "server_quit",
	KindGoodBye:          "goodbye",
	KindSeeYou:           "see_you",
	KindGo:               "go",
	KindAreYouThere:      "are_you_there",
	KindIAmHere:          "i_am_here",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Kinds lists the whole catalogue in numbering order.
var Kinds = []Kind{
	KindHello, KindConfig, KindEngineMismatch, KindProtocolMismatch,
	KindMapUIDMismatch, KindGameFull, KindWelcome, KindWaiting, KindMap,
	KindState, KindResync, KindServerQuit, KindGoodBye, KindSeeYou, KindGo,
	KindAreYouThere, KindIAmHere,
}

// allowed partitions the catalogue by direction.
var allowed = map[Direction]map[Kind]bool{
	ToCoordinator: {
		KindHello: true, KindConfig: true, KindMapUIDMismatch: true,
		KindWaiting: true, KindMap: true, KindState: true, KindResync: true,
		KindGoodBye: true, KindSeeYou: true, KindGo: true, KindIAmHere: true,
	},
	ToPeer: {
		KindConfig: true, KindEngineMismatch: true, KindProtocolMismatch: true,
		KindGameFull: true, KindWelcome: true, KindWaiting: true, KindMap: true,
		KindState: true, KindResync: true, KindServerQuit: true,
		KindGoodBye: true, KindGo: true, KindAreYouThere: true,
	},
}

// Allowed reports whether k may travel in direction d.
func Allowed(d Direction, k Kind) bool { return allowed[d][k] }

// Encoded sizes, header included.
const (
	SizeEmpty    = HeaderSize
	SizeHello    = HeaderSize + setup.NameSize + 4 + 4
	SizeMismatch = HeaderSize + 4
	SizeMap      = HeaderSize + PathSize + 4
	SizeWelcome  = HeaderSize + 2 + setup.RosterSize
	SizeState    = HeaderSize + setup.RecordSize
	SizeConfig   = HeaderSize + setup.RosterSize + setup.RecordSize
)

// SizeOf returns the declared size of a subtype, or 0 for unknown subtypes.
func SizeOf(k Kind) int {
	switch k {
	case KindHello:
		return SizeHello
	case KindEngineMismatch, KindProtocolMismatch:
		return SizeMismatch
	case KindMap, KindMapUIDMismatch:
		return SizeMap
	case KindWelcome:
		return SizeWelcome
	case KindState:
		return SizeState
	case KindConfig, KindResync:
		return SizeConfig
	case KindGameFull, KindWaiting, KindServerQuit, KindGoodBye, KindSeeYou,
		KindGo, KindAreYouThere, KindIAmHere:
		return SizeEmpty
	default:
		return 0
	}
}
