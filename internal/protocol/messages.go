package protocol

import (
	"github.com/DoyleJ11/lobbysync/internal/setup"
	"github.com/DoyleJ11/lobbysync/internal/wire"
)

// Message is one catalogue entry. The set is closed: only types in this file
// implement it.
type Message interface {
	Kind() Kind
	Size() int
	encode(w *wire.Writer)
	decode(r *wire.Reader) Message
}

// Hello opens a handshake.
type Hello struct {
	Name     string
	Engine   int32
	Protocol int32
}

// Config carries the launch configuration; the peer echoes it back.
type Config struct {
	Roster setup.Roster
	Setup  setup.Record
}

// EngineMismatch rejects a hello; Version is the coordinator's.
type EngineMismatch struct{ Version int32 }

// ProtocolMismatch rejects a hello; Version is the coordinator's.
type ProtocolMismatch struct{ Version int32 }

// MapUIDMismatch reports a map the peer refused.
type MapUIDMismatch struct {
	Path     string
	Checksum uint32
}

type GameFull struct{}

// Welcome accepts a hello and assigns a seat.
type Welcome struct {
	Slot   uint16
	Roster setup.Roster
}

type Waiting struct{}

// Map describes the map for the match; the peer echoes it to acknowledge.
type Map struct {
	Path     string
	Checksum uint32
}

// State carries the full setup record.
type State struct {
	Setup setup.Record
}

// Resync requests (peer) or delivers (coordinator) the current roster and
// setup record.
type Resync struct {
	Roster setup.Roster
	Setup  setup.Record
}

type ServerQuit struct{}
type GoodBye struct{}
type SeeYou struct{}
type Go struct{}
type AreYouThere struct{}
type IAmHere struct{}

func (Hello) Kind() Kind { return KindHello }
func (Config) Kind() Kind { return KindConfig }
func (EngineMismatch) Kind() Kind { return KindEngineMismatch }
func (ProtocolMismatch) Kind() Kind { return KindProtocolMismatch }
func (MapUIDMismatch) Kind() Kind { return KindMapUIDMismatch }
func (GameFull) Kind() Kind { return KindGameFull }
func (Welcome) Kind() Kind { return KindWelcome }
func (Waiting) Kind() Kind { return KindWaiting }
func (Map) Kind() Kind { return KindMap }
func (State) Kind() Kind { return KindState }
func (Resync) Kind() Kind { return KindResync }
func (ServerQuit) Kind() Kind { return KindServerQuit }
func (GoodBye) Kind() Kind { return KindGoodBye }
func (SeeYou) Kind() Kind { return KindSeeYou }
func (Go) Kind() Kind { return KindGo }
func (AreYouThere) Kind() Kind { return KindAreYouThere }
func (IAmHere) Kind() Kind { return KindIAmHere }

func (Hello) Size() int { return SizeHello }
func (Config) Size() int { return SizeConfig }
func (EngineMismatch) Size() int { return SizeMismatch }
func (ProtocolMismatch) Size() int { return SizeMismatch }
func (MapUIDMismatch) Size() int { return SizeMap }
func (GameFull) Size() int { return SizeEmpty }
func (Welcome) Size() int { return SizeWelcome }
func (Waiting) Size() int { return SizeEmpty }
func (Map) Size() int { return SizeMap }
func (State) Size() int { return SizeState }
func (Resync) Size() int { return SizeConfig }
func (ServerQuit) Size() int { return SizeEmpty }
func (GoodBye) Size() int { return SizeEmpty }
func (SeeYou) Size() int { return SizeEmpty }
func (Go) Size() int { return SizeEmpty }
func (AreYouThere) Size() int { return SizeEmpty }
func (IAmHere) Size() int { return SizeEmpty }

func (m Hello) encode(w *wire.Writer) {
	setup.PutName(w, m.Name)
	w.PutI32(m.Engine)
	w.PutI32(m.Protocol)
}

func (Hello) decode(r *wire.Reader) Message {
	return Hello{Name: setup.ReadName(r), Engine: r.I32(), Protocol: r.I32()}
}

func (m Config) encode(w *wire.Writer) {
	m.Roster.Encode(w)
	m.Setup.Encode(w)
}

func (Config) decode(r *wire.Reader) Message {
	return Config{Roster: setup.DecodeRoster(r), Setup: setup.DecodeRecord(r)}
}

func (m EngineMismatch) encode(w *wire.Writer) { w.PutI32(m.Version) }
func (EngineMismatch) decode(r *wire.Reader) Message {
	return EngineMismatch{Version: r.I32()}
}

func (m ProtocolMismatch) encode(w *wire.Writer) { w.PutI32(m.Version) }
func (ProtocolMismatch) decode(r *wire.Reader) Message {
	return ProtocolMismatch{Version: r.I32()}
}

func (m MapUIDMismatch) encode(w *wire.Writer) { putMap(w, m.Path, m.Checksum) }
func (MapUIDMismatch) decode(r *wire.Reader) Message {
	path, sum := readMap(r)
	return MapUIDMismatch{Path: path, Checksum: sum}
}

func (m Welcome) encode(w *wire.Writer) {
	w.PutU16(m.Slot)
	m.Roster.Encode(w)
}

func (Welcome) decode(r *wire.Reader) Message {
	slot := r.U16()
	if r.Err() == nil && (slot == setup.HostSlot || slot >= setup.MaxSlots) {
		r.Invalid("welcome assigns slot %d", slot)
	}
	return Welcome{Slot: slot, Roster: setup.DecodeRoster(r)}
}

func (m Map) encode(w *wire.Writer) { putMap(w, m.Path, m.Checksum) }
func (Map) decode(r *wire.Reader) Message {
	path, sum := readMap(r)
	return Map{Path: path, Checksum: sum}
}

func (m State) encode(w *wire.Writer) { m.Setup.Encode(w) }
func (State) decode(r *wire.Reader) Message {
	return State{Setup: setup.DecodeRecord(r)}
}

func (m Resync) encode(w *wire.Writer) {
	m.Roster.Encode(w)
	m.Setup.Encode(w)
}

func (Resync) decode(r *wire.Reader) Message {
	return Resync{Roster: setup.DecodeRoster(r), Setup: setup.DecodeRecord(r)}
}

func (GameFull) encode(*wire.Writer) {}
func (GameFull) decode(*wire.Reader) Message { return GameFull{} }
func (Waiting) encode(*wire.Writer) {}
func (Waiting) decode(*wire.Reader) Message { return Waiting{} }
func (ServerQuit) encode(*wire.Writer) {}
func (ServerQuit) decode(*wire.Reader) Message { return ServerQuit{} }
func (GoodBye) encode(*wire.Writer) {}
func (GoodBye) decode(*wire.Reader) Message { return GoodBye{} }
func (SeeYou) encode(*wire.Writer) {}
func (SeeYou) decode(*wire.Reader) Message { return SeeYou{} }
func (Go) encode(*wire.Writer) {}
func (Go) decode(*wire.Reader) Message { return Go{} }
func (AreYouThere) encode(*wire.Writer) {}
func (AreYouThere) decode(*wire.Reader) Message { return AreYouThere{} }
func (IAmHere) encode(*wire.Writer) {}
func (IAmHere) decode(*wire.Reader) Message { return IAmHere{} }

func putMap(w *wire.Writer, path string, sum uint32) {
	w.PutFixed([]byte(path), PathSize)
	w.PutU32(sum)
}

func readMap(r *wire.Reader) (string, uint32) {
	path := string(r.Fixed(PathSize))
	return path, r.U32()
}

// Blank returns the zero message of a subtype, or nil for an unknown one.
func Blank(k Kind) Message {
	switch k {
	case KindHello:
		return Hello{}
	case KindConfig:
		return Config{}
	case KindEngineMismatch:
		return EngineMismatch{}
	case KindProtocolMismatch:
		return ProtocolMismatch{}
	case KindMapUIDMismatch:
		return MapUIDMismatch{}
	case KindGameFull:
		return GameFull{}
	case KindWelcome:
		return Welcome{}
	case KindWaiting:
		return Waiting{}
	case KindMap:
		return Map{}
	case KindState:
		return State{}
	case KindResync:
		return Resync{}
	case KindServerQuit:
		return ServerQuit{}
	case KindGoodBye:
		return GoodBye{}
	case KindSeeYou:
		return SeeYou{}
	case KindGo:
		return Go{}
	case KindAreYouThere:
		return AreYouThere{}
	case KindIAmHere:
		return IAmHere{}
	default:
		return nil
	}
}
