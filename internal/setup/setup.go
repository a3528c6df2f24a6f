// Package setup holds the replicated match configuration and the roster of
// occupied seats, together with their wire encodings.
package setup

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/lobbysync/internal/wire"
)

// MaxSlots is the fixed seat ceiling of a session. Slot 0 belongs to the
// coordinator itself.
const MaxSlots = 8

// HostSlot is the coordinator's own seat.
const HostSlot = 0

var ErrUnknownOption = errors.New("unknown option")
var ErrSlotRange = errors.New("slot out of range")

type Option string

const (
	OptResources   Option = "resources"
	OptUnits       Option = "units"
	OptFogOfWar    Option = "fog_of_war"
	OptRevealMap   Option = "reveal_map"
	OptTileset     Option = "tileset"
	OptGameType    Option = "game_type"
	OptDifficulty  Option = "difficulty"
	OptMapRichness Option = "map_richness"
	OptOpponents   Option = "opponents"
)

// Options lists every option in wire order.
var Options = []Option{
	OptResources, OptUnits, OptFogOfWar, OptRevealMap, OptTileset,
	OptGameType, OptDifficulty, OptMapRichness, OptOpponents,
}

// Record is the match configuration. Exactly one authoritative copy lives on
// the coordinator; peers cache the last copy they were sent.
type Record struct {
	ResourcesOption  uint8
	UnitsOption      uint8
	FogOfWar         uint8
	RevealMap        uint8
	TilesetSelection uint8
	GameType         uint8
	Difficulty       uint8
	MapRichness      uint8
	OpponentsCount   uint8

	CompOption [MaxSlots]uint8
	Ready      [MaxSlots]uint8
	Race       [MaxSlots]uint8
}

// RecordSize is the encoded size of a Record.
const RecordSize = 9*wire.SizeU8 + 3*(wire.SizeU16+MaxSlots)

// Choice is the part of a Record a peer may edit for its own seat.
type Choice struct {
	Ready bool
	Race  uint8
}

func (r Record) ChoiceOf(slot int) Choice {
	if slot < 0 || slot >= MaxSlots {
		return Choice{}
	}
	return Choice{Ready: r.Ready[slot] != 0, Race: r.Race[slot]}
}

// WithChoice returns a copy of r with slot's choice replaced.
func (r Record) WithChoice(slot int, c Choice) Record {
	if slot < 0 || slot >= MaxSlots {
		return r
	}
	r.Ready[slot] = 0
	if c.Ready {
		r.Ready[slot] = 1
	}
	r.Race[slot] = c.Race
	return r
}

// ClearSlot resets every per-seat field of slot.
func (r Record) ClearSlot(slot int) Record {
	if slot < 0 || slot >= MaxSlots {
		return r
	}
	r.CompOption[slot] = 0
	r.Ready[slot] = 0
	r.Race[slot] = 0
	return r
}

func (r *Record) option(o Option) (*uint8, error) {
	switch o {
	case OptResources:
		return &r.ResourcesOption, nil
	case OptUnits:
		return &r.UnitsOption, nil
	case OptFogOfWar:
		return &r.FogOfWar, nil
	case OptRevealMap:
		return &r.RevealMap, nil
	case OptTileset:
		return &r.TilesetSelection, nil
	case OptGameType:
		return &r.GameType, nil
	case OptDifficulty:
		return &r.Difficulty, nil
	case OptMapRichness:
		return &r.MapRichness, nil
	case OptOpponents:
		return &r.OpponentsCount, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOption, o)
	}
}

// WithOption returns a copy of r with one option set.
func (r Record) WithOption(o Option, v uint8) (Record, error) {
	p, err := r.option(o)
	if err != nil {
		return r, err
	}
	*p = v
	return r, nil
}

// Option reads one option by name.
func (r Record) Option(o Option) (uint8, error) {
	p, err := r.option(o)
	if err != nil {
		return 0, err
	}
	return *p, nil
}

// Encode appends the wire form of r.
func (r Record) Encode(w *wire.Writer) {
	for _, o := range Options {
		v, _ := r.Option(o)
		w.PutU8(v)
	}
	w.PutBytes(r.CompOption[:])
	w.PutBytes(r.Ready[:])
	w.PutBytes(r.Race[:])
}

// DecodeRecord reads a Record. Every per-seat array must hold exactly
// MaxSlots bytes.
func DecodeRecord(rd *wire.Reader) Record {
	var r Record
	for _, o := range Options {
		p, _ := r.option(o)
		*p = rd.U8()
	}
	readSeats(rd, &r.CompOption)
	readSeats(rd, &r.Ready)
	readSeats(rd, &r.Race)
	return r
}

func readSeats(rd *wire.Reader, dst *[MaxSlots]uint8) {
	rd.Count(MaxSlots)
	for i := range dst {
		dst[i] = rd.U8()
	}
}
