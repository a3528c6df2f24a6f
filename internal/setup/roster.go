package setup

import (
	"bytes"
	"net/netip"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/DoyleJ11/lobbysync/internal/wire"
)

// NameSize is the char[] width of a display name on the wire; names keep at
// most NameSize-1 bytes.
const NameSize = 16

// EntrySize is the encoded size of one roster seat.
const EntrySize = wire.SizeU32 + wire.SizeU16 + wire.SizeU16 + NameSize

// RosterSize is the encoded size of a full roster.
const RosterSize = wire.SizeU16 + MaxSlots*EntrySize

// Entry identifies the participant holding one seat. The zero Entry marks an
// unused seat.
type Entry struct {
	Addr netip.AddrPort
	Slot uint16
	Name string
}

func (e Entry) Empty() bool { return e.Name == "" }

// Roster is the bounded seat table. Index i always describes slot i.
type Roster [MaxSlots]Entry

// FreeSlot returns the first unclaimed peer seat.
func (r Roster) FreeSlot() (int, bool) {
	for i := HostSlot + 1; i < MaxSlots; i++ {
		if r[i].Empty() {
			return i, true
		}
	}
	return 0, false
}

// Find returns the seat held by addr.
func (r Roster) Find(addr netip.AddrPort) (int, bool) {
	for i, e := range r {
		if i == HostSlot || e.Empty() {
			continue
		}
		if e.Addr == addr {
			return i, true
		}
	}
	return 0, false
}

// Occupied counts claimed seats, the host's included.
func (r Roster) Occupied() int {
	n := 0
	for _, e := range r {
		if !e.Empty() {
			n++
		}
	}
	return n
}

var nameEncoder = encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder())

// NormalizeName is what a display name looks like after a trip over the wire.
func NormalizeName(name string) string {
	b := encodeName(name)
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

func encodeName(name string) []byte {
	b, err := nameEncoder.Bytes([]byte(name))
	if err != nil {
		return nil
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if len(b) > NameSize-1 {
		b = b[:NameSize-1]
	}
	return b
}

// PutName writes a display name as Latin-1 char[NameSize].
func PutName(w *wire.Writer, name string) {
	w.PutFixed(encodeName(name), NameSize)
}

// ReadName reads a char[NameSize] display name.
func ReadName(r *wire.Reader) string {
	b := r.Fixed(NameSize)
	if len(b) == 0 {
		return ""
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

func (e Entry) encode(w *wire.Writer) {
	if e.Empty() {
		w.PutU32(0)
		w.PutU16(0)
		w.PutU16(0)
		w.PutFixed(nil, NameSize)
		return
	}
	var ip uint32
	if a := e.Addr.Addr().Unmap(); a.Is4() {
		b := a.As4()
		ip = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	w.PutU32(ip)
	w.PutU16(e.Addr.Port())
	w.PutU16(e.Slot)
	PutName(w, e.Name)
}

func decodeEntry(r *wire.Reader) Entry {
	ip := r.U32()
	port := r.U16()
	slot := r.U16()
	name := ReadName(r)
	if name == "" {
		return Entry{}
	}
	var addr netip.AddrPort
	if ip != 0 || port != 0 {
		addr = netip.AddrPortFrom(netip.AddrFrom4([4]byte{
			byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip),
		}), port)
	}
	return Entry{Addr: addr, Slot: slot, Name: name}
}

// Encode appends the roster as a counted array of seats.
func (r Roster) Encode(w *wire.Writer) {
	w.PutU16(MaxSlots)
	for _, e := range r {
		e.encode(w)
	}
}

// DecodeRoster reads a roster; an occupied seat must carry its own index.
func DecodeRoster(rd *wire.Reader) Roster {
	var r Roster
	rd.Count(MaxSlots)
	for i := range r {
		e := decodeEntry(rd)
		if !e.Empty() && int(e.Slot) != i {
			rd.Invalid("seat %d claims slot %d", i, e.Slot)
			return Roster{}
		}
		r[i] = e
	}
	return r
}

// Wire returns the roster as a peer decodes it: addresses the wire cannot
// carry become zero, names are normalized.
func (r Roster) Wire() Roster {
	w := wire.NewWriter(RosterSize)
	r.Encode(w)
	return DecodeRoster(wire.NewReader(w.Bytes()))
}
