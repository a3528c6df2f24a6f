package setup

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/lobbysync/internal/wire"
)

func TestRecord_WithChoice(t *testing.T) {
	var r Record
	r = r.WithChoice(3, Choice{Ready: true, Race: 2})
	assert.Equal(t, uint8(1), r.Ready[3])
	assert.Equal(t, uint8(2), r.Race[3])
	assert.Equal(t, Choice{Ready: true, Race: 2}, r.ChoiceOf(3))

	r = r.WithChoice(3, Choice{Race: 1})
	assert.Equal(t, uint8(0), r.Ready[3])

	same := r.WithChoice(MaxSlots, Choice{Ready: true})
	assert.Equal(t, r, same, "out of range slot leaves the record alone")
	assert.Equal(t, Choice{}, r.ChoiceOf(-1))
}

func TestRecord_ClearSlot(t *testing.T) {
	var r Record
	r.CompOption[2] = 1
	r = r.WithChoice(2, Choice{Ready: true, Race: 1})
	r = r.ClearSlot(2)
	assert.Equal(t, Record{}, r)
}

func TestRecord_Options(t *testing.T) {
	var r Record
	for i, o := range Options {
		var err error
		r, err = r.WithOption(o, uint8(i+1))
		require.NoError(t, err)
	}
	assert.Equal(t, uint8(1), r.ResourcesOption)
	assert.Equal(t, uint8(3), r.FogOfWar)
	assert.Equal(t, uint8(9), r.OpponentsCount)

	_, err := r.WithOption("weather", 1)
	assert.ErrorIs(t, err, ErrUnknownOption)
	_, err = r.Option("weather")
	assert.ErrorIs(t, err, ErrUnknownOption)
}

func TestRecord_EncodingSize(t *testing.T) {
	w := wire.NewWriter(RecordSize)
	Record{}.Encode(w)
	assert.Equal(t, RecordSize, w.Len())
	assert.Equal(t, 39, RecordSize)

	w = wire.NewWriter(RosterSize)
	Roster{}.Encode(w)
	assert.Equal(t, RosterSize, w.Len())
	assert.Equal(t, 194, RosterSize)
}

func TestRoster_FreeSlotAndFind(t *testing.T) {
	var r Roster
	r[HostSlot] = Entry{Name: "host"}

	slot, ok := r.FreeSlot()
	require.True(t, ok)
	assert.Equal(t, 1, slot)

	alice := netip.MustParseAddrPort("10.0.0.2:6661")
	r[1] = Entry{Addr: alice, Slot: 1, Name: "alice"}
	slot, ok = r.FreeSlot()
	require.True(t, ok)
	assert.Equal(t, 2, slot)

	found, ok := r.Find(alice)
	require.True(t, ok)
	assert.Equal(t, 1, found)

	_, ok = r.Find(netip.MustParseAddrPort("10.0.0.3:6661"))
	assert.False(t, ok)

	for i := 2; i < MaxSlots; i++ {
		r[i] = Entry{Slot: uint16(i), Name: "p"}
	}
	_, ok = r.FreeSlot()
	assert.False(t, ok)
	assert.Equal(t, MaxSlots, r.Occupied())
}

func TestRoster_HostSeatIsNeverMatchedByAddress(t *testing.T) {
	var r Roster
	r[HostSlot] = Entry{Name: "host"}
	_, ok := r.Find(netip.AddrPort{})
	assert.False(t, ok)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Alice", NormalizeName("Alice"))
	assert.Equal(t, "ABCDEFGHIJKLMNO", NormalizeName("ABCDEFGHIJKLMNOPQ"))
	assert.Equal(t, "Zoë", NormalizeName("Zoë"))
	assert.Equal(t, "a", NormalizeName("a\x00b"))
	assert.NotContains(t, NormalizeName("名前"), "名")
}

func TestRoster_IPv6AddressesAreNotRepresentable(t *testing.T) {
	var r Roster
	r[1] = Entry{Addr: netip.MustParseAddrPort("[2001:db8::1]:6661"), Slot: 1, Name: "v6"}
	w := wire.NewWriter(RosterSize)
	r.Encode(w)

	got := DecodeRoster(wire.NewReader(w.Bytes()))
	assert.Equal(t, "v6", got[1].Name)
	assert.Equal(t, uint16(6661), got[1].Addr.Port())
	assert.True(t, got[1].Addr.Addr().IsUnspecified())
}

func TestRoster_V4MappedAddressesRoundTripAsV4(t *testing.T) {
	mapped := netip.AddrPortFrom(netip.AddrFrom16(netip.MustParseAddr("::ffff:10.1.2.3").As16()), 7000)
	var r Roster
	r[4] = Entry{Addr: mapped, Slot: 4, Name: "m"}
	w := wire.NewWriter(RosterSize)
	r.Encode(w)

	got := DecodeRoster(wire.NewReader(w.Bytes()))
	assert.Equal(t, netip.MustParseAddrPort("10.1.2.3:7000"), got[4].Addr)
}

func TestRoster_Wire(t *testing.T) {
	var r Roster
	r[HostSlot] = Entry{Name: "host"}
	r[1] = Entry{Addr: netip.MustParseAddrPort("[2001:db8::1]:6661"), Slot: 1, Name: "Zoë"}
	r[2] = Entry{Addr: netip.MustParseAddrPort("10.0.0.2:6661"), Slot: 2, Name: "bob"}

	got := r.Wire()
	assert.Equal(t, r[HostSlot], got[HostSlot])
	assert.Equal(t, r[2], got[2])
	assert.Equal(t, netip.AddrPortFrom(netip.IPv4Unspecified(), 6661), got[1].Addr)
	assert.Equal(t, got, got.Wire())
}
