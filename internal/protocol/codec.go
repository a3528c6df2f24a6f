package protocol

import (
	"fmt"

	"github.com/DoyleJ11/lobbysync/internal/wire"
)

// Marshal encodes m behind a header for direction d.
func Marshal(d Direction, m Message) []byte {
	w := wire.NewWriter(m.Size())
	w.PutU8(uint8(d))
	w.PutU8(uint8(m.Kind()))
	m.encode(w)
	return w.Bytes()
}

// Unmarshal decodes one datagram. It never trusts the input: an unknown
// direction or subtype, a subtype travelling the wrong way, or a length other
// than the subtype's Size all yield an error wrapping wire.ErrMalformed.
func Unmarshal(b []byte) (Direction, Message, error) {
	if len(b) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: %d byte datagram has no header", wire.ErrMalformed, len(b))
	}
	d, k := Direction(b[0]), Kind(b[1])
	if d != ToCoordinator && d != ToPeer {
		return 0, nil, fmt.Errorf("%w: direction %d", wire.ErrMalformed, b[0])
	}
	proto := Blank(k)
	if proto == nil {
		return 0, nil, fmt.Errorf("%w: subtype %d", wire.ErrMalformed, b[1])
	}
	if !Allowed(d, k) {
		return 0, nil, fmt.Errorf("%w: %s not allowed %s", wire.ErrMalformed, k, d)
	}
	if len(b) != proto.Size() {
		return 0, nil, fmt.Errorf("%w: %s is %d bytes, want %d", wire.ErrMalformed, k, len(b), proto.Size())
	}

	r := wire.NewReader(b[HeaderSize:])
	m := proto.decode(r)
	if err := r.Done(); err != nil {
		return 0, nil, fmt.Errorf("decode %s: %w", k, err)
	}
	return d, m, nil
}
