package types

// Snapshot is the observer view of one session. It is served as JSON on
// /lobby and streamed on /ws.
type Snapshot struct {
	Version int              `json:"version"`
	Role    string           `json:"role"`  // "coordinator" | "peer"
	State   string           `json:"state"` // session phase or peer state
	Reason  string           `json:"reason,omitempty"`
	Slot    int              `json:"slot"` // own seat, -1 before welcome
	Map     MapInfo          `json:"map"`
	Options map[string]uint8 `json:"options"`
	Seats   []Seat           `json:"seats"`
}

type MapInfo struct {
	Path     string `json:"path"`
	Checksum uint32 `json:"checksum"`
}

// Seat is one occupied roster slot.
type Seat struct {
	Slot       int    `json:"slot"`
	Name       string `json:"name"`
	Addr       string `json:"addr,omitempty"`
	State      string `json:"state,omitempty"`
	Ready      bool   `json:"ready"`
	Race       uint8  `json:"race"`
	CompOption uint8  `json:"comp_option"`
}
