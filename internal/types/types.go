package types

import ptypes "github.com/DoyleJ11/lobbysync/pkg/types"

type ClientMessage struct {
	Type   string `json:"type"`
	Option string `json:"option,omitempty"`
	Value  uint8  `json:"value,omitempty"`
	Ready  bool   `json:"ready,omitempty"`
	Race   uint8  `json:"race,omitempty"`
	Slot   int    `json:"slot,omitempty"`
}

type ServerMessage struct {
	Type     string           `json:"type"` // "StateSnapshot" | "Error"
	Version  int              `json:"version,omitempty"`
	Snapshot *ptypes.Snapshot `json:"snapshot,omitempty"`
	Error    string           `json:"error,omitempty"`
}
