package types

// Browser -> Server (/ws, coordinator only)
// SetOption:
//   option: "resources" | "units" | "fog_of_war" | "reveal_map" | "tileset" |
//           "game_type" | "difficulty" | "map_richness" | "opponents"
//   value: number (0..255)
//
// SetChoice (host seat):
//   ready: boolean
//   race: number
//
// Kick:
//   slot: number (1..7)
//
// Launch: {}

// Server -> Browser
// StateSnapshot:
//   version: number
//   snapshot: Snapshot
//
// Error:
//   error: string
