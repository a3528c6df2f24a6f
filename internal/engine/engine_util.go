package engine

import "github.com/DoyleJ11/lobbysync/internal/protocol"

// ContainsKind reports whether effects send a message of the given kind.
func ContainsKind(effects []Effect, kind protocol.Kind) bool {
	for _, e := range effects {
		if s, ok := e.(Send); ok && s.Msg.Kind() == kind {
			return true
		}
	}
	return false
}
