package protocol

import "strings"

// SafePath reports whether a map path received from the network may be used
// to open a local file. Only relative paths over [A-Za-z0-9._/-] without
// ".." or "//" pass.
func SafePath(path string) bool {
	if path == "" || len(path) >= PathSize {
		return false
	}
	if strings.Contains(path, "..") || strings.Contains(path, "//") || strings.HasPrefix(path, "/") {
		return false
	}
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '/', c == '-':
		default:
			return false
		}
	}
	return true
}
