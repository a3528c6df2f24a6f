package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Exitf reports a startup failure on stderr, tagged with the binary name,
// and exits with code 1. It is for main only; nothing is logged yet.
func Exitf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, exitMessage(format, args...))
	os.Exit(1)
}

func exitMessage(format string, args ...any) string {
	return fmt.Sprintf("lobbysync/%s: %s", filepath.Base(os.Args[0]), fmt.Sprintf(format, args...))
}
