// Package match holds the collaborators the lobby hands off to: the local
// map check and the match start.
package match

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobbysync/internal/protocol"
	"github.com/DoyleJ11/lobbysync/internal/setup"
)

var ErrUnsafePath = errors.New("map path not allowed")

// Validator checks that a map exists locally and returns its checksum.
type Validator interface {
	Validate(path string) (ok bool, checksum uint32)
}

type ValidatorFunc func(path string) (bool, uint32)

func (f ValidatorFunc) Validate(path string) (bool, uint32) { return f(path) }

// Starter begins the match once the handshake is complete.
type Starter interface {
	Start(roster setup.Roster, rec setup.Record)
}

type StarterFunc func(roster setup.Roster, rec setup.Record)

func (f StarterFunc) Start(roster setup.Roster, rec setup.Record) { f(roster, rec) }

// Checksum folds the 64-bit xxhash of a map file into the wire's u32.
func Checksum(b []byte) uint32 {
	h := xxhash.Sum64(b)
	return uint32(h>>32) ^ uint32(h)
}

// Files validates maps stored under one directory.
type Files struct {
	FS fs.FS
}

func NewFiles(dir string) Files { return Files{FS: os.DirFS(dir)} }

func (f Files) Validate(path string) (bool, uint32) {
	if !protocol.SafePath(path) {
		return false, 0
	}
	b, err := fs.ReadFile(f.FS, path)
	if err != nil {
		return false, 0
	}
	return true, Checksum(b)
}

// Describe builds the descriptor a coordinator offers for path.
func (f Files) Describe(path string) (protocol.Map, error) {
	if !protocol.SafePath(path) {
		return protocol.Map{}, fmt.Errorf("%q: %w", path, ErrUnsafePath)
	}
	b, err := fs.ReadFile(f.FS, path)
	if err != nil {
		return protocol.Map{}, fmt.Errorf("read map: %w", err)
	}
	return protocol.Map{Path: path, Checksum: Checksum(b)}, nil
}

// LogStarter reports the final roster and record. The match itself runs
// elsewhere.
func LogStarter(log *zap.Logger) Starter {
	log = log.Named("match")
	return StarterFunc(func(roster setup.Roster, rec setup.Record) {
		names := make([]string, 0, setup.MaxSlots)
		for _, e := range roster {
			if !e.Empty() {
				names = append(names, e.Name)
			}
		}
		log.Info("match starting",
			zap.Strings("players", names),
			zap.Uint8("game_type", rec.GameType),
			zap.Uint8("difficulty", rec.Difficulty),
		)
	})
}
