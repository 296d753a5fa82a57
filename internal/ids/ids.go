// Package ids mints and validates the short random identifiers used for
// games and sessions.
//
// Identifiers are a fixed prefix plus eight lowercase hex characters, e.g.
// "game-1a2b3c4d". The hex part comes from four bytes of entropy, which is
// plenty for the per-installation populations these name (saved games on one
// server, live sessions on one process).
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
)

// pattern matches every identifier this package mints, plus the user ids
// accepted from clients.
var pattern = regexp.MustCompile(`^(game|sess|user)-[0-9a-f]{8}$`)

// Generator mints prefixed random identifiers.
//
// The zero value reads from crypto/rand and is ready to use. Tests may set
// Rand to a deterministic source.
type Generator struct {
	// Rand is the entropy source. Nil means crypto/rand.Reader.
	Rand io.Reader
}

// NewGameID mints a fresh game identifier ("game-" + 8 hex chars).
func (g *Generator) NewGameID() (string, error) {
	return g.newID("game")
}

// NewSessionID mints a fresh session identifier ("sess-" + 8 hex chars).
func (g *Generator) NewSessionID() (string, error) {
	return g.newID("sess")
}

func (g *Generator) newID(prefix string) (string, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("ids: read entropy: %w", err)
	}
	return prefix + "-" + hex.EncodeToString(buf), nil
}

// Valid reports whether id is a well-formed game, session, or user
// identifier. Anything else (wrong prefix, uppercase hex, wrong length) is
// rejected before it can reach the filesystem layer.
func Valid(id string) bool {
	return pattern.MatchString(id)
}
