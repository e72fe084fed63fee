package domain

import (
	"errors"
	"strings"
)

const MaxSessionIDLen = 64

var ErrSessionIDEmpty = errors.New("session id empty")

type SessionID string

// NewSessionID keeps only [A-Za-z0-9_-] from raw and truncates the result
// to MaxSessionIDLen.
func NewSessionID(raw string) (SessionID, error) {
	var b strings.Builder
	for _, r := range raw {
		if b.Len() >= MaxSessionIDLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", ErrSessionIDEmpty
	}
	return SessionID(b.String()), nil
}
