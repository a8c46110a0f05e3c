package room

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/BioHazard786/livestream/internal/errs"
)

const (
	idLength    = 8
	maxIDLength = 128
)

// NewID returns a fresh room code: the first eight hex characters of a
// random UUID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
}

// NewParticipantID returns a session-scoped participant identifier.
func NewParticipantID() string {
	return uuid.NewString()
}

// ParseID trims a user supplied room code and rejects codes that are
// empty or could not be used as a single store path segment.
func ParseID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", errs.Wrap("parse room id", errs.ErrInvalidRoomID, "empty")
	}
	if len(id) > maxIDLength {
		return "", errs.Wrap("parse room id", errs.ErrInvalidRoomID, fmt.Sprintf("longer than %d characters", maxIDLength))
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune("/.#$[]+*", r) {
			return "", errs.Wrap("parse room id", errs.ErrInvalidRoomID, fmt.Sprintf("unexpected character %q", r))
		}
	}
	return id, nil
}
