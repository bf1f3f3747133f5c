package room

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"care-coordination-server/internal/apperr"
)

const (
	tokenSep    = "-"
	tokenParts  = 3
	idSegment   = 1
	suffixBytes = 12
)

// NewToken builds a room token "{prefix}-{appointmentID}-{suffix}". The
// suffix is random so tokens are not enumerable, but the token is only a
// lookup key; access is decided by Gate on every join.
func NewToken(prefix string, appointmentID uint64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixBytes]
	return prefix + tokenSep + strconv.FormatUint(appointmentID, 10) + tokenSep + suffix
}

// ParseToken extracts the appointment id from the fixed id segment.
func ParseToken(prefix, token string) (uint64, error) {
	parts := strings.Split(strings.TrimSpace(token), tokenSep)
	if len(parts) != tokenParts {
		return 0, fmt.Errorf("%w: expected %d segments, got %d", apperr.ErrInvalidToken, tokenParts, len(parts))
	}
	if parts[0] != prefix {
		return 0, fmt.Errorf("%w: unknown prefix %q", apperr.ErrInvalidToken, parts[0])
	}
	if parts[2] == "" {
		return 0, fmt.Errorf("%w: empty suffix", apperr.ErrInvalidToken)
	}
	id, err := strconv.ParseUint(parts[idSegment], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad appointment id %q", apperr.ErrInvalidToken, parts[idSegment])
	}
	return id, nil
}
