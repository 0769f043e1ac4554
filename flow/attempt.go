package flow

import (
	"time"

	"github.com/google/uuid"
)

// AttemptTTL bounds one authorization round-trip. It matches the
// user-facing instruction window: a code that arrives later is refused and
// the user starts over.
const AttemptTTL = 5 * time.Minute

// Attempt is the ephemeral record of one authorization round-trip. The
// state token correlates the redirect back with the request that initiated
// it; an attempt is consumed once or discarded after AttemptTTL.
type Attempt struct {
	State    string
	IssuedAt time.Time
}

// NewAttempt generates an attempt with an opaque random state token.
func NewAttempt(now time.Time) *Attempt {
	return &Attempt{
		State:    uuid.NewString(),
		IssuedAt: now,
	}
}

// Expired reports whether the attempt is past its instruction window.
func (a *Attempt) Expired(now time.Time) bool {
	return now.Sub(a.IssuedAt) > AttemptTTL
}
