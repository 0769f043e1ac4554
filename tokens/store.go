package tokens

import "context"

const (
	// PrimaryKey is the storage key holding the structured JSON record.
	PrimaryKey = "oauth_tokens"
	// MirrorKey is the legacy storage key holding a plain-string copy of
	// the access token for older readers. It is derived, write-through and
	// never the source of truth.
	MirrorKey = "manual_token"
)

// Store is durable key/value persistence for the token record. It survives
// process restarts and, depending on the backend, is visible to other
// processes, which is how manual or test injection becomes observable.
//
// Save writes the primary record first and the legacy mirror second, so a
// failure never leaves a mirrored access token without a matching record.
// Load returns (nil, nil) when nothing is stored and a persistence error
// when the stored data is unreadable; it does not judge record shape, that
// is the caller's policy. Clear removes both keys and is idempotent.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context) (*Record, error)
	Clear(ctx context.Context) error
}
