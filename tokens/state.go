package tokens

// State is the manager's view of the stored credentials.
type State string

const (
	// StateUnauthenticated means no record is stored.
	StateUnauthenticated State = "unauthenticated"
	// StateValid means the stored access token is usable as-is.
	StateValid State = "valid"
	// StateExpiringSoon means the token is within the skew threshold of
	// expiry and should be refreshed proactively.
	StateExpiringSoon State = "expiring_soon"
	// StateExpired means the token is past its absolute expiry.
	StateExpired State = "expired"
	// StateRefreshing means a refresh is in flight.
	StateRefreshing State = "refreshing"
	// StateError means the last refresh or reload failed and any stale
	// record has been cleared.
	StateError State = "error"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Authenticated reports whether the state counts as authenticated. A refresh
// in flight still counts, so consumers do not flicker to logged-out while a
// renewal is running.
func (s State) Authenticated() bool {
	switch s {
	case StateValid, StateExpiringSoon, StateRefreshing:
		return true
	default:
		return false
	}
}
