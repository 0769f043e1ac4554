package tokens

import "sync"

// Event is the payload delivered to subscribers on an authentication-state
// change.
type Event struct {
	Authenticated bool
	// Record is a copy of the current token record, present only while
	// authenticated.
	Record *Record
}

// Notifier is a process-wide publish mechanism for authentication-state
// transitions. Delivery is at-least-once; rapid successive transitions
// coalesce into a single notification carrying the latest status, and a
// callback is never invoked with a stale status.
type Notifier struct {
	// dispatchMu serializes whole deliveries: the last-status update and
	// the callback fan-out happen atomically with respect to other
	// publishes, so an older status can never arrive after a newer one.
	dispatchMu sync.Mutex

	mu     sync.Mutex
	subs   map[int]func(Event)
	nextID int
	last   *bool
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(Event))}
}

// Subscribe registers a callback invoked whenever the authenticated value
// changes. The returned function unsubscribes; calling it more than once is
// harmless.
func (n *Notifier) Subscribe(fn func(Event)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Publish delivers the event to all subscribers if the authenticated value
// differs from the last delivered one. Equal statuses are coalesced away.
// Concurrent publishes are serialized whole, so the status a subscriber
// last observed is always the most recently published one. Callbacks may
// subscribe and unsubscribe but must not publish.
func (n *Notifier) Publish(ev Event) {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	n.mu.Lock()
	if n.last != nil && *n.last == ev.Authenticated {
		n.mu.Unlock()
		return
	}
	status := ev.Authenticated
	n.last = &status

	fns := make([]func(Event), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	// Callbacks run outside the subscription lock so a subscriber may
	// unsubscribe or query the manager without deadlocking.
	for _, fn := range fns {
		fn(ev)
	}
}
