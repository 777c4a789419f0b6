package realtime

import "sync"

// Channel is a live server-push connection. On registers handler for kind and returns
// the func that removes that registration.
type Channel interface {
	On(kind EventKind, handler func(Event)) (off func())
	Connected() bool
}

// Notifier forwards the listened event kinds of one Channel to a presentation callback.
// At most one registration per kind exists at any time, so an event is presented exactly once.
type Notifier struct {
	mu      sync.Mutex
	kinds   []EventKind
	ch      Channel
	present func(Event)
	offs    []func()
	gen     int
}

// NewNotifier listens for kinds (all known kinds when empty).
func NewNotifier(kinds ...EventKind) *Notifier {
	if len(kinds) == 0 {
		kinds = []EventKind{KindSessionForceEnded}
	}
	return &Notifier{kinds: kinds}
}

// Attach replaces the channel. An existing mount is moved to the new channel.
func (n *Notifier) Attach(ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.unsubscribe()
	n.ch = ch
	if n.present != nil {
		n.subscribe()
	}
}

// Mount installs present as the presentation callback and returns its teardown.
// Mounting again first tears the previous registration down. Teardown is idempotent and
// does nothing once a newer Mount took over.
func (n *Notifier) Mount(present func(Event)) (teardown func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.unsubscribe()
	n.gen++
	gen := n.gen
	n.present = present
	n.subscribe()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.gen != gen {
			return
		}
		n.unsubscribe()
		n.present = nil
	}
}

// Connected reports whether events can currently be delivered.
func (n *Notifier) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch != nil && n.ch.Connected()
}

func (n *Notifier) subscribe() {
	if n.ch == nil {
		return
	}
	present := n.present
	for _, kind := range n.kinds {
		n.offs = append(n.offs, n.ch.On(kind, func(evt Event) { present(evt) }))
	}
}

func (n *Notifier) unsubscribe() {
	for _, off := range n.offs {
		off()
	}
	n.offs = nil
}
