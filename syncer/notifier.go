package syncer

import "sync"

// Notifier tracks connectivity and fans out offline-to-online edges to
// subscribers. The dashboard shell feeds it the platform's online/offline
// signal.
type Notifier struct {
	mu     sync.Mutex
	online bool
	subs   []chan struct{}
}

// NewNotifier creates a notifier with the given initial connectivity.
func NewNotifier(online bool) *Notifier {
	return &Notifier{online: online}
}

// Online reports current connectivity.
func (n *Notifier) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// SetOnline updates connectivity. An offline-to-online edge notifies every
// subscriber; sends never block, a subscriber that already has a pending
// notification keeps just the one.
func (n *Notifier) SetOnline(online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	wasOnline := n.online
	n.online = online

	if online && !wasOnline {
		for _, ch := range n.subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribe returns a channel receiving one value per offline-to-online edge.
// Callers must Unsubscribe when done or the channel is signaled forever.
func (n *Notifier) Subscribe() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan struct{}, 1)
	n.subs = append(n.subs, ch)
	return ch
}

// Unsubscribe removes a channel previously returned by Subscribe. A signal
// already buffered on the channel remains readable.
func (n *Notifier) Unsubscribe(ch <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, sub := range n.subs {
		if sub == ch {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			return
		}
	}
}
