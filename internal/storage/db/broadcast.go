package db

import (
	"sync"

	"github.com/nainya/triplestore/internal/types"
)

// notificationBuffer is the per-subscriber channel depth, mirroring a
// bounded broadcast channel's capacity. Once a subscriber's channel is
// full, further notifications are dropped for that subscriber; it stays
// subscribed and receives no signal that it missed them.
const notificationBuffer = 256

// subscriber receives every committed change except the ones it
// originated itself.
type subscriber struct {
	connID types.ConnectionID
	ch     chan types.ChangeNotification
}

// broadcaster fans out committed-transaction notifications to every live
// watcher, skipping a notification for the connection that produced it.
// Go has no stdlib or pack-wide broadcast-channel equivalent to a
// tokio::broadcast, so this hub is hand-rolled, modeled on the
// exclude_connection_id skip-loop described for FilteredChangeReceiver.
type broadcaster struct {
	mu   sync.Mutex
	subs map[types.ConnectionID]*subscriber
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[types.ConnectionID]*subscriber)}
}

// Subscribe registers connID for every future notification not
// originated by connID itself. The returned channel must be drained by
// the caller; Unsubscribe removes and closes it.
func (b *broadcaster) Subscribe(connID types.ConnectionID) <-chan types.ChangeNotification {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{connID: connID, ch: make(chan types.ChangeNotification, notificationBuffer)}
	b.subs[connID] = sub
	return sub.ch
}

// Unsubscribe removes connID's feed and closes its channel.
func (b *broadcaster) Unsubscribe(connID types.ConnectionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[connID]; ok {
		delete(b.subs, connID)
		close(sub.ch)
	}
}

// Publish delivers n to every subscriber except the one that produced it.
// A subscriber whose channel is full (it isn't draining fast enough) has
// this notification dropped for it rather than blocking the committing
// writer.
func (b *broadcaster) Publish(n types.ChangeNotification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for connID, sub := range b.subs {
		if connID == n.SourceConnectionID {
			continue
		}
		select {
		case sub.ch <- n:
		default:
		}
	}
}
