package api

import "sync"

// Broker fans column snapshots out to the SSE streams watching each board.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a stream for one board's updates. The channel holds a
// single pending snapshot; a newer one replaces it.
func (b *Broker) Subscribe(boardID string) chan []byte {
	ch := make(chan []byte, 1)
	b.mu.Lock()
	if b.subs[boardID] == nil {
		b.subs[boardID] = make(map[chan []byte]struct{})
	}
	b.subs[boardID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe drops a stream's registration.
func (b *Broker) Unsubscribe(boardID string, ch chan []byte) {
	b.mu.Lock()
	if subs, ok := b.subs[boardID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subs, boardID)
		}
	}
	b.mu.Unlock()
}

// Notify delivers a snapshot to every stream watching the board. Slow
// consumers keep only the latest snapshot; intermediate ones are dropped.
func (b *Broker) Notify(boardID string, data []byte) {
	b.mu.Lock()
	for ch := range b.subs[boardID] {
		select {
		case ch <- data:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- data:
			default:
			}
		}
	}
	b.mu.Unlock()
}
