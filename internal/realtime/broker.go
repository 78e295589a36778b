// Package realtime fans out record-store changes to in-process consumers and
// websocket clients.
package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is a single row change published by the store.
type Change struct {
	Seq     uint64    `json:"seq"`
	Table   string    `json:"table"`
	Op      Op        `json:"op"`
	Key     string    `json:"key"`
	OwnerID string    `json:"owner_id,omitempty"`
	Row     any       `json:"row,omitempty"`
	At      time.Time `json:"at"`
}

// Filter selects changes by table and owner. Empty fields match anything.
// Changes without an owner (shared rows) match every owner filter.
type Filter struct {
	Table   string
	OwnerID string
}

func (f Filter) matches(c Change) bool {
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if f.OwnerID != "" && c.OwnerID != "" && f.OwnerID != c.OwnerID {
		return false
	}
	return true
}

// Subscription is a filtered stream of changes.
type Subscription struct {
	C <-chan Change

	ch     chan Change
	filter Filter
	lagged atomic.Bool
}

// Lagged reports whether changes were dropped because the consumer fell
// behind. A lagged consumer must reconcile from a full fetch.
func (s *Subscription) Lagged() bool { return s.lagged.Load() }

// ClearLag resets the lagged flag after a reconcile.
func (s *Subscription) ClearLag() { s.lagged.Store(false) }

// Broker assigns sequence numbers and delivers changes without blocking the
// publisher.
type Broker struct {
	mu     sync.Mutex
	seq    uint64
	buffer int
	subs   map[*Subscription]struct{}
}

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 64

// NewBroker creates a broker. buffer <= 0 uses DefaultBuffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{buffer: buffer, subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a consumer for changes matching f.
func (b *Broker) Subscribe(f Filter) *Subscription {
	ch := make(chan Change, b.buffer)
	s := &Subscription{C: ch, ch: ch, filter: f}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (b *Broker) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Seq returns the last assigned sequence number.
func (b *Broker) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Publish stamps c with the next sequence number and delivers it to every
// matching subscriber. Full subscribers are marked lagged instead of
// blocking.
func (b *Broker) Publish(c Change) Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	c.Seq = b.seq
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	for s := range b.subs {
		if !s.filter.matches(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
			if !s.lagged.Swap(true) {
				log.Warn().
					Str("table", c.Table).
					Str("owner", s.filter.OwnerID).
					Msg("Realtime subscriber lagging, changes dropped")
			}
		}
	}
	return c
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
