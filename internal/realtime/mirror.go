package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

type mirrorEntry[V any] struct {
	seq     uint64
	value   V
	deleted bool
}

// Mirror is a keyed in-memory view of one table kept current from change
// events. Each key keeps the value from the highest sequence seen, so
// replayed or out-of-order events are harmless.
type Mirror[V any] struct {
	mu      sync.RWMutex
	entries map[string]mirrorEntry[V]
}

// NewMirror creates an empty mirror.
func NewMirror[V any]() *Mirror[V] {
	return &Mirror[V]{entries: make(map[string]mirrorEntry[V])}
}

// Apply folds c into the view. It returns false when c is older than what
// the view already holds for its key or carries a row of the wrong type.
func (m *Mirror[V]) Apply(c Change) bool {
	var value V
	if c.Op != OpDelete {
		switch row := c.Row.(type) {
		case V:
			value = row
		case *V:
			if row == nil {
				return false
			}
			value = *row
		default:
			return false
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[c.Key]; ok && cur.seq >= c.Seq {
		return false
	}
	m.entries[c.Key] = mirrorEntry[V]{seq: c.Seq, value: value, deleted: c.Op == OpDelete}
	return true
}

// Load records value for key as read at seq. It is ignored when a newer
// change for key has already been applied.
func (m *Mirror[V]) Load(key string, seq uint64, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[key]; ok && cur.seq > seq {
		return
	}
	m.entries[key] = mirrorEntry[V]{seq: seq, value: value}
}

// Get returns the current value for key.
func (m *Mirror[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || e.deleted {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Len returns the number of live keys.
func (m *Mirror[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Reconcile replaces the view with a full fetch taken at watermark seq.
// Entries newer than seq survive so that changes racing the fetch are kept.
func (m *Mirror[V]) Reconcile(seq uint64, all map[string]V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]mirrorEntry[V], len(all))
	for k, v := range all {
		next[k] = mirrorEntry[V]{seq: seq, value: v}
	}
	for k, e := range m.entries {
		if e.seq > seq {
			next[k] = e
		}
	}
	m.entries = next
}

// FetchAll returns every row of the mirrored table keyed like Change.Key.
type FetchAll[V any] func(ctx context.Context) (map[string]V, error)

// Follow keeps m in sync with b until ctx is done. It reconciles on start
// and again whenever the subscription reports it fell behind.
func (m *Mirror[V]) Follow(ctx context.Context, b *Broker, f Filter, fetch FetchAll[V]) error {
	sub := b.Subscribe(f)
	defer b.Unsubscribe(sub)

	if err := m.reconcileFrom(ctx, b, fetch); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-sub.C:
			if !ok {
				return nil
			}
			m.Apply(c)
			if sub.Lagged() {
				sub.ClearLag()
				if err := m.reconcileFrom(ctx, b, fetch); err != nil {
					log.Warn().Err(err).Str("table", f.Table).Msg("Mirror reconcile failed")
				}
			}
		}
	}
}

func (m *Mirror[V]) reconcileFrom(ctx context.Context, b *Broker, fetch FetchAll[V]) error {
	if fetch == nil {
		return nil
	}
	seq := b.Seq()
	all, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("reconcile mirror: %w", err)
	}
	m.Reconcile(seq, all)
	return nil
}
