package spend

import (
	"context"
	"sync"
	"time"

	"github.com/rcourtman/subtracker/pkg/currency"
)

// Snapshot is the latest aggregation state exposed to consumers. Loading is
// true while a pass is in flight; totals from a loading snapshot belong to
// the previous pass and must not be shown as current.
type Snapshot struct {
	Loading     bool               `json:"loading"`
	Total       float64            `json:"total"`
	Groups      map[string]float64 `json:"groups,omitempty"`
	Currency    currency.Code      `json:"currency"`
	Unconverted []currency.Code    `json:"unconverted,omitempty"`
	Generation  uint64             `json:"generation"`
	Error       string             `json:"error,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Tracker runs aggregation passes in the background and keeps only the
// result of the most recent one.
type Tracker struct {
	agg      *Aggregator
	groupBy  GroupBy
	onUpdate func(Snapshot)

	// publishMu is held across onUpdate so deliveries arrive in generation
	// order. Lock order is publishMu then mu.
	publishMu sync.Mutex

	mu     sync.Mutex
	snap   Snapshot
	gen    uint64
	cancel context.CancelFunc
}

// NewTracker creates a tracker. onUpdate, when set, is called with every
// published snapshot, including the loading one. It must not call back into
// the tracker.
func NewTracker(agg *Aggregator, groupBy GroupBy, onUpdate func(Snapshot)) *Tracker {
	return &Tracker{agg: agg, groupBy: groupBy, onUpdate: onUpdate}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Recompute starts a pass over subs in display and supersedes any pass
// still running. The returned channel closes when this pass has either been
// applied or dropped as stale.
func (t *Tracker) Recompute(ctx context.Context, subs []Subscription, display currency.Code) <-chan struct{} {
	done := make(chan struct{})

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.gen++
	gen := t.gen
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.snap.Loading = true
	t.snap.Generation = gen
	t.snap.Currency = display
	t.snap.Error = ""
	t.mu.Unlock()

	t.commit(gen, nil)

	items := append([]Subscription(nil), subs...)
	go func() {
		defer close(done)
		defer cancel()

		res, err := t.agg.Aggregate(runCtx, items, display, t.groupBy)

		t.commit(gen, func(s *Snapshot) {
			t.cancel = nil
			s.Loading = false
			s.UpdatedAt = time.Now()
			if err != nil {
				s.Error = err.Error()
				return
			}
			s.Total = res.Total
			s.Groups = res.Groups
			s.Unconverted = res.Unconverted
		})
	}()
	return done
}

// commit applies update and publishes the snapshot if gen is still the
// latest pass. The generation is checked while holding publishMu, so a pass
// superseded before its delivery is dropped rather than sent late.
func (t *Tracker) commit(gen uint64, update func(*Snapshot)) {
	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	if update != nil {
		update(&t.snap)
	}
	snap := t.snap
	t.mu.Unlock()

	if t.onUpdate != nil {
		t.onUpdate(snap)
	}
}

// Cancel abandons any running pass. Its result, if it still arrives, is
// discarded.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
	t.snap.Loading = false
}
