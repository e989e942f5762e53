package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/types"
)

// Replica is a Listener that rebuilds a store's per-handle contents from
// its notifications. It is what a transport layer keeps per remote
// observer before framing changes onto the wire.
type Replica struct {
	mu           sync.Mutex
	handles      map[int]Contents
	capacity     types.Fraction
	disconnected bool
	events       int
}

var _ Listener = (*Replica)(nil)

// NewReplica creates an empty Replica.
func NewReplica() *Replica {
	return &Replica{handles: make(map[int]Contents), capacity: types.Zero}
}

func (r *Replica) OnAccept(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events++
	r.handles[ev.Handle] = Contents{Article: ev.Article, Amount: ev.Total}
}

func (r *Replica) OnSupply(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events++
	if ev.Total.IsPositive() {
		r.handles[ev.Handle] = Contents{Article: ev.Article, Amount: ev.Total}
		return
	}
	delete(r.handles, ev.Handle)
}

func (r *Replica) OnCapacityChange(_ context.Context, _ Store, capacity types.Fraction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events++
	r.capacity = capacity
}

func (r *Replica) OnDisconnect(context.Context, Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events++
	r.disconnected = true
}

// Views returns the replicated non-empty handles ordered by handle.
func (r *Replica) Views() []StoredArticleView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StoredArticleView, 0, len(r.handles))
	for h, c := range r.handles {
		out = append(out, ViewOf(h, c.Article, c.Amount))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// AmountOf sums the replicated amount of a.
func (r *Replica) AmountOf(a article.Article) types.Fraction {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := types.Zero
	for _, c := range r.handles {
		if c.Article == a {
			total = total.Add(c.Amount)
		}
	}
	return total
}

// Capacity returns the last replicated capacity.
func (r *Replica) Capacity() types.Fraction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// IsEmpty reports whether no handle holds anything.
func (r *Replica) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles) == 0
}

// Disconnected reports whether OnDisconnect was received.
func (r *Replica) Disconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

// Events returns the number of notifications received.
func (r *Replica) Events() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}
