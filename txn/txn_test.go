package txn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// counter is a minimal leaf participant using the lazy rollback pattern.
type counter struct {
	value    int
	captures int
	journal  *Journal[int]
}

func newCounter() *counter {
	c := &counter{}
	c.journal = NewJournal(
		func() int { c.captures++; return c.value },
		func(_ context.Context, v int) { c.value = v },
	)
	return c
}

func (c *counter) add(tx *Transaction, n int) {
	c.journal.PrepareIfNeeded(tx)
	c.value += n
}

func expectProtocolError(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		var pe *ProtocolError
		err, ok := r.(error)
		if !ok || !errors.As(err, &pe) || !errors.Is(err, target) {
			t.Errorf("expected ProtocolError wrapping %v, got %v", target, r)
		}
	}()
	fn()
}

func TestCommitKeepsChanges(t *testing.T) {
	m := NewManager()
	c := newCounter()

	tx, _ := m.Open(context.Background())
	c.add(tx, 3)
	c.add(tx, 4)
	tx.Commit()

	if c.value != 7 {
		t.Errorf("value: got %d, want 7", c.value)
	}
	if c.captures != 1 {
		t.Errorf("captures: got %d, want 1", c.captures)
	}
	if m.Depth() != 0 {
		t.Errorf("depth: got %d, want 0", m.Depth())
	}
}

func TestRollbackRestoresState(t *testing.T) {
	m := NewManager()
	a, b := newCounter(), newCounter()
	a.value, b.value = 10, 20

	tx, _ := m.Open(context.Background())
	a.add(tx, 5)
	b.add(tx, -7)
	a.add(tx, 1)
	tx.Rollback()

	if a.value != 10 || b.value != 20 {
		t.Errorf("values after rollback: got %d/%d, want 10/20", a.value, b.value)
	}
}

func TestNestedFrames(t *testing.T) {
	tests := []struct {
		name        string
		innerCommit bool
		outerCommit bool
		expected    int
	}{
		{"Both commit", true, true, 111},
		{"Inner rollback", false, true, 101},
		{"Outer rollback after inner commit", true, false, 0},
		{"Both rollback", false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			c := newCounter()

			outer, ctx := m.Open(context.Background())
			c.add(outer, 1)

			inner, _ := m.Open(ctx)
			if inner.Depth() != 1 || inner.Parent() != outer {
				t.Fatalf("inner frame not nested: depth %d", inner.Depth())
			}
			c.add(inner, 10)
			if tt.innerCommit {
				inner.Commit()
			} else {
				inner.Rollback()
			}

			c.add(outer, 100)
			if tt.outerCommit {
				outer.Commit()
			} else {
				outer.Rollback()
			}

			if c.value != tt.expected {
				t.Errorf("value: got %d, want %d", c.value, tt.expected)
			}
		})
	}
}

func TestInnerCaptureMovesToParent(t *testing.T) {
	m := NewManager()
	c := newCounter()
	c.value = 5

	outer, ctx := m.Open(context.Background())
	inner, _ := m.Open(ctx)
	c.add(inner, 3)
	inner.Commit()

	if !outer.IsEnlisted(c.journal) {
		t.Fatal("expected the inner capture to be handed to the outer frame")
	}
	if snap, ok := c.journal.Snapshot(outer); !ok || snap != 5 {
		t.Errorf("outer snapshot: got %d (%v), want 5", snap, ok)
	}

	outer.Rollback()
	if c.value != 5 {
		t.Errorf("value: got %d, want 5", c.value)
	}
}

func TestCloseDefaultsToRollback(t *testing.T) {
	m := NewManager()
	c := newCounter()

	func() {
		tx, _ := m.Open(context.Background())
		defer tx.Close()
		c.add(tx, 9)
	}()

	if c.value != 0 {
		t.Errorf("value: got %d, want 0", c.value)
	}

	// Close after Commit is a no-op.
	tx, _ := m.Open(context.Background())
	c.add(tx, 2)
	tx.Commit()
	tx.Close()
	if c.value != 2 {
		t.Errorf("value: got %d, want 2", c.value)
	}
}

func TestProtocolViolations(t *testing.T) {
	t.Run("Commit after close", func(t *testing.T) {
		m := NewManager()
		tx, _ := m.Open(context.Background())
		tx.Commit()
		expectProtocolError(t, ErrClosed, tx.Commit)
	})

	t.Run("Open on closed context", func(t *testing.T) {
		m := NewManager()
		tx, ctx := m.Open(context.Background())
		tx.Rollback()
		expectProtocolError(t, ErrClosed, func() { m.Open(ctx) })
	})

	t.Run("Close below top of stack", func(t *testing.T) {
		m := NewManager()
		outer, ctx := m.Open(context.Background())
		inner, _ := m.Open(ctx)
		expectProtocolError(t, ErrNotTopOfStack, outer.Commit)

		inner.Commit()
		outer.Commit()
		if m.Depth() != 0 {
			t.Errorf("depth: got %d, want 0", m.Depth())
		}
	})

	t.Run("Open from a frame below the top", func(t *testing.T) {
		m := NewManager()
		outer, ctx := m.Open(context.Background())
		inner, _ := m.Open(ctx)
		expectProtocolError(t, ErrNotTopOfStack, func() { m.Open(ctx) })
		inner.Rollback()
		outer.Rollback()
	})

	t.Run("Enlist after close", func(t *testing.T) {
		m := NewManager()
		c := newCounter()
		tx, _ := m.Open(context.Background())
		tx.Commit()
		expectProtocolError(t, ErrClosed, func() { c.add(tx, 1) })
	})

	t.Run("Require without transaction", func(t *testing.T) {
		m := NewManager()
		expectProtocolError(t, ErrNoTransaction, func() { m.Require(context.Background()) })
	})

	t.Run("Second primary", func(t *testing.T) {
		m := NewManager()
		m.SetPrimary(context.Background())
		expectProtocolError(t, ErrPrimaryAlreadySet, func() { m.SetPrimary(context.Background()) })
	})
}

// reopener tries to open a transaction from its rollback closure.
type reopener struct{ m *Manager }

func (r *reopener) PrepareRollback(*Transaction) RollbackFunc {
	return func(ctx context.Context, _ bool) { r.m.Open(ctx) }
}

func TestOpenWhileResolvingPanics(t *testing.T) {
	for _, committed := range []bool{false, true} {
		m := NewManager()
		tx, _ := m.Open(context.Background())
		tx.Enlist(&reopener{m: m})
		expectProtocolError(t, ErrResolving, func() {
			if committed {
				tx.Commit()
			} else {
				tx.Rollback()
			}
		})

		if m.Depth() != 0 {
			t.Fatalf("committed=%v: depth got %d, want 0", committed, m.Depth())
		}
		done := make(chan struct{})
		go func() {
			tx, _ := m.Open(context.Background())
			tx.Commit()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("committed=%v: locks were not released", committed)
		}
	}
}

func TestDoCommitsOrRollsBack(t *testing.T) {
	m := NewManager()
	c := newCounter()
	errBoom := errors.New("boom")

	err := m.Do(context.Background(), func(ctx context.Context) error {
		c.add(m.Require(ctx), 4)
		return nil
	})
	if err != nil || c.value != 4 {
		t.Fatalf("commit: got %d (%v), want 4", c.value, err)
	}

	err = m.Do(context.Background(), func(ctx context.Context) error {
		c.add(m.Require(ctx), 100)
		return errBoom
	})
	if !errors.Is(err, errBoom) || c.value != 4 {
		t.Errorf("rollback: got %d (%v), want 4", c.value, err)
	}
}

func TestOnCloseCallbacks(t *testing.T) {
	m := NewManager()
	var got []bool

	tx, _ := m.Open(context.Background())
	tx.OnClose(func(committed bool) { got = append(got, committed) })
	tx.Commit()

	tx, _ = m.Open(context.Background())
	tx.OnClose(func(committed bool) { got = append(got, committed) })
	tx.Close()

	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("callbacks: got %v, want [true false]", got)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *recordingObserver) TransactionClosed(_ context.Context, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestObserverSeesOutermostFramesOnly(t *testing.T) {
	obs := &recordingObserver{}
	m := NewManager(WithObserver(obs))
	a, b := newCounter(), newCounter()

	outer, ctx := m.Open(context.Background())
	a.add(outer, 1)
	inner, _ := m.Open(ctx)
	b.add(inner, 1)
	inner.Commit()
	outer.Commit()

	if len(obs.outcomes) != 1 {
		t.Fatalf("outcomes: got %d, want 1", len(obs.outcomes))
	}
	got := obs.outcomes[0]
	if got.ID != outer.ID() || !got.Committed || got.Participants != 2 {
		t.Errorf("outcome: got %+v", got)
	}
}

func TestPrimaryBypassesOuterLock(t *testing.T) {
	m := NewManager()
	primary := m.SetPrimary(context.Background())

	// Simulate a queue of secondary callers.
	m.outer.Lock()
	defer m.outer.Unlock()

	done := make(chan struct{})
	go func() {
		tx, _ := m.Open(primary)
		tx.Commit()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("primary caller blocked on the outer lock")
	}
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	m := NewManager()
	primary := m.SetPrimary(context.Background())
	c := newCounter()

	var inside atomic.Int32
	var overlap atomic.Bool

	work := func(ctx context.Context) {
		for i := 0; i < 200; i++ {
			tx, txCtx := m.Open(ctx)
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			c.add(tx, 1)

			nested, _ := m.Open(txCtx)
			c.add(nested, 1)
			nested.Commit()

			inside.Add(-1)
			tx.Commit()
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			work(context.Background())
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		work(primary)
	}()
	wg.Wait()

	if overlap.Load() {
		t.Error("two callers held transactions at the same time")
	}
	if c.value != 5*200*2 {
		t.Errorf("value: got %d, want %d", c.value, 5*200*2)
	}
	if m.Depth() != 0 {
		t.Errorf("depth: got %d, want 0", m.Depth())
	}
}

func BenchmarkOpenCommit(b *testing.B) {
	m := NewManager()
	c := newCounter()
	ctx := m.SetPrimary(context.Background())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tx, _ := m.Open(ctx)
		c.add(tx, 1)
		tx.Commit()
	}
}
