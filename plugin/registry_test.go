package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/stockpile/id"
)

type savedCounter struct {
	name  string
	saved int
	err   error
}

func (c *savedCounter) Name() string { return c.name }

func (c *savedCounter) OnStateSaved(_ context.Context, count int, _ time.Duration) error {
	c.saved += count
	return c.err
}

type slowShutdown struct {
	release chan struct{}
}

func (s *slowShutdown) Name() string { return "slow" }

func (s *slowShutdown) OnShutdown(context.Context) error {
	<-s.release
	return nil
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&savedCounter{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&savedCounter{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count: got %d, want 1", got)
	}
	if r.Get("a") == nil || r.Get("b") != nil {
		t.Error("Get returned the wrong plugin")
	}
}

func TestEmitDispatchesOnlyToImplementers(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	ok := &savedCounter{name: "ok"}
	failing := &savedCounter{name: "failing", err: errors.New("boom")}
	_ = r.Register(ok)
	_ = r.Register(failing)
	_ = r.Register(&slowShutdown{release: make(chan struct{})})

	r.EmitStateSaved(ctx, 3, time.Millisecond)
	r.EmitStoreDisconnected(ctx, id.NewStoreID())

	// A failing plugin does not stop the others.
	if ok.saved != 3 || failing.saved != 3 {
		t.Errorf("saved: ok %d failing %d, want 3", ok.saved, failing.saved)
	}
	if got := implementedInterfaces(ok); len(got) != 1 || got[0] != "OnStateSaved" {
		t.Errorf("interfaces: got %v", got)
	}
}

func TestCallWithTimeout(t *testing.T) {
	slow := &slowShutdown{release: make(chan struct{})}
	defer close(slow.release)

	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	_ = r.Register(slow)

	start := time.Now()
	r.EmitShutdown(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("EmitShutdown blocked for %s", elapsed)
	}

	err := r.callWithTimeout(context.Background(), "slow", func() error {
		time.Sleep(time.Second)
		return nil
	})
	if err == nil {
		t.Error("expected timeout error")
	}
}
