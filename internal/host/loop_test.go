package host

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type countingTicker struct {
	pumps atomic.Int32
	panic atomic.Bool
}

func (c *countingTicker) Pump() {
	c.pumps.Add(1)
	if c.panic.Load() {
		panic("boom")
	}
}

func TestLoopPumps(t *testing.T) {
	ct := &countingTicker{}
	l := NewLoop(ct, time.Millisecond, zaptest.NewLogger(t))
	l.Start()
	defer l.Stop()

	deadline := time.Now().Add(time.Second)
	for ct.pumps.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("expected pumps, got %d", ct.pumps.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCallRunsOnLoop(t *testing.T) {
	ct := &countingTicker{}
	l := NewLoop(ct, time.Millisecond, zaptest.NewLogger(t))
	l.Start()
	defer l.Stop()

	var ran bool
	if err := l.Call(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run before Call returned")
	}

	want := errors.New("failed")
	if err := l.CallErr(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestCallWhenStopped(t *testing.T) {
	l := NewLoop(&countingTicker{}, time.Millisecond, zaptest.NewLogger(t))
	if err := l.Call(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	l.Start()
	l.Stop()
	if err := l.Call(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after stop, got %v", err)
	}
}

func TestCallHonoursContext(t *testing.T) {
	l := NewLoop(&countingTicker{}, time.Millisecond, zaptest.NewLogger(t))
	l.Start()
	defer l.Stop()

	release := make(chan struct{})
	go l.Call(context.Background(), func() { <-release })
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Call(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(release)
}

func TestPanicsAreContained(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	ct := &countingTicker{}
	ct.panic.Store(true)
	l := NewLoop(ct, time.Millisecond, zap.New(core))
	l.Start()
	defer l.Stop()

	if err := l.Call(context.Background(), func() { panic("bad call") }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if logs.FilterMessage("Host call failed").Len() != 1 {
		t.Fatal("expected call panic to be logged")
	}
	time.Sleep(10 * time.Millisecond)
	if logs.FilterMessage("Host tick failed").Len() == 0 {
		t.Fatal("expected tick panic to be logged")
	}
	if !l.IsRunning() {
		t.Fatal("loop must survive panics")
	}
}

func TestRestart(t *testing.T) {
	l := NewLoop(&countingTicker{}, time.Millisecond, zaptest.NewLogger(t))
	l.Start()
	l.Stop()
	l.Stop()
	l.Start()
	defer l.Stop()
	if err := l.Call(context.Background(), func() {}); err != nil {
		t.Fatalf("Call after restart: %v", err)
	}
}
