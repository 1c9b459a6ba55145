package dispatch

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestDrainPreservesOrder(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		q.Enqueue(func() { got = append(got, i) })
	}
	if n := q.Drain(); n != 50 {
		t.Fatalf("expected 50 actions, got %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("expected %d at position %d, got %d", i, i, v)
		}
	}
}

func TestPerProducerOrderAcrossGoroutines(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))
	const producers, each = 8, 200

	var wg sync.WaitGroup
	var seen [producers][]int
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				i := i
				q.Enqueue(func() { seen[p] = append(seen[p], i) })
			}
		}(p)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		q.Drain()
	}
	q.Drain()

	for p := 0; p < producers; p++ {
		if len(seen[p]) != each {
			t.Fatalf("producer %d: expected %d actions, got %d", p, each, len(seen[p]))
		}
		for i, v := range seen[p] {
			if v != i {
				t.Fatalf("producer %d: out of order at %d: %d", p, i, v)
			}
		}
	}
}

func TestReentrantEnqueueRunsNextDrain(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))
	ran := 0
	q.Enqueue(func() {
		q.Enqueue(func() { ran++ })
	})
	if n := q.Drain(); n != 1 {
		t.Fatalf("expected 1 action in first drain, got %d", n)
	}
	if ran != 0 {
		t.Fatal("nested action should not run in the same drain")
	}
	q.Drain()
	if ran != 1 {
		t.Fatalf("expected nested action to run, got %d", ran)
	}
}

func TestPanicDoesNotStarveQueue(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	q := NewQueue(zap.New(core))

	ran := 0
	q.Enqueue(func() { ran++ })
	q.Enqueue(func() { panic("boom") })
	q.Enqueue(func() { ran++ })
	q.Drain()

	if ran != 2 {
		t.Fatalf("expected 2 actions to run, got %d", ran)
	}
	if logs.FilterMessage("Dispatched action failed").Len() != 1 {
		t.Fatalf("expected one failure log, got %d", logs.Len())
	}
}

func TestClear(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))
	q.Enqueue(func() { t.Fatal("cleared action ran") })
	q.Enqueue(func() { t.Fatal("cleared action ran") })
	if n := q.Clear(); n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
	if n := q.Drain(); n != 0 {
		t.Fatalf("expected nothing to drain, got %d", n)
	}
}
