package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tamzrod/bms-telemetry/internal/control"
)

func TestFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 1000; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push err=%v", err)
		}
	}
	if q.Len() != 1000 {
		t.Fatalf("Len = %d", q.Len())
	}
	for i := 0; i < 1000; i++ {
		v, ok := q.TryPop()
		if !ok || v != i {
			t.Fatalf("TryPop = %d,%v want %d", v, ok, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestPopWaitsForPush(t *testing.T) {
	q := New[string]()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Push("frame")
	}()

	v, err := q.Pop(ctx)
	if err != nil || v != "frame" {
		t.Fatalf("Pop = %q, %v", v, err)
	}
}

func TestPopHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}
}

func TestCloseDeliversPendingThenErrClosed(t *testing.T) {
	q := New[int]()
	_ = q.Push(1)
	q.Close()
	q.Close()

	if err := q.Push(2); !errors.Is(err, ErrClosed) {
		t.Fatalf("Push after close err=%v", err)
	}
	v, err := q.Pop(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("Pop = %d, %v", v, err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
}

func TestCloseWakesWaiter(t *testing.T) {
	q := New[int]()
	errc := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errc <- err
	}()
	time.Sleep(5 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter not woken by Close")
	}
}

func TestConcurrentProducersNeverBlock(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = q.Push(i)
			}
		}()
	}
	wg.Wait()
	if got := len(q.Drain()); got != 2000 {
		t.Fatalf("drained %d, want 2000", got)
	}
	if q.Len() != 0 {
		t.Fatalf("Len after drain = %d", q.Len())
	}
}

func TestFabricBroadcast(t *testing.T) {
	f := NewFabric()
	defer f.Close()

	f.Broadcast(control.Exit)
	for name, q := range map[string]*Queue[control.Signal]{
		"io":      f.IOControl,
		"emitter": f.EmitterControl,
		"decoder": f.DecoderControl,
	} {
		got := q.Drain()
		if len(got) != 1 || got[0] != control.Exit {
			t.Fatalf("%s control = %v", name, got)
		}
	}
}
