package serial_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/voxorder/internal/serial"
)

func TestQueue_RunsInOrder(t *testing.T) {
	t.Parallel()
	var q serial.Queue
	var got []int
	for i := range 5 {
		q.Enqueue(func() { got = append(got, i) })
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}
	q.Drain()
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len after Drain = %d", q.Len())
	}
}

func TestQueue_ReentrantEnqueueRunsAfterCurrent(t *testing.T) {
	t.Parallel()
	var q serial.Queue
	var got []string
	q.Enqueue(func() {
		got = append(got, "a-start")
		q.Enqueue(func() { got = append(got, "nested") })
		q.Drain() // must not recurse
		got = append(got, "a-end")
	})
	q.Enqueue(func() { got = append(got, "b") })
	q.Drain()

	want := []string{"a-start", "a-end", "b", "nested"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestQueue_ConcurrentDrainNeverOverlaps(t *testing.T) {
	t.Parallel()
	var q serial.Queue
	var mu sync.Mutex
	active, maxActive, runs := 0, 0, 0

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				q.Enqueue(func() {
					mu.Lock()
					active++
					maxActive = max(maxActive, active)
					runs++
					mu.Unlock()

					mu.Lock()
					active--
					mu.Unlock()
				})
				q.Drain()
			}
		}()
	}
	wg.Wait()
	q.Drain()

	if maxActive != 1 {
		t.Errorf("max concurrent callbacks = %d, want 1", maxActive)
	}
	if runs != 400 {
		t.Errorf("runs = %d, want 400", runs)
	}
}
