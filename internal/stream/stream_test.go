package stream

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/robert-malhotra/go-prf/internal/chunk"
	"github.com/robert-malhotra/go-prf/internal/store"
)

func TestChannelFIFO(t *testing.T) {
	ch := NewChannel[int](4)
	go func() {
		for i := 0; i < 100; i++ {
			if !ch.Send(i) {
				t.Error("Send returned false without cancellation")
				return
			}
		}
		ch.Close()
	}()

	// All 100 items arrive, in order, none lost or duplicated.
	for i := 0; i < 100; i++ {
		v, ok := ch.Receive()
		if !ok {
			t.Fatalf("channel closed after %d items", i)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}
	if _, ok := ch.Receive(); ok {
		t.Fatal("expected closed channel after drain")
	}
	if ch.Err() != nil {
		t.Errorf("expected nil error on clean close, got %v", ch.Err())
	}
}

func TestChannelFailDrains(t *testing.T) {
	ch := NewChannel[int](4)
	boom := errors.New("read failed")
	ch.Send(1)
	ch.Send(2)
	ch.Fail(boom)

	// Buffered items are still delivered before the error surfaces.
	for want := 1; want <= 2; want++ {
		v, ok := ch.Receive()
		if !ok || v != want {
			t.Fatalf("expected %d, got %d (ok=%v)", want, v, ok)
		}
	}
	if _, ok := ch.Receive(); ok {
		t.Fatal("expected closed channel")
	}
	if !errors.Is(ch.Err(), boom) {
		t.Errorf("expected failure error, got %v", ch.Err())
	}
}

func TestChannelCancelUnblocksSend(t *testing.T) {
	ch := NewChannel[int](1)
	ch.Send(1) // fills the channel

	done := make(chan bool)
	go func() {
		done <- ch.Send(2) // blocks until cancel
	}()

	select {
	case <-done:
		t.Fatal("Send should block on a full channel")
	case <-time.After(10 * time.Millisecond):
	}

	ch.Cancel()
	select {
	case sent := <-done:
		if sent {
			t.Error("Send should report cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after Cancel")
	}
	ch.Cancel() // idempotent
}

// makeStore builds a store with a recognizable ramp.
func makeStore(t *testing.T, nTime, nUnit int) *store.MemStore {
	t.Helper()
	s := store.NewMem(nTime, nUnit)
	data := make([]float32, nTime*nUnit)
	for i := range data {
		data[i] = float32(i%17) - 8
	}
	if err := s.Write(store.AxisTime, chunk.Range{Start: 0, End: nTime}, data); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRunMatchesWholeArray(t *testing.T) {
	const nTime, nUnit = 20, 53
	double := func(data []float32, _ chunk.Range) ([]float32, error) {
		for i := range data {
			data[i] *= 2
		}
		return data, nil
	}

	// Reference: the same transform applied to the whole array at once.
	ref := makeStore(t, nTime, nUnit)
	whole, err := ref.Read(store.AxisTime, chunk.Range{Start: 0, End: nTime})
	if err != nil {
		t.Fatal(err)
	}
	whole, _ = double(whole, chunk.Range{})

	// The streamed output must be identical for every chunk stride.
	for _, axis := range []store.Axis{store.AxisUnit, store.AxisTime} {
		n := nUnit
		if axis == store.AxisTime {
			n = nTime
		}
		for _, stride := range []int{1, 3, 7, n, n + 50} {
			src := makeStore(t, nTime, nUnit)
			dst := store.NewMem(nTime, nUnit)
			res, err := Run(src, dst, axis, chunk.Plan(n, stride), 4, double)
			if err != nil {
				t.Fatalf("axis=%s stride=%d: %v", axis, stride, err)
			}
			if res.Values != nTime*nUnit {
				t.Errorf("axis=%s stride=%d: transformed %d values", axis, stride, res.Values)
			}
			got, err := dst.Read(store.AxisTime, chunk.Range{Start: 0, End: nTime})
			if err != nil {
				t.Fatal(err)
			}
			for i := range whole {
				if got[i] != whole[i] {
					t.Fatalf("axis=%s stride=%d: value %d differs: %v vs %v",
						axis, stride, i, got[i], whole[i])
				}
			}
		}
	}
}

func TestRunInPlace(t *testing.T) {
	const nTime, nUnit = 8, 10
	s := makeStore(t, nTime, nUnit)
	before, _ := s.Read(store.AxisTime, chunk.Range{Start: 0, End: nTime})

	_, err := Run(s, s, store.AxisUnit, chunk.Plan(nUnit, 3), 2,
		func(data []float32, _ chunk.Range) ([]float32, error) {
			for i := range data {
				data[i]++
			}
			return data, nil
		})
	if err != nil {
		t.Fatalf("in-place run failed: %v", err)
	}
	after, _ := s.Read(store.AxisTime, chunk.Range{Start: 0, End: nTime})
	for i := range before {
		if after[i] != before[i]+1 {
			t.Fatalf("value %d: expected %v, got %v", i, before[i]+1, after[i])
		}
	}
}

// failingStore wraps a Store and fails reads or writes touching a range.
type failingStore struct {
	store.Store
	failRead  int // fail reads whose Start >= failRead
	failWrite int
}

func (f *failingStore) Read(axis store.Axis, r chunk.Range) ([]float32, error) {
	if r.Start >= f.failRead {
		return nil, fmt.Errorf("disk read error at %s", r)
	}
	return f.Store.Read(axis, r)
}

func (f *failingStore) Write(axis store.Axis, r chunk.Range, data []float32) error {
	if r.Start >= f.failWrite {
		return fmt.Errorf("disk write error at %s", r)
	}
	return f.Store.Write(axis, r, data)
}

func TestRunAbortsOnReadError(t *testing.T) {
	const nUnit = 50
	src := &failingStore{Store: makeStore(t, 4, nUnit), failRead: 20, failWrite: nUnit}
	dst := store.NewMem(4, nUnit)

	done := make(chan error, 1)
	go func() {
		_, err := Run(src, dst, store.AxisUnit, chunk.Plan(nUnit, 10), 2, identity)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected read error to abort the stage")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stage deadlocked after read error")
	}
}

func TestRunAbortsOnWriteError(t *testing.T) {
	const nUnit = 50
	src := makeStore(t, 4, nUnit)
	dst := &failingStore{Store: store.NewMem(4, nUnit), failRead: nUnit, failWrite: 0}

	done := make(chan error, 1)
	go func() {
		// Capacity 1 so the producer is blocked in Send when the consumer
		// aborts; the abort must still unblock it.
		_, err := Run(src, dst, store.AxisUnit, chunk.Plan(nUnit, 5), 1, identity)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected write error to abort the stage")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stage deadlocked after write error")
	}
}

func TestRunShapeMismatch(t *testing.T) {
	src := store.NewMem(4, 6)
	dst := store.NewMem(4, 7)
	_, err := Run(src, dst, store.AxisUnit, chunk.Plan(6, 2), 2, identity)
	if !errors.Is(err, store.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func identity(data []float32, _ chunk.Range) ([]float32, error) {
	return data, nil
}
