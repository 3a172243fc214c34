package csync

import (
	"sync"
	"testing"
)

func TestVersionedMapSetGet(t *testing.T) {
	m := NewVersionedMap[string, int]()

	if _, ok := m.Get("a"); ok {
		t.Fatal("Get on empty map reported presence")
	}
	m.Set("a", 1)
	v, ok := m.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if m.Version() == 0 {
		t.Error("Set did not bump version")
	}
}

func TestVersionedMapUpdate(t *testing.T) {
	m := NewVersionedMap[string, int]()
	m.Set("n", 10)

	got := m.Update("n", func(prev int, ok bool) int {
		if !ok {
			t.Error("Update saw key as absent")
		}
		return prev + 5
	})
	if got != 15 {
		t.Fatalf("Update returned %d, want 15", got)
	}

	// Update on an absent key hands the zero value to fn.
	got = m.Update("missing", func(prev int, ok bool) int {
		if ok || prev != 0 {
			t.Errorf("Update(missing) saw prev=%d ok=%v", prev, ok)
		}
		return 7
	})
	if got != 7 {
		t.Fatalf("Update(missing) returned %d, want 7", got)
	}
}

func TestVersionedMapRename(t *testing.T) {
	m := NewVersionedMap[string, string]()
	m.Set("tmp", "payload")

	if !m.Rename("tmp", "real") {
		t.Fatal("Rename reported old key absent")
	}
	if _, ok := m.Get("tmp"); ok {
		t.Error("old key still present after Rename")
	}
	v, ok := m.Get("real")
	if !ok || v != "payload" {
		t.Errorf("new key = %q, %v; want payload, true", v, ok)
	}
	if m.Rename("tmp", "other") {
		t.Error("Rename of absent key reported success")
	}
	if m.Rename("real", "real") {
		t.Error("Rename onto itself reported success")
	}
}

func TestVersionedMapConcurrentUpdates(t *testing.T) {
	m := NewVersionedMap[string, int]()
	const workers = 8
	const iters = 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				m.Update("counter", func(prev int, _ bool) int { return prev + 1 })
			}
		}()
	}
	wg.Wait()

	v, _ := m.Get("counter")
	if v != workers*iters {
		t.Fatalf("counter = %d, want %d", v, workers*iters)
	}
}
