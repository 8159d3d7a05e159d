package workflow

import (
	"sync"
	"testing"
)

func TestChannelDefaultsToLastValue(t *testing.T) {
	ch := NewChannel[string]("status", "init")

	ch.Update("running")
	ch.Update("done")

	if got := ch.Get(); got != "done" {
		t.Errorf("expected done, got %q", got)
	}
	if v := ch.Version(); v != 2 {
		t.Errorf("expected version=2, got %d", v)
	}
	if ch.Name() != "status" {
		t.Errorf("unexpected name %q", ch.Name())
	}
}

func TestAppendReducerDoesNotAliasInput(t *testing.T) {
	ch := NewChannel[[]int]("log", nil, WithReducer(AppendReducer[int]()))

	update := []int{1, 2}
	ch.Update(update)
	update[0] = 99

	got := ch.Get()
	if len(got) != 2 || got[0] != 1 {
		t.Fatalf("channel value aliased caller slice: %v", got)
	}
}

// TestAppendReducerConcurrentAccess verifies updates are serialized under concurrency.
func TestAppendReducerConcurrentAccess(t *testing.T) {
	ch := NewChannel[[]int]("log", nil, WithReducer(AppendReducer[int]()))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch.Update([]int{i})
		}(i)
	}
	wg.Wait()

	if n := len(ch.Get()); n != 100 {
		t.Errorf("expected 100 entries, got %d", n)
	}
	if v := ch.Version(); v != 100 {
		t.Errorf("expected version=100, got %d", v)
	}
}
