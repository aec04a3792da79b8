package cache

import (
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func eq(a, b float64) bool { return a == b }

func TestPutIfChanged(t *testing.T) {
	tests := []struct {
		name     string
		suppress bool
		values   []float64
		want     []bool
	}{
		{
			name:     "same value twice is suppressed",
			suppress: true,
			values:   []float64{21.0, 21.0},
			want:     []bool{true, false},
		},
		{
			name:     "two different values both stored",
			suppress: true,
			values:   []float64{21.0, 22.0},
			want:     []bool{true, true},
		},
		{
			name:     "change then back",
			suppress: true,
			values:   []float64{21.0, 21.0, 22.0, 21.0},
			want:     []bool{true, false, true, true},
		},
		{
			name:     "suppression disabled stores every value",
			suppress: false,
			values:   []float64{21.0, 21.0, 21.0},
			want:     []bool{true, true, true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := New[float64]()
			c.SetSuppression(tc.suppress)

			got := make([]bool, 0, len(tc.values))
			for _, v := range tc.values {
				got = append(got, c.PutIfChanged("temp1", v, eq))
			}

			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("PutIfChanged results mismatch (-want +got):\n%s", diff)
			}

			last, ok := c.Get("temp1")
			if !ok || last != tc.values[len(tc.values)-1] {
				t.Errorf("Get() = %v, %v; want %v", last, ok, tc.values[len(tc.values)-1])
			}
		})
	}
}

func TestSuppressionDefaultsOn(t *testing.T) {
	c := New[string]()
	if !c.Suppressing() {
		t.Error("new cache should suppress unchanged values")
	}
	c.SetSuppression(false)
	if c.Suppressing() {
		t.Error("Suppressing() = true after SetSuppression(false)")
	}
}

func TestPutOverridesRegardlessOfEquality(t *testing.T) {
	c := New[float64]()

	c.Put("temp1", 21.0)
	c.Put("temp1", 21.0)

	if v, ok := c.Get("temp1"); !ok || v != 21.0 {
		t.Errorf("Get() = %v, %v", v, ok)
	}

	// After an unconditional store the next equal value is still suppressed.
	if c.PutIfChanged("temp1", 21.0, eq) {
		t.Error("PutIfChanged after Put of equal value should be suppressed")
	}
}

func TestRemoveAndClear(t *testing.T) {
	c := New[float64]()
	c.Put("temp1", 1)
	c.Put("temp2", 2)
	c.Put("temp3", 3)

	c.Remove("temp1")
	c.Remove("missing")

	if _, ok := c.Get("temp1"); ok {
		t.Error("temp1 still cached after Remove")
	}
	if got := c.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if !c.PutIfChanged("temp1", 1, eq) {
		t.Error("PutIfChanged after Remove should report a change")
	}

	keys := c.Keys()
	sort.Strings(keys)
	if diff := cmp.Diff([]string{"temp1", "temp2", "temp3"}, keys); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}

	c.Clear()
	if got := c.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
	if !c.PutIfChanged("temp2", 2, eq) {
		t.Error("PutIfChanged after Clear should report a change")
	}
}

func TestConcurrentSameKeyReportsOneChange(t *testing.T) {
	c := New[float64]()

	const goroutines = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.PutIfChanged("temp1", 21.0, eq) {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if changes != 1 {
		t.Errorf("changes = %d, want exactly 1", changes)
	}
}

func TestConcurrentDistinctKeys(t *testing.T) {
	c := New[int]()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "item" + strconv.Itoa(n)
			c.PutIfChanged(id, n, func(a, b int) bool { return a == b })
			if n%10 == 0 {
				c.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	if got := c.Len(); got != 90 {
		t.Errorf("Len() = %d, want 90", got)
	}
}
