package pulse

import (
	"testing"
)

// Verify that Seed fills the whole window and Average returns the seed.
func TestHistorySeed(t *testing.T) {
	h := NewHistory(4)
	h.Seed(600)

	if got := h.Average(); got != 600 {
		t.Errorf("Average() = %d, expected 600", got)
	}
	for i, v := range h.Values() {
		if v != 600 {
			t.Errorf("Values()[%d] = %d, expected 600", i, v)
		}
	}
}

// Push must evict the oldest value, exactly like shifting the array left.
func TestHistoryPushEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	h.Seed(0)

	pushed := []int{10, 20, 30, 40, 50}
	expected := [][]int{
		{0, 0, 10},
		{0, 10, 20},
		{10, 20, 30},
		{20, 30, 40},
		{30, 40, 50},
	}
	for i, v := range pushed {
		h.Push(v)
		got := h.Values()
		for j := range expected[i] {
			if got[j] != expected[i][j] {
				t.Fatalf("after Push(%d): Values() = %v, expected %v", v, got, expected[i])
			}
		}
	}
	if got := h.Average(); got != 40 {
		t.Errorf("Average() = %d, expected 40", got)
	}
}

// The running sum must match a plain sum over the window after many pushes,
// and the average must round toward zero.
func TestHistoryRunningSum(t *testing.T) {
	h := NewHistory(HistorySize)
	h.Seed(600)

	for i := 0; i < 1000; i++ {
		h.Push(300 + i%257)
	}

	sum := 0
	for _, v := range h.Values() {
		sum += v
	}
	if got, want := h.Average(), sum/HistorySize; got != want {
		t.Errorf("Average() = %d, expected %d", got, want)
	}

	h = NewHistory(2)
	h.Seed(1)
	h.Push(2)
	if got := h.Average(); got != 1 {
		t.Errorf("Average() of {1, 2} = %d, expected 1", got)
	}
}

func TestHistoryMinimumSize(t *testing.T) {
	h := NewHistory(0)
	if h.Size() != 1 {
		t.Errorf("Size() = %d, expected 1", h.Size())
	}
	h.Push(7)
	if h.Average() != 7 {
		t.Errorf("Average() = %d, expected 7", h.Average())
	}
}
