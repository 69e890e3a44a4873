package pulse

// History is a fixed-size sliding window of inter-beat intervals.
// It keeps a running sum so that pushing a value and averaging are O(1).
type History struct {
	values []int // Ring storage, allocated once
	next   int   // Index of the oldest value, overwritten by Push
	sum    int   // Sum of all values in the window
}

// NewHistory allocates a window of the given size.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{values: make([]int, size)}
}

// Size returns the window length.
func (h *History) Size() int {
	return len(h.values)
}

// Seed fills the whole window with v.
func (h *History) Seed(v int) {
	for i := range h.values {
		h.values[i] = v
	}
	h.next = 0
	h.sum = v * len(h.values)
}

// Push evicts the oldest value and appends v.
func (h *History) Push(v int) {
	h.sum += v - h.values[h.next]
	h.values[h.next] = v
	h.next++
	if h.next == len(h.values) {
		h.next = 0
	}
}

// Average returns the mean of the window, rounded toward zero.
func (h *History) Average() int {
	return h.sum / len(h.values)
}

// Values returns the window contents from oldest to newest.
func (h *History) Values() []int {
	out := make([]int, 0, len(h.values))
	out = append(out, h.values[h.next:]...)
	out = append(out, h.values[:h.next]...)
	return out
}
