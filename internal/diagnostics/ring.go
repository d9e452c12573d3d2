package diagnostics

// Ring is a fixed-capacity history of float64 samples. When full, the
// oldest sample is evicted first. Not safe for concurrent use; the
// owning Diagnostics serializes access.
type Ring struct {
	buf   []float64
	head  int // Next write position
	count int
}

// NewRing creates a ring holding at most capacity samples.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

// Push appends a sample, evicting the oldest when at capacity.
func (r *Ring) Push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Values returns the retained samples, oldest first.
func (r *Ring) Values() []float64 {
	out := make([]float64, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len returns the number of retained samples.
func (r *Ring) Len() int { return r.count }

// Cap returns the fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Last returns the most recent sample, or zero when empty.
func (r *Ring) Last() float64 {
	if r.count == 0 {
		return 0
	}
	idx := r.head - 1
	if idx < 0 {
		idx += len(r.buf)
	}
	return r.buf[idx]
}

// Mean returns the average of the retained samples, or zero when empty.
func (r *Ring) Mean() float64 {
	if r.count == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.Values() {
		sum += v
	}
	return sum / float64(r.count)
}

// Reset discards all samples.
func (r *Ring) Reset() {
	r.head = 0
	r.count = 0
}
