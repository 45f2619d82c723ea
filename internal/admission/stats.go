package admission

import (
	"sync"
	"time"
)

// sampleDeque keeps the most recent N duration samples for percentile
// reporting without unbounded growth.
type sampleDeque struct {
	mu      sync.Mutex
	samples []time.Duration
	max     int
	next    int
	full    bool
}

func newSampleDeque(max int) *sampleDeque {
	return &sampleDeque{samples: make([]time.Duration, max), max: max}
}

func (d *sampleDeque) add(v time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samples[d.next] = v
	d.next = (d.next + 1) % d.max
	if d.next == 0 {
		d.full = true
	}
}

// average over the retained window, in milliseconds.
func (d *sampleDeque) averageMs() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.next
	if d.full {
		n = d.max
	}
	if n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += d.samples[i]
	}
	return float64(total.Microseconds()) / float64(n) / 1000.0
}

// Stats is the admission layer's observability snapshot.
type Stats struct {
	Total            int64   `json:"total"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	Timeouts         int64   `json:"timeouts"`
	Retries          int64   `json:"retries"`
	Rejected         int64   `json:"rejected"`
	CurrentQueueSize int     `json:"currentQueueSize"`
	MaxQueueSize     int     `json:"maxQueueSize"`
	SuccessRate      float64 `json:"successRate"`
	AvgWaitMs        float64 `json:"avgWaitMs"`
	AvgProcessingMs  float64 `json:"avgProcessingMs"`
	BreakerState     string  `json:"breakerState"`
}
