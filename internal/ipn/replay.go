package ipn

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// ReplayDetector remembers notification fingerprints to flag probable
// redeliveries. Bloom filters have false positives, so the result is only
// suitable for logging and metrics, never for skipping work.
type ReplayDetector struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewReplayDetector sizes the filter for capacity fingerprints at the given
// false positive rate.
func NewReplayDetector(capacity uint, fpRate float64) *ReplayDetector {
	return &ReplayDetector{filter: bloom.NewWithEstimates(capacity, fpRate)}
}

// Seen records n and reports whether an identical notification was probably
// recorded before.
func (r *ReplayDetector) Seen(n *Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter.TestOrAddString(fingerprint(n))
}

func fingerprint(n *Notification) string {
	return n.PaymentID + "|" + n.OrderID + "|" + n.Status + "|" + n.PaidAmount().String()
}
