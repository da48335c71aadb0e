package dispatch

import (
	"sync/atomic"

	"github.com/samber/lo"
)

// Stats holds the atomic counters exposed by the Facade's stats()
// operation (component J). Every field is touched from multiple
// Dispatcher Loops concurrently, so all updates go through sync/atomic
// rather than a mutex, per spec §5's "stats counters → atomic increments."
type Stats struct {
	success uint64
	failure uint64
	retry   uint64
	slots   []*AccountSlot
}

// StatsSnapshot is a point-in-time read of Stats.
type StatsSnapshot struct {
	Success uint64
	Failure uint64
	Retry   uint64
	Pending int
}

func newStats(slots []*AccountSlot) *Stats {
	return &Stats{slots: slots}
}

func (s *Stats) incSuccess() { atomic.AddUint64(&s.success, 1) }
func (s *Stats) incFailure() { atomic.AddUint64(&s.failure, 1) }
func (s *Stats) incRetry()   { atomic.AddUint64(&s.retry, 1) }

// snapshot sums pending items across every account's queue so stats()
// reflects total outstanding work, not just one account's, the way
// infra/types.go reaches for lo.SumBy instead of a hand-rolled
// accumulator loop over a slice.
func (s *Stats) snapshot() StatsSnapshot {
	pending := lo.SumBy(s.slots, func(slot *AccountSlot) int {
		return slot.Queue.pending()
	})
	return StatsSnapshot{
		Success: atomic.LoadUint64(&s.success),
		Failure: atomic.LoadUint64(&s.failure),
		Retry:   atomic.LoadUint64(&s.retry),
		Pending: pending,
	}
}
