package dispatch

import "sync/atomic"

// router assigns a submission to an account slot by a monotonically
// incrementing counter modulo N, per spec §4.8. Callers may force a
// specific index; forced calls still advance the counter so coarse
// round-robin fairness holds across both forced and unforced traffic.
//
// The counter is a plain atomic uint64, not anything stronger: spec §4.8
// and §5 both say precise atomicity isn't required, only "coarse
// fairness," so a simple Add suffices without further coordination.
type router struct {
	counter uint64
	n       int
}

func newRouter(n int) *router {
	return &router{n: n}
}

// next returns the next round-robin account index, or forceIndex if
// forceIndex >= 0.
func (r *router) next(forceIndex int) int {
	c := atomic.AddUint64(&r.counter, 1)
	if forceIndex >= 0 {
		return forceIndex
	}
	return int(c % uint64(r.n))
}
