package domain

import (
	"sync/atomic"
	"time"
)

var lastTimestamp atomic.Int64

// nextTimestamp returns wall-clock nanoseconds, strictly increasing within the
// process so that assignment order survives sorting.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := lastTimestamp.Load()
		if now <= last {
			now = last + 1
		}
		if lastTimestamp.CompareAndSwap(last, now) {
			return now
		}
	}
}
