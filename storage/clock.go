package storage

import (
	"sync/atomic"
	"time"
)

var lastCreation int64

// nextCreationTime returns a strictly increasing millisecond timestamp.
// Creation times double as pagination boundaries, so two documents created
// within the same millisecond must still order deterministically.
func nextCreationTime() int64 {
	for {
		now := time.Now().UnixMilli()
		last := atomic.LoadInt64(&lastCreation)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastCreation, last, now) {
			return now
		}
	}
}
