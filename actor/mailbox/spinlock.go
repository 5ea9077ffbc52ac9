package mailbox

import (
	"runtime"
	"sync/atomic"
)

const spinLimit = 64 // 自旋多少次后让出时间片

// 邮箱的临界区都很短，用自旋锁
type spinLock int32

func (l *spinLock) Lock() {
	for i := 0; !atomic.CompareAndSwapInt32((*int32)(l), 0, 1); i++ {
		if i >= spinLimit {
			runtime.Gosched()
			i = 0
		}
	}
}

func (l *spinLock) Unlock() {
	atomic.StoreInt32((*int32)(l), 0)
}
