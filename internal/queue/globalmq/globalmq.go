// 全局就绪队列，存放有消息待处理的邮箱
package globalmq

import (
	"sync/atomic"
	"unsafe"

	"github.com/titus12/ma-service-go/actor/mailbox"
)

// DefaultCapacity 默认槽位数，同时处于就绪状态的邮箱不应超过这个数量
const DefaultCapacity = 0x10000

// Queue 固定容量的环形队列，多生产者多消费者。
// 生产者先用原子加法占位，写入后再置发布标记；消费者只在队头已发布时才去抢队头
type Queue struct {
	head  uint32
	tail  uint32
	mask  uint32
	slots []unsafe.Pointer
	flags []int32
}

// New 容量向上取整到2的幂，计数器溢出回绕后取模结果依然连续
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Queue{
		mask:  uint32(n - 1),
		slots: make([]unsafe.Pointer, n),
		flags: make([]int32, n),
	}
}

func (q *Queue) Push(mb *mailbox.Mailbox) {
	pos := (atomic.AddUint32(&q.tail, 1) - 1) & q.mask
	atomic.StorePointer(&q.slots[pos], unsafe.Pointer(mb))
	atomic.StoreInt32(&q.flags[pos], 1)
}

// Pop 队列为空、队头还没发布完或者抢队头失败时返回nil，调用者稍后重试即可
func (q *Queue) Pop() *mailbox.Mailbox {
	head := atomic.LoadUint32(&q.head)
	if head == atomic.LoadUint32(&q.tail) {
		return nil
	}
	pos := head & q.mask
	if atomic.LoadInt32(&q.flags[pos]) == 0 {
		return nil
	}
	mb := (*mailbox.Mailbox)(atomic.LoadPointer(&q.slots[pos]))
	if !atomic.CompareAndSwapUint32(&q.head, head, head+1) {
		return nil
	}
	atomic.StoreInt32(&q.flags[pos], 0)
	return mb
}

// 近似长度
func (q *Queue) Len() int {
	return int(atomic.LoadUint32(&q.tail) - atomic.LoadUint32(&q.head))
}

func (q *Queue) Cap() int {
	return len(q.slots)
}
