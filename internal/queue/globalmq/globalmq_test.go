package globalmq

import (
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titus12/ma-service-go/actor/mailbox"
	"github.com/titus12/ma-service-go/handle"
)

func boxes(n int) []*mailbox.Mailbox {
	r := make([]*mailbox.Mailbox, n)
	for i := range r {
		r[i] = mailbox.New(handle.Handle(i+1), nil)
	}
	return r
}

func TestFIFO(t *testing.T) {
	q := New(16)
	bs := boxes(10)
	for _, b := range bs {
		q.Push(b)
	}
	assert.Equal(t, 10, q.Len())
	for _, b := range bs {
		assert.Same(t, b, q.Pop())
	}
	assert.Nil(t, q.Pop())
}

func TestCapacityRoundsUp(t *testing.T) {
	assert.Equal(t, 16, New(10).Cap())
	assert.Equal(t, DefaultCapacity, New(0).Cap())
}

func TestWrapAround(t *testing.T) {
	q := New(8)
	bs := boxes(5)
	for i := 0; i < 1000; i++ {
		for _, b := range bs {
			q.Push(b)
		}
		for _, b := range bs {
			require.Same(t, b, q.Pop(), "round %d", i)
		}
	}
	assert.Nil(t, q.Pop())
}

func TestCounterOverflow(t *testing.T) {
	q := New(8)
	q.head = ^uint32(0) - 2
	q.tail = q.head
	bs := boxes(6)
	for _, b := range bs {
		q.Push(b)
	}
	for _, b := range bs {
		require.Same(t, b, q.Pop())
	}
	assert.Nil(t, q.Pop())
}

func TestUnpublishedHeadLooksEmpty(t *testing.T) {
	q := New(8)
	// 占了位置但还没写入
	atomic.AddUint32(&q.tail, 1)
	assert.Nil(t, q.Pop())

	bs := boxes(2)
	q.Push(bs[1])
	assert.Nil(t, q.Pop())

	// 补上发布之后按占位顺序取出
	atomic.StorePointer(&q.slots[0], unsafe.Pointer(bs[0]))
	atomic.StoreInt32(&q.flags[0], 1)
	assert.Same(t, bs[0], q.Pop())
	assert.Same(t, bs[1], q.Pop())
	assert.Nil(t, q.Pop())
}

func TestConcurrentNoLossNoDup(t *testing.T) {
	q := New(DefaultCapacity)
	const producers, each = 4, 2000
	bs := boxes(producers * each)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Push(bs[p*each+i])
			}
		}(p)
	}

	var (
		mu   sync.Mutex
		seen = make(map[*mailbox.Mailbox]int)
		got  int32
	)
	var cw sync.WaitGroup
	for c := 0; c < 4; c++ {
		cw.Add(1)
		go func() {
			defer cw.Done()
			for atomic.LoadInt32(&got) < producers*each {
				b := q.Pop()
				if b == nil {
					continue
				}
				atomic.AddInt32(&got, 1)
				mu.Lock()
				seen[b]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	cw.Wait()

	assert.Len(t, seen, producers*each)
	for b, n := range seen {
		require.Equal(t, 1, n, "mailbox %v popped %d times", b.Handle(), n)
	}
}
