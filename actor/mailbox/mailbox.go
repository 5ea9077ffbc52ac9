package mailbox

import (
	"github.com/pkg/errors"

	"github.com/titus12/ma-service-go/handle"
)

// DefaultQueueSize 邮箱环形缓冲区的初始容量，满了之后翻倍，从不收缩
const DefaultQueueSize = 64

// 邮箱相对于全局就绪队列的状态
const (
	NotInGlobal int32 = iota // 不在就绪队列里，下一次投递会把它发布出去
	InGlobal                 // 在就绪队列里，或正被某个工作者处理
	Dispatching              // 正被工作者处理，且保留了一个会话号
	Locked                   // 保留了会话号，暂时不在就绪队列里
)

var (
	ErrLocked         = errors.New("mailbox already locked")      // 已经保留了会话号
	ErrNotDispatching = errors.New("mailbox is not dispatching")  // 只能在处理消息时保留会话号
	ErrNotLocked      = errors.New("mailbox has no session lock") // 没有保留会话号
)

// Publisher 邮箱通过它把自己发布到全局就绪队列
type Publisher interface {
	Push(q *Mailbox)
}

// Mailbox 每个actor一个的消息队列，多生产者，同一时刻只会有一个消费者
type Mailbox struct {
	handle handle.Handle
	pub    Publisher

	lock        spinLock
	head        int
	tail        int
	queue       []Message
	release     bool  // actor已经销毁，等待清空
	lockSession int32 // 保留的会话号，这个会话的回应会插到队头
	inGlobal    int32
}

// New 创建邮箱。新邮箱处于InGlobal状态但并没有真正发布，actor初始化完成后调用ForcePush
func New(h handle.Handle, pub Publisher) *Mailbox {
	return &Mailbox{
		handle:   h,
		pub:      pub,
		queue:    make([]Message, DefaultQueueSize),
		inGlobal: InGlobal,
	}
}

func (q *Mailbox) Handle() handle.Handle {
	return q.handle
}

// 当前消息数量
func (q *Mailbox) Len() int {
	q.lock.Lock()
	n := q.length()
	q.lock.Unlock()
	return n
}

// 当前容量
func (q *Mailbox) Cap() int {
	q.lock.Lock()
	n := len(q.queue)
	q.lock.Unlock()
	return n
}

// 当前状态
func (q *Mailbox) State() int32 {
	q.lock.Lock()
	s := q.inGlobal
	q.lock.Unlock()
	return s
}

func (q *Mailbox) length() int {
	cap := len(q.queue)
	return (q.tail - q.head + cap) % cap
}

// 把n条消息按顺序搬到新缓冲区的开头，容量翻倍
func (q *Mailbox) expand(n int) {
	cap := len(q.queue)
	queue := make([]Message, cap*2)
	for i := 0; i < n; i++ {
		queue[i] = q.queue[(q.head+i)%cap]
	}
	q.head = 0
	q.tail = n
	q.queue = queue
}

// Pop 取出队头的消息，队列为空时邮箱离开就绪队列
func (q *Mailbox) Pop() (msg Message, ok bool) {
	q.lock.Lock()
	if q.head != q.tail {
		msg = q.queue[q.head]
		q.queue[q.head] = Message{}
		q.head++
		if q.head >= len(q.queue) {
			q.head = 0
		}
		ok = true
	} else {
		q.inGlobal = NotInGlobal
	}
	q.lock.Unlock()
	return
}

// 调用者持有锁
func (q *Mailbox) pushHead(msg *Message) {
	cap := len(q.queue)
	if q.length() == cap-1 {
		q.expand(cap - 1)
		cap = len(q.queue)
	}
	q.head--
	if q.head < 0 {
		q.head = cap - 1
	}
	q.queue[q.head] = *msg
}

// 调用者持有锁
func (q *Mailbox) unlock() {
	if q.inGlobal == Locked {
		q.pub.Push(q)
		q.inGlobal = InGlobal
	} else if q.inGlobal != Dispatching {
		panic(errors.Errorf("mailbox %v unlock in state %d", q.handle, q.inGlobal))
	}
	q.lockSession = 0
}

// Push 投递消息。保留会话的回应插到队头并解除保留，其余消息追加到队尾
func (q *Mailbox) Push(msg *Message) {
	q.lock.Lock()

	if q.lockSession != 0 && msg.Session == q.lockSession {
		q.pushHead(msg)
		q.unlock()
	} else {
		q.queue[q.tail] = *msg
		q.tail++
		if q.tail >= len(q.queue) {
			q.tail = 0
		}
		if q.head == q.tail {
			q.expand(len(q.queue))
		}

		if q.lockSession == 0 && q.inGlobal == NotInGlobal {
			q.inGlobal = InGlobal
			q.pub.Push(q)
		}
	}

	q.lock.Unlock()
}

// Lock 在处理消息期间保留会话号，回应到达前邮箱不会再被调度
func (q *Mailbox) Lock(session int32) error {
	if session == 0 {
		return errors.Wrap(ErrNotLocked, "session 0")
	}
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.lockSession != 0 {
		return errors.Wrapf(ErrLocked, "mailbox %v session %d", q.handle, q.lockSession)
	}
	if q.inGlobal != InGlobal {
		return errors.Wrapf(ErrNotDispatching, "mailbox %v state %d", q.handle, q.inGlobal)
	}
	q.inGlobal = Dispatching
	q.lockSession = session
	return nil
}

// Unlock 放弃保留的会话号
func (q *Mailbox) Unlock() error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.lockSession == 0 {
		return errors.Wrapf(ErrNotLocked, "mailbox %v", q.handle)
	}
	q.unlock()
	return nil
}

// PushGlobal 工作者处理完一条消息后重新评估邮箱:
// 有保留会话时停在Locked，否则非空就重新发布，空了就离开就绪队列
func (q *Mailbox) PushGlobal() {
	q.lock.Lock()
	if q.inGlobal == Dispatching {
		q.inGlobal = Locked
	}
	if q.lockSession == 0 {
		if q.head != q.tail {
			q.inGlobal = InGlobal
			q.pub.Push(q)
		} else {
			q.inGlobal = NotInGlobal
		}
	}
	q.lock.Unlock()
}

// ForcePush 无条件发布到就绪队列
func (q *Mailbox) ForcePush() {
	q.lock.Lock()
	q.inGlobal = InGlobal
	q.pub.Push(q)
	q.lock.Unlock()
}

// MarkRelease actor销毁时调用，保证邮箱会被工作者取到并清空
func (q *Mailbox) MarkRelease() {
	q.lock.Lock()
	if q.release {
		q.lock.Unlock()
		panic(errors.Errorf("mailbox %v released twice", q.handle))
	}
	q.release = true
	if q.inGlobal != InGlobal {
		q.pub.Push(q)
		q.inGlobal = InGlobal
	}
	q.lock.Unlock()
}

// Release 已标记销毁时丢弃所有剩余消息并返回数量，否则重新发布等待标记
func (q *Mailbox) Release(drop func(msg *Message)) int {
	q.lock.Lock()
	if !q.release {
		q.pub.Push(q)
		q.lock.Unlock()
		return 0
	}
	q.lock.Unlock()

	n := 0
	for {
		msg, ok := q.Pop()
		if !ok {
			break
		}
		n++
		if drop != nil {
			drop(&msg)
		}
	}
	return n
}
