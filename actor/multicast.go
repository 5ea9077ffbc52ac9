package actor

import (
	"sync/atomic"

	"github.com/titus12/ma-service-go/actor/mailbox"
	"github.com/titus12/ma-service-go/handle"
)

// Multicast 组播单元，同一份数据投递给多个actor，最后一个引用释放时回收
type Multicast struct {
	data   []byte
	ref    int32
	onFree func()
}

func newMulticast(data []byte, ref int, onFree func()) *Multicast {
	return &Multicast{data: data, ref: int32(ref), onFree: onFree}
}

// 剩余引用
func (mc *Multicast) Refs() int {
	return int(atomic.LoadInt32(&mc.ref))
}

func (mc *Multicast) release() {
	ref := atomic.AddInt32(&mc.ref, -1)
	if ref == 0 {
		mc.data = nil
		if mc.onFree != nil {
			mc.onFree()
		}
	} else if ref < 0 {
		panic("actor: multicast released too many times")
	}
}

func releaseMulticast(msg *Message) {
	if mc, ok := msg.Ref.(*Multicast); ok {
		mc.release()
	}
}

// Multicast 把data投递给多个actor，数据只保存一份。
// 每个接收者处理完或者邮箱销毁时释放一次引用，onFree在全部释放后调用一次
func (s *System) Multicast(source handle.Handle, destinations []handle.Handle, data []byte, onFree func()) (*Multicast, error) {
	if len(data) > mailbox.MaxSize {
		return nil, ErrMessageTooLarge
	}
	mc := newMulticast(data, len(destinations), onFree)
	if len(destinations) == 0 {
		mc.ref = 1
		mc.release()
		return mc, nil
	}
	delivered := 0
	for _, h := range destinations {
		msg := &Message{
			Source: source,
			Sz:     mailbox.Pack(PTypeMulticast, 0),
			Ref:    mc,
		}
		if err := s.pushMessage(h, msg); err != nil {
			s.metrics.dropped.Inc()
			mc.release()
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return mc, ErrNoDestination
	}
	return mc, nil
}
