package actor

import (
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/titus12/ma-service-go/handle"
)

// 从就绪队列取一个邮箱处理一条消息，就绪队列为空时返回false
func (s *System) dispatchMessage(m *Monitor) bool {
	q := s.ready.Pop()
	if q == nil {
		return false
	}

	h := q.Handle()
	ctx := s.Grab(h)
	if ctx == nil {
		if n := q.Release(s.dropMessage); n > 0 {
			s.log.WithFields(logrus.Fields{
				"handle": h,
				"count":  n,
			}).Warn("drop message queue")
		}
		return true
	}

	msg, ok := q.Pop()
	if !ok {
		ctx.Release()
		return true
	}

	m.Trigger(msg.Source, h)
	if ctx.cb == nil {
		s.dropMessage(&msg)
		s.log.WithFields(logrus.Fields{
			"source":      msg.Source,
			"destination": h,
			"type":        msg.Type(),
			"size":        msg.Size(),
		}).Warn("drop message without callback")
	} else {
		s.invoke(ctx, &msg)
	}
	s.metrics.dispatched.Inc()

	q.PushGlobal()
	ctx.Release()
	m.Trigger(0, 0)
	return true
}

// 调用actor的消息处理函数，处理函数里的panic不会影响工作者
func (s *System) invoke(ctx *Context, msg *Message) {
	typ := msg.Type()
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{
				"actor":  ctx.String(),
				"reason": r,
				"stack":  panicSite(4),
			}).Error("callback panic")
			s.log.Debug(spew.Sdump(msg))
		}
		if typ == PTypeMulticast {
			releaseMulticast(msg)
		}
	}()

	if typ == PTypeMulticast {
		mc, _ := msg.Ref.(*Multicast)
		if mc != nil {
			ctx.cb(ctx, ctx.ud, typ, msg.Session, msg.Source, mc.data)
		}
		return
	}
	ctx.cb(ctx, ctx.ud, typ, msg.Session, msg.Source, msg.Data)
}

// 丢弃一条消息，组播消息要释放引用
func (s *System) dropMessage(msg *Message) {
	if msg.Type() == PTypeMulticast {
		releaseMulticast(msg)
	}
	s.metrics.dropped.Inc()
}

// 由监控协程调用
func (s *System) markEndless(h handle.Handle) {
	ctx := s.Grab(h)
	if ctx == nil {
		return
	}
	atomic.StoreInt32(&ctx.endless, 1)
	ctx.Release()
}
