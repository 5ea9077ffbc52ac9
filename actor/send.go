package actor

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/titus12/ma-service-go/actor/mailbox"
	"github.com/titus12/ma-service-go/handle"
	"github.com/titus12/ma-service-go/harbor"
)

// Send 不属于任何actor的发送入口，网络层和跨节点投递通过它把消息送进邮箱
func (s *System) Send(source, destination handle.Handle, typ int, session int32, data []byte) (int32, error) {
	return s.send(nil, source, destination, typ, session, data)
}

// SendName 不属于任何actor的按名字发送
func (s *System) SendName(source handle.Handle, addr string, typ int, session int32, data []byte) (int32, error) {
	return s.sendName(nil, source, addr, typ, session, data)
}

// 处理发送标记：分配会话号、复制消息内容、检查大小
func (s *System) prepare(ctx *Context, source handle.Handle, typ int, session int32, data []byte) (handle.Handle, int, int32, []byte, error) {
	if typ&PTypeTagAllocSession != 0 {
		if session != 0 {
			return 0, 0, 0, nil, ErrSessionNotZero
		}
		if ctx == nil {
			return 0, 0, 0, nil, errors.Wrap(ErrNotInitialized, "alloc session without context")
		}
		session = ctx.NewSession()
	}
	if len(data) > mailbox.MaxSize {
		return 0, 0, 0, nil, errors.Wrapf(ErrMessageTooLarge, "size %d", len(data))
	}
	if typ&PTypeTagDontCopy == 0 && data != nil {
		buf := make([]byte, len(data))
		copy(buf, data)
		data = buf
	}
	if source == 0 && ctx != nil {
		source = ctx.handle
	}
	return source, typ & 0xff, session, data, nil
}

func (s *System) send(ctx *Context, source, destination handle.Handle, typ int, session int32, data []byte) (int32, error) {
	source, typ, session, data, err := s.prepare(ctx, source, typ, session, data)
	if err != nil {
		return 0, err
	}
	if destination == 0 {
		// 只分配会话号
		if data != nil {
			s.metrics.dropped.Inc()
			return session, errors.Wrap(ErrNoDestination, "destination can't be 0")
		}
		return session, nil
	}

	if dst := destination.Harbor(); dst != 0 && dst != s.handles.Harbor() {
		if s.harbor == nil {
			return session, errors.Wrapf(ErrNoHarbor, "destination %v", destination)
		}
		rmsg := &harbor.RemoteMessage{
			Destination: harbor.RemoteName{Handle: uint32(destination)},
			Message:     data,
			Type:        typ,
		}
		return session, s.harbor.Send(rmsg, source, session)
	}

	msg := &Message{
		Source:  source,
		Session: session,
		Data:    data,
		Sz:      mailbox.Pack(typ, len(data)),
	}
	if err := s.pushMessage(destination, msg); err != nil {
		s.metrics.dropped.Inc()
		s.log.WithFields(logrus.Fields{
			"source":      source,
			"destination": destination,
			"type":        typ,
			"size":        len(data),
		}).Debug("drop message")
		return session, err
	}
	return session, nil
}

func (s *System) sendName(ctx *Context, source handle.Handle, addr string, typ int, session int32, data []byte) (int32, error) {
	if addr == "" {
		return 0, ErrBadName
	}
	switch addr[0] {
	case ':':
		h, err := handle.Parse(addr)
		if err != nil {
			return 0, errors.Wrap(ErrBadName, err.Error())
		}
		return s.send(ctx, source, h, typ, session, data)
	case '.':
		h := s.handles.FindName(addr)
		if h == 0 {
			s.metrics.dropped.Inc()
			return 0, errors.Wrapf(ErrNoDestination, "name %s", addr)
		}
		return s.send(ctx, source, h, typ, session, data)
	}

	// 全局名字交给跨节点投递去解析
	if s.harbor == nil {
		return 0, errors.Wrapf(ErrNoHarbor, "name %s", addr)
	}
	source, typ, session, data, err := s.prepare(ctx, source, typ, session, data)
	if err != nil {
		return 0, err
	}
	rmsg := &harbor.RemoteMessage{
		Destination: harbor.RemoteName{Name: addr},
		Message:     data,
		Type:        typ,
	}
	return session, s.harbor.Send(rmsg, source, session)
}

// 压入目标actor的邮箱
func (s *System) pushMessage(h handle.Handle, msg *Message) error {
	ctx := s.Grab(h)
	if ctx == nil {
		return errors.Wrapf(ErrNoDestination, "handle %v", h)
	}
	ctx.queue.Push(msg)
	ctx.Release()
	return nil
}
