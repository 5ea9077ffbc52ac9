package actor

import (
	"github.com/titus12/ma-service-go/handle"
	"github.com/titus12/ma-service-go/harbor"
)

// Harbor 跨节点投递，由harbor包实现
type Harbor interface {
	// 句柄是否属于其他节点
	IsRemote(h handle.Handle) bool
	// 发送到其他节点，目标可以是句柄也可以是全局名字
	Send(msg *harbor.RemoteMessage, source handle.Handle, session int32) error
	// 注册全局名字
	Register(name string, h handle.Handle) error
}

// SocketServer 网络层，由gate包实现
type SocketServer interface {
	// data是已经编码好的完整数据，调用后所有权交给网络层
	Send(id int, data []byte) error
	Close(id int) error
}

// DeliverRemote 把其他节点发来的消息投递到本地邮箱
func (s *System) DeliverRemote(p *harbor.Packet) {
	if _, err := s.send(nil, handle.Handle(p.Source), handle.Handle(p.Destination), p.Type|PTypeTagDontCopy, p.Session, p.Data); err != nil {
		s.log.WithError(err).WithField("packet", p.String()).Warn("deliver remote message failed")
	}
}
