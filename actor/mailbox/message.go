package mailbox

import "github.com/titus12/ma-service-go/handle"

const (
	typeShift        = handle.RemoteShift // 消息类型存放在大小字段的高8位
	sizeMask  uint32 = uint32(handle.Mask)
	MaxSize          = int(sizeMask) // 单条消息的最大字节数
)

// Message 邮箱中的一条消息
type Message struct {
	Source  handle.Handle // 发送者
	Session int32         // 会话号，0表示不需要回应
	Data    []byte        // 消息内容，投递后所有权归接收者
	Sz      uint32        // 低24位是大小，高8位是消息类型
	Ref     interface{}   // 组播消息的引用计数单元，此时大小必须为0
}

// Pack 把消息类型折叠进大小字段
func Pack(typ int, size int) uint32 {
	return uint32(typ)<<typeShift | uint32(size)&sizeMask
}

// 消息类型
func (m *Message) Type() int {
	return int(m.Sz >> typeShift)
}

// 消息大小
func (m *Message) Size() int {
	return int(m.Sz & sizeMask)
}
