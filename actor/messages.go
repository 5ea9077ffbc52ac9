package actor

import (
	"github.com/titus12/ma-service-go/actor/mailbox"
	"github.com/titus12/ma-service-go/handle"
)

// 消息类型，占用消息大小字段的高8位
const (
	PTypeText          = 0
	PTypeResponse      = 1
	PTypeMulticast     = 2
	PTypeClient        = 3
	PTypeSystem        = 4
	PTypeHarbor        = 5
	PTypeSocket        = 6
	PTypeReserved0     = 7
	PTypeReservedQueue = 8
	PTypeReservedDebug = 9
	PTypeReservedLua   = 10
)

// 发送标记，只在发送时使用，不会进入邮箱
const (
	PTypeTagDontCopy     = 0x10000 // 直接转移消息内容的所有权，不做复制
	PTypeTagAllocSession = 0x20000 // 由发送方分配一个新的会话号
)

// Callback actor的消息处理函数，返回true表示消息内容被保留使用
type Callback func(ctx *Context, ud interface{}, typ int, session int32, source handle.Handle, msg []byte) bool

type Message = mailbox.Message
