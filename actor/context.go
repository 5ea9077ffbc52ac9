package actor

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/titus12/ma-service-go/actor/mailbox"
	"github.com/titus12/ma-service-go/handle"
)

// Context actor的上下文，由注册表、创建者以及正在投递消息的工作者共同引用，
// 引用计数归零时销毁
type Context struct {
	sys      *System
	name     string // 模块名
	instance Instance
	queue    *mailbox.Mailbox
	handle   handle.Handle

	ud interface{}
	cb Callback

	ref       int32
	sessionID int32
	init      int32
	endless   int32
}

func (ctx *Context) Handle() handle.Handle {
	return ctx.handle
}

// 所属的运行时
func (ctx *Context) System() *System {
	return ctx.sys
}

// 模块名
func (ctx *Context) Module() string {
	return ctx.name
}

func (ctx *Context) String() string {
	return fmt.Sprintf("%s%v", ctx.name, ctx.handle)
}

// BindHandle 在注册表的写锁内调用，句柄和邮箱在actor可见之前就绪
func (ctx *Context) BindHandle(h handle.Handle) {
	ctx.handle = h
	ctx.queue = mailbox.New(h, ctx.sys.sched)
}

// SetCallback 设置消息处理函数，只应在Init或消息处理中调用
func (ctx *Context) SetCallback(ud interface{}, cb Callback) {
	ctx.ud = ud
	ctx.cb = cb
}

// Grab 增加引用
func (ctx *Context) Grab() {
	atomic.AddInt32(&ctx.ref, 1)
}

// Release 减少引用，归零时销毁
func (ctx *Context) Release() {
	ref := atomic.AddInt32(&ctx.ref, -1)
	if ref == 0 {
		ctx.sys.deleteContext(ctx)
	} else if ref < 0 {
		panic(fmt.Sprintf("actor %v released too many times", ctx))
	}
}

// 会话号溢出后从1重新开始
func nextSession(id int32) int32 {
	if id <= 0 || id == math.MaxInt32 {
		return 1
	}
	return id + 1
}

// NewSession 分配一个新的会话号，始终为正数
func (ctx *Context) NewSession() int32 {
	for {
		id := atomic.LoadInt32(&ctx.sessionID)
		session := nextSession(id)
		if atomic.CompareAndSwapInt32(&ctx.sessionID, id, session) {
			return session
		}
	}
}

// Endless 是否被监控判定为死循环，读取后清除标记
func (ctx *Context) Endless() bool {
	return atomic.SwapInt32(&ctx.endless, 0) == 1
}

func (ctx *Context) initialized() bool {
	return atomic.LoadInt32(&ctx.init) == 1
}

// Lock 保留下一个会话号，它的回应会优先于邮箱里的其他消息处理
func (ctx *Context) Lock() error {
	if !ctx.initialized() {
		return ErrNotInitialized
	}
	return ctx.queue.Lock(nextSession(atomic.LoadInt32(&ctx.sessionID)))
}

// Send 发送消息，source为0时使用自己的句柄
func (ctx *Context) Send(source, destination handle.Handle, typ int, session int32, data []byte) (int32, error) {
	return ctx.sys.send(ctx, source, destination, typ, session, data)
}

// SendName 按名字发送消息
func (ctx *Context) SendName(source handle.Handle, addr string, typ int, session int32, data []byte) (int32, error) {
	return ctx.sys.sendName(ctx, source, addr, typ, session, data)
}

// Error 记录一条错误日志，优先交给.logger服务
func (ctx *Context) Error(format string, args ...interface{}) {
	ctx.sys.Error(ctx, format, args...)
}
