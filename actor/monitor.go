package actor

import (
	"sync/atomic"

	"github.com/titus12/ma-service-go/handle"
)

// Monitor 每个工作者一个，记录正在处理的消息。
// 两次检查之间版本号没变并且目标不为0，说明这条消息处理得太久了
type Monitor struct {
	version      int32
	checkVersion int32
	source       uint32
	destination  uint32
}

// Trigger 开始处理消息时记录来源和目标，处理完后以(0,0)调用
func (m *Monitor) Trigger(source, destination handle.Handle) {
	atomic.StoreUint32(&m.source, uint32(source))
	atomic.StoreUint32(&m.destination, uint32(destination))
	atomic.AddInt32(&m.version, 1)
}

// Check 由监控协程周期调用，返回疑似死循环的消息
func (m *Monitor) Check() (source, destination handle.Handle, endless bool) {
	version := atomic.LoadInt32(&m.version)
	if version == m.checkVersion {
		destination = handle.Handle(atomic.LoadUint32(&m.destination))
		if destination != 0 {
			source = handle.Handle(atomic.LoadUint32(&m.source))
			return source, destination, true
		}
		return 0, 0, false
	}
	m.checkVersion = version
	return 0, 0, false
}
