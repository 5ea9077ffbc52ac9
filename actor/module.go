package actor

import (
	"sync"

	"github.com/pkg/errors"
)

// Instance 一个服务模块的实例，每个actor持有一个
type Instance interface {
	// 初始化，通常在这里调用ctx.SetCallback
	Init(ctx *Context, param string) error
	// actor销毁时调用
	Release()
}

// Creator 创建模块实例的工厂方法
type Creator func() Instance

var (
	modMu   sync.RWMutex
	modules = make(map[string]Creator)
)

// RegisterModule 注册服务模块，一般在服务包的init中调用
func RegisterModule(name string, c Creator) {
	modMu.Lock()
	defer modMu.Unlock()
	if c == nil {
		panic("actor: RegisterModule creator is nil")
	}
	if _, dup := modules[name]; dup {
		panic("actor: RegisterModule called twice for " + name)
	}
	modules[name] = c
}

// 查询模块
func queryModule(name string) (Creator, error) {
	modMu.RLock()
	c, ok := modules[name]
	modMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrModuleNotExist, "module %s", name)
	}
	return c, nil
}

// Modules 已注册的模块名
func Modules() []string {
	modMu.RLock()
	defer modMu.RUnlock()
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	return names
}

// InstanceFunc 把一个回调包装成模块实例，适合不需要状态的简单服务
type InstanceFunc Callback

func (f InstanceFunc) Init(ctx *Context, param string) error {
	ctx.SetCallback(nil, Callback(f))
	return nil
}

func (f InstanceFunc) Release() {}
