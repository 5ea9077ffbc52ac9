package harbor

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/titus12/ma-service-go/handle"
)

// MemoryNames 进程内的名字服务，单机或测试时使用
type MemoryNames struct {
	sync.RWMutex
	names map[string]handle.Handle
}

func NewMemoryNames() *MemoryNames {
	return &MemoryNames{names: make(map[string]handle.Handle)}
}

func (m *MemoryNames) Register(ctx context.Context, name string, h handle.Handle) error {
	m.Lock()
	m.names[name] = h
	m.Unlock()
	return nil
}

func (m *MemoryNames) Query(ctx context.Context, name string) (handle.Handle, error) {
	m.RLock()
	h, ok := m.names[name]
	m.RUnlock()
	if !ok {
		return 0, errors.Wrapf(ErrUnknownName, "name %s", name)
	}
	return h, nil
}
