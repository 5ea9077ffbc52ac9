package harbor

import (
	"sync"

	"github.com/pkg/errors"
)

// LocalHub 进程内的传输中心，多个运行时实例在同一进程里互相投递
type LocalHub struct {
	sync.RWMutex
	nodes map[uint8]Deliver
}

func NewLocalHub() *LocalHub {
	return &LocalHub{nodes: make(map[uint8]Deliver)}
}

// Transport 为一个节点创建传输层
func (hub *LocalHub) Transport() *LocalTransport {
	return &LocalTransport{hub: hub}
}

type LocalTransport struct {
	hub *LocalHub
	id  uint8
}

func (t *LocalTransport) Send(harbor uint8, p *Packet) error {
	t.hub.RLock()
	deliver, ok := t.hub.nodes[harbor]
	t.hub.RUnlock()
	if !ok {
		return errors.Errorf("harbor %d not connected", harbor)
	}
	deliver(p)
	return nil
}

func (t *LocalTransport) Listen(harbor uint8, deliver Deliver) error {
	t.hub.Lock()
	defer t.hub.Unlock()
	if _, ok := t.hub.nodes[harbor]; ok {
		return errors.Errorf("harbor %d already listening", harbor)
	}
	t.id = harbor
	t.hub.nodes[harbor] = deliver
	return nil
}

func (t *LocalTransport) Close() error {
	t.hub.Lock()
	delete(t.hub.nodes, t.id)
	t.hub.Unlock()
	return nil
}
