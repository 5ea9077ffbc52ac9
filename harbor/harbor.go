// 跨节点的消息投递。句柄的高8位是节点编号，发往其他节点的消息经由Transport传到目标节点，
// 全局名字由NameService解析
package harbor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	caching "github.com/titus12/gcache"
	"github.com/titus12/gcache/cache"

	"github.com/titus12/ma-service-go/handle"
)

var (
	ErrUnknownName = errors.New("global name not found")  // 全局名字不存在
	ErrNotRemote   = errors.New("destination not remote") // 目标不在其他节点
	ErrClosed      = errors.New("harbor closed")          // 已经关闭
	ErrTxQueueFull = errors.New("harbor send box full")   // 发件箱已满
)

const (
	defaultQueryTimeout = 3 * time.Second
	nameCacheExpiration = time.Minute // 全局名字解析结果的缓存时间，过期后重新查询
)

// Deliver 收到其他节点的数据包时调用
type Deliver func(p *Packet)

// Transport 节点之间的传输层
type Transport interface {
	Send(harbor uint8, p *Packet) error
	// 开始接收发往本节点的数据包，直到Close
	Listen(harbor uint8, deliver Deliver) error
	Close() error
}

// NameService 全局名字服务
type NameService interface {
	Register(ctx context.Context, name string, h handle.Handle) error
	Query(ctx context.Context, name string) (handle.Handle, error)
}

// Harbor 一个节点的跨节点投递
type Harbor struct {
	id        uint8
	transport Transport
	names     NameService

	// 已解析过的全局名字，gcache的LRU在Get时也会调整链表，访问要持有mu
	mu        sync.Mutex
	cache     *caching.GCache
	closeOnce sync.Once
}

func New(id int, transport Transport, names NameService) (*Harbor, error) {
	if id <= 0 || id > 0xff {
		return nil, errors.Errorf("harbor id %d out of range", id)
	}
	nameCache, err := caching.NewGCache(caching.Config{
		Shards:        16,
		Expiration:    nameCacheExpiration,
		CleanInterval: 5 * time.Minute,
		MaxEntrySize:  4096,
		EvictType:     cache.TYPE_LRU,
		Logger:        caching.DefaultLogger(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create name cache")
	}
	return &Harbor{
		id:        uint8(id),
		transport: transport,
		names:     names,
		cache:     nameCache,
	}, nil
}

func (h *Harbor) ID() uint8 {
	return h.id
}

// IsRemote 句柄属于其他节点
func (h *Harbor) IsRemote(dst handle.Handle) bool {
	id := dst.Harbor()
	return id != 0 && id != h.id
}

// Start 开始接收
func (h *Harbor) Start(deliver Deliver) error {
	return h.transport.Listen(h.id, deliver)
}

func (h *Harbor) Close() error {
	h.closeOnce.Do(func() {
		h.cache.Close()
	})
	return h.transport.Close()
}

func (h *Harbor) cached(name string) (handle.Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.cache.Get(name)
	if !ok {
		return 0, false
	}
	return v.(handle.Handle), true
}

func (h *Harbor) remember(name string, dst handle.Handle) {
	h.mu.Lock()
	h.cache.Set(name, dst)
	h.mu.Unlock()
}

// Send 按句柄或全局名字发送到其他节点
func (h *Harbor) Send(msg *RemoteMessage, source handle.Handle, session int32) error {
	dst := handle.Handle(msg.Destination.Handle)
	if dst == 0 {
		var err error
		if dst, err = h.resolve(msg.Destination.Name); err != nil {
			return err
		}
	}

	p := &Packet{
		Source:      uint32(source),
		Destination: uint32(dst),
		Session:     session,
		Type:        msg.Type,
		Data:        msg.Message,
	}
	if !h.IsRemote(dst) {
		// 全局名字可能就在本节点
		if dst.Harbor() == h.id {
			return h.transport.Send(h.id, p)
		}
		return errors.Wrapf(ErrNotRemote, "destination %v", dst)
	}
	return h.transport.Send(dst.Harbor(), p)
}

// Register 注册全局名字
func (h *Harbor) Register(name string, dst handle.Handle) error {
	if h.names == nil {
		return errors.Wrap(ErrUnknownName, "no name service")
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()
	if err := h.names.Register(ctx, name, dst); err != nil {
		return err
	}
	h.remember(name, dst)
	return nil
}

func (h *Harbor) resolve(name string) (handle.Handle, error) {
	if dst, ok := h.cached(name); ok {
		return dst, nil
	}
	if h.names == nil {
		return 0, errors.Wrapf(ErrUnknownName, "name %s", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()
	dst, err := h.names.Query(ctx, name)
	if err != nil {
		return 0, err
	}
	h.remember(name, dst)
	return dst, nil
}
