package handle

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

const (
	defaultSlotSize = 4 // 槽位表初始大小，必须是2的幂
	defaultNameCap  = 2 // 名字表初始容量
)

var (
	ErrExhausted = errors.New("handle space exhausted") // 24位序号空间用完
	ErrNameTaken = errors.New("name already bound")     // 名字已被占用
	ErrBadHarbor = errors.New("harbor id out of range") // 节点编号超过8位
)

// Context 注册表持有的对象，需要支持引用计数
type Context interface {
	Grab()
	Release()
}

// Binder 注册时在写锁内拿到分配的句柄，其他协程Grab到它之前就已经完成绑定
type Binder interface {
	BindHandle(h Handle)
}

type entry struct {
	handle Handle
	ctx    Context
}

type nameEntry struct {
	name   string
	handle Handle
}

// Storage 句柄注册表，开放寻址的槽位表加上按名字排序的数组
type Storage struct {
	sync.RWMutex

	harbor Handle // 已经左移过的节点编号
	index  uint32 // 下次分配的起始序号
	slots  []*entry

	names []nameEntry
}

func New(harbor int) (*Storage, error) {
	if harbor < 0 || harbor > 0xff {
		return nil, errors.Wrapf(ErrBadHarbor, "harbor %d", harbor)
	}
	return &Storage{
		harbor: Handle(harbor) << RemoteShift,
		index:  1,
		slots:  make([]*entry, defaultSlotSize),
		names:  make([]nameEntry, 0, defaultNameCap),
	}, nil
}

// 本注册表的节点编号
func (s *Storage) Harbor() uint8 {
	return s.harbor.Harbor()
}

// Register 为ctx分配一个句柄，表满时容量翻倍重新散列
func (s *Storage) Register(ctx Context) (Handle, error) {
	s.Lock()
	defer s.Unlock()

	for {
		size := uint32(len(s.slots))
		for i := uint32(0); i < size; i++ {
			local := (i + s.index) & uint32(Mask)
			if local == 0 {
				continue
			}
			hash := local & (size - 1)
			if s.slots[hash] == nil {
				h := Handle(local) | s.harbor
				if b, ok := ctx.(Binder); ok {
					b.BindHandle(h)
				}
				s.slots[hash] = &entry{handle: h, ctx: ctx}
				s.index = local + 1
				return h, nil
			}
		}
		if size*2-1 > uint32(Mask) {
			return 0, ErrExhausted
		}
		s.grow(size * 2)
	}
}

// 调用者持有写锁
func (s *Storage) grow(newSize uint32) {
	slots := make([]*entry, newSize)
	for _, e := range s.slots {
		if e == nil {
			continue
		}
		slots[uint32(e.handle&Mask)&(newSize-1)] = e
	}
	s.slots = slots
}

// Retire 回收句柄，同时解除绑定到它的所有名字。注册表持有的引用在解锁后释放
func (s *Storage) Retire(h Handle) bool {
	s.Lock()
	hash := uint32(h&Mask) & uint32(len(s.slots)-1)
	e := s.slots[hash]
	if e == nil || e.handle != h {
		s.Unlock()
		return false
	}
	s.slots[hash] = nil

	j := 0
	for i := range s.names {
		if s.names[i].handle == h {
			continue
		}
		if i != j {
			s.names[j] = s.names[i]
		}
		j++
	}
	for k := j; k < len(s.names); k++ {
		s.names[k] = nameEntry{}
	}
	s.names = s.names[:j]
	s.Unlock()

	e.ctx.Release()
	return true
}

// RetireAll 反复扫描直到一轮扫描中找不到任何存活的句柄
func (s *Storage) RetireAll() {
	for {
		n := 0
		for i := 0; ; i++ {
			s.RLock()
			if i >= len(s.slots) {
				s.RUnlock()
				break
			}
			e := s.slots[i]
			s.RUnlock()
			if e != nil {
				n++
				s.Retire(e.handle)
			}
		}
		if n == 0 {
			return
		}
	}
}

// Grab 查找句柄并增加其引用计数，找不到返回nil
func (s *Storage) Grab(h Handle) Context {
	s.RLock()
	defer s.RUnlock()

	e := s.slots[uint32(h&Mask)&uint32(len(s.slots)-1)]
	if e == nil || e.handle != h {
		return nil
	}
	e.ctx.Grab()
	return e.ctx
}

// 在有序名字表中的插入位置
func (s *Storage) search(name string) int {
	return sort.Search(len(s.names), func(i int) bool {
		return s.names[i].name >= name
	})
}

// BindName 绑定名字到句柄，名字已存在返回ErrNameTaken
func (s *Storage) BindName(name string, h Handle) (string, error) {
	s.Lock()
	defer s.Unlock()

	pos := s.search(name)
	if pos < len(s.names) && s.names[pos].name == name {
		return "", errors.Wrapf(ErrNameTaken, "name %s", name)
	}

	if len(s.names) == cap(s.names) {
		names := make([]nameEntry, len(s.names), cap(s.names)*2)
		copy(names, s.names)
		s.names = names
	}
	s.names = s.names[:len(s.names)+1]
	copy(s.names[pos+1:], s.names[pos:])
	s.names[pos] = nameEntry{name: name, handle: h}
	return name, nil
}

// FindName 查找名字对应的句柄，找不到返回0
func (s *Storage) FindName(name string) Handle {
	s.RLock()
	defer s.RUnlock()

	pos := s.search(name)
	if pos < len(s.names) && s.names[pos].name == name {
		return s.names[pos].handle
	}
	return 0
}

// Names 按名字顺序返回当前所有绑定的名字
func (s *Storage) Names() []string {
	s.RLock()
	defer s.RUnlock()

	names := make([]string, len(s.names))
	for i, n := range s.names {
		names[i] = n.name
	}
	return names
}

// 当前存活的句柄数量
func (s *Storage) Len() int {
	s.RLock()
	defer s.RUnlock()

	n := 0
	for _, e := range s.slots {
		if e != nil {
			n++
		}
	}
	return n
}
