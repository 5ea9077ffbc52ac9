package gate

import (
	"sync"
)

// 在线连接
type registry struct {
	records map[int]*session
	sync.RWMutex
}

func (r *registry) init() {
	r.records = make(map[int]*session)
}

func (r *registry) register(s *session) {
	r.Lock()
	r.records[s.id] = s
	r.Unlock()
}

func (r *registry) unregister(id int) {
	r.Lock()
	delete(r.records, id)
	r.Unlock()
}

func (r *registry) query(id int) *session {
	r.RLock()
	s := r.records[id]
	r.RUnlock()
	return s
}

// Count 在线连接数
func (r *registry) Count() int {
	r.RLock()
	n := len(r.records)
	r.RUnlock()
	return n
}

func (r *registry) all() []*session {
	r.RLock()
	defer r.RUnlock()
	list := make([]*session, 0, len(r.records))
	for _, s := range r.records {
		list = append(list, s)
	}
	return list
}
