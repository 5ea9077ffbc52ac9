package actor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/titus12/ma-service-go/actor/mailbox"
)

// WakePolicy 决定是否需要唤醒一个休眠的工作者
type WakePolicy struct {
	Workers int
}

// ShouldWake busy是调用方认为仍在忙碌的工作者数量，休眠数不少于其余数量时才唤醒
func (p WakePolicy) ShouldWake(sleeping, busy int) bool {
	return sleeping >= p.Workers-busy
}

// 固定数量的工作者，外加一个定时协程和一个监控协程
type scheduler struct {
	sys      *System
	count    int
	policy   WakePolicy
	monitors []*Monitor

	mu       sync.Mutex
	cond     *sync.Cond
	sleeping int32

	wg sync.WaitGroup
}

func newScheduler(sys *System, count int) *scheduler {
	sc := &scheduler{
		sys:      sys,
		count:    count,
		policy:   WakePolicy{Workers: count},
		monitors: make([]*Monitor, count),
	}
	for i := range sc.monitors {
		sc.monitors[i] = &Monitor{}
	}
	sc.cond = sync.NewCond(&sc.mu)
	return sc
}

// Push 邮箱发布到就绪队列，同时按唤醒策略唤醒工作者
func (sc *scheduler) Push(q *mailbox.Mailbox) {
	sc.sys.ready.Push(q)
	sc.wakeup(0)
}

// 唤醒可能会丢失，定时协程会兜底
func (sc *scheduler) wakeup(busy int) {
	if sc.policy.ShouldWake(int(atomic.LoadInt32(&sc.sleeping)), busy) {
		sc.cond.Signal()
	}
}

func (sc *scheduler) start() {
	sc.wg.Add(sc.count + 2)
	go sc.monitor()
	go sc.timer()
	for i := 0; i < sc.count; i++ {
		go sc.worker(sc.monitors[i])
	}
	sc.sys.log.WithField("workers", sc.count).Info("scheduler started")
}

func (sc *scheduler) wait() {
	sc.wg.Wait()
}

func (sc *scheduler) quit() bool {
	select {
	case <-sc.sys.done:
		return true
	default:
		return false
	}
}

func (sc *scheduler) worker(m *Monitor) {
	defer sc.wg.Done()
	defer sc.drain(m)
	for {
		if sc.quit() {
			return
		}
		if sc.sys.dispatchMessage(m) {
			continue
		}

		sc.mu.Lock()
		if sc.quit() {
			sc.mu.Unlock()
			return
		}
		atomic.AddInt32(&sc.sleeping, 1)
		sc.sys.metrics.sleeping.Inc()
		sc.cond.Wait()
		atomic.AddInt32(&sc.sleeping, -1)
		sc.sys.metrics.sleeping.Dec()
		sc.mu.Unlock()
	}
}

// 退出前清掉就绪队列里已销毁actor的邮箱，释放其中组播消息的引用
func (sc *scheduler) drain(m *Monitor) {
	for sc.sys.ready.Len() > 0 {
		sc.sys.dispatchMessage(m)
	}
}

func (sc *scheduler) timer() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.sys.tick)
	defer ticker.Stop()

	for {
		select {
		case <-sc.sys.done:
			// 唤醒所有工作者让它们退出
			sc.mu.Lock()
			sc.cond.Broadcast()
			sc.mu.Unlock()
			return
		case <-ticker.C:
			sc.wakeup(sc.count - 1)
		}
	}
}

func (sc *scheduler) monitor() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.sys.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.sys.done:
			return
		case <-ticker.C:
			for _, m := range sc.monitors {
				source, destination, endless := m.Check()
				if !endless {
					continue
				}
				sc.sys.markEndless(destination)
				sc.sys.metrics.endless.Inc()
				sc.sys.log.WithFields(logrus.Fields{
					"source":      source,
					"destination": destination,
				}).Warn("a message maybe in an endless loop")
			}
		}
	}
}
