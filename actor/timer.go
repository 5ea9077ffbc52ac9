package actor

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/titus12/ma-service-go/actor/mailbox"
	"github.com/titus12/ma-service-go/handle"
)

type CancelFunc func()

const (
	stateInit = iota
	stateReady
	stateDone
)

func startTimer(delay time.Duration, fn func()) CancelFunc {
	var state int32
	t := time.AfterFunc(delay, func() {
		s := atomic.LoadInt32(&state)
		if s == stateInit {
			runtime.Gosched()
			s = atomic.LoadInt32(&state)
		}
		if s == stateDone {
			return
		}
		atomic.StoreInt32(&state, stateDone)
		fn()
	})
	atomic.CompareAndSwapInt32(&state, stateInit, stateReady)

	return func() {
		if atomic.SwapInt32(&state, stateDone) != stateDone {
			t.Stop()
		}
	}
}

// Timeout d之后向h投递一条带session的回应消息，d<=0时立即投递
func (s *System) Timeout(h handle.Handle, d time.Duration, session int32) CancelFunc {
	fire := func() {
		msg := &Message{
			Session: session,
			Sz:      mailbox.Pack(PTypeResponse, 0),
		}
		if err := s.pushMessage(h, msg); err != nil {
			s.log.WithError(err).WithField("session", session).Debug("timeout target gone")
		}
	}
	if d <= 0 {
		fire()
		return func() {}
	}
	return startTimer(d, fire)
}

// Now 启动以来经过的时间，单位是1/100秒
func (s *System) Now() int64 {
	return int64(time.Since(s.start) / (10 * time.Millisecond))
}

// StartTime 启动时间，单位秒
func (s *System) StartTime() int64 {
	return s.start.Unix()
}
