package actor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titus12/ma-service-go/handle"
)

type record struct {
	typ     int
	session int32
	source  handle.Handle
	data    string
}

// 测试用的服务，记录收到的所有消息
type sink struct {
	mu      sync.Mutex
	records []record
	active  int32
	overlap int32
	onMsg   func(ctx *Context, r record)
	notify  chan record
}

func (p *sink) snapshot() []record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]record(nil), p.records...)
}

func (p *sink) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

var sinks sync.Map

type sinkInstance struct{}

func (pi *sinkInstance) Init(ctx *Context, param string) error {
	v, ok := sinks.Load(param)
	if !ok {
		return errors.Errorf("no sink %s", param)
	}
	ctx.SetCallback(v.(*sink), sinkCallback)
	return nil
}

func (pi *sinkInstance) Release() {}

func sinkCallback(ctx *Context, ud interface{}, typ int, session int32, source handle.Handle, msg []byte) bool {
	p := ud.(*sink)
	if atomic.AddInt32(&p.active, 1) > 1 {
		atomic.StoreInt32(&p.overlap, 1)
	}
	r := record{typ: typ, session: session, source: source, data: string(msg)}
	if p.onMsg != nil {
		p.onMsg(ctx, r)
	}
	p.mu.Lock()
	p.records = append(p.records, r)
	p.mu.Unlock()
	atomic.AddInt32(&p.active, -1)
	if p.notify != nil {
		p.notify <- r
	}
	return false
}

func init() {
	RegisterModule("test.sink", func() Instance { return &sinkInstance{} })
}

func newSink(t *testing.T, name string) (string, *sink) {
	key := t.Name() + "/" + name
	p := &sink{notify: make(chan record, 1024)}
	sinks.Store(key, p)
	return key, p
}

func launchSink(t *testing.T, sys *System, name string) (*Context, *sink) {
	key, p := newSink(t, name)
	ctx, err := sys.Launch("test.sink", key)
	require.NoError(t, err)
	return ctx, p
}

func newTestSystem(t *testing.T, thread int, opts ...Option) *System {
	opts = append([]Option{WithTick(time.Millisecond)}, opts...)
	sys, err := NewSystem(Config{Thread: thread}, opts...)
	require.NoError(t, err)
	return sys
}

func stop(t *testing.T, sys *System) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sys.Shutdown(ctx))
}

func recv(t *testing.T, p *sink) record {
	select {
	case r := <-p.notify:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return record{}
}

func TestWakePolicy(t *testing.T) {
	p := WakePolicy{Workers: 4}
	cases := []struct {
		sleeping, busy int
		want           bool
	}{
		{0, 0, false},
		{3, 0, false},
		{4, 0, true},
		{1, 3, true},
		{0, 3, false},
		{2, 2, true},
		{1, 2, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, p.ShouldWake(c.sleeping, c.busy), "sleeping=%d busy=%d", c.sleeping, c.busy)
	}
}

func TestMonitorCheck(t *testing.T) {
	m := &Monitor{}
	_, _, endless := m.Check()
	assert.False(t, endless)

	m.Trigger(1, 2)
	_, _, endless = m.Check()
	assert.False(t, endless)

	src, dst, endless := m.Check()
	assert.True(t, endless)
	assert.EqualValues(t, 1, src)
	assert.EqualValues(t, 2, dst)

	m.Trigger(0, 0)
	_, _, endless = m.Check()
	assert.False(t, endless)
	_, _, endless = m.Check()
	assert.False(t, endless)
}

func TestLaunchFailure(t *testing.T) {
	sys := newTestSystem(t, 1)

	_, err := sys.Launch("test.missing", "")
	assert.Equal(t, ErrModuleNotExist, errors.Cause(err))

	_, err = sys.Launch("test.sink", "no such sink")
	assert.Error(t, err)
	assert.Equal(t, 0, sys.Total())
	assert.Equal(t, 0, sys.Handles().Len())
}

func TestSerialPerActor(t *testing.T) {
	sys := newTestSystem(t, 4)

	const actors, senders, each = 6, 4, 200
	ctxs := make([]*Context, actors)
	ps := make([]*sink, actors)
	for i := range ctxs {
		ctxs[i], ps[i] = launchSink(t, sys, strconv.Itoa(i))
		ps[i].notify = nil
		ps[i].onMsg = func(*Context, record) { time.Sleep(10 * time.Microsecond) }
	}
	require.NoError(t, sys.Start())

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				for _, ctx := range ctxs {
					_, err := sys.Send(handle.Handle(s+1), ctx.Handle(), PTypeText, 0, []byte(strconv.Itoa(i)))
					assert.NoError(t, err)
				}
			}
		}(s)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		for _, p := range ps {
			if p.count() != senders*each {
				return false
			}
		}
		return true
	}, 10*time.Second, 5*time.Millisecond)

	for i, p := range ps {
		assert.EqualValues(t, 0, atomic.LoadInt32(&p.overlap), "actor %d ran concurrently", i)
		// 同一个发送者的消息保持发送顺序
		next := make(map[handle.Handle]int)
		for _, r := range p.snapshot() {
			require.Equal(t, strconv.Itoa(next[r.source]), r.data)
			next[r.source]++
		}
	}
	stop(t, sys)
}

func TestSendCopiesUnlessDontCopy(t *testing.T) {
	sys := newTestSystem(t, 1)
	ctx, p := launchSink(t, sys, "a")
	require.NoError(t, sys.Start())

	buf := []byte("hello")
	_, err := sys.Send(0, ctx.Handle(), PTypeText, 0, buf)
	require.NoError(t, err)
	buf[0] = 'j'
	assert.Equal(t, "hello", recv(t, p).data)

	own := []byte("world")
	_, err = sys.Send(0, ctx.Handle(), PTypeText|PTypeTagDontCopy, 0, own)
	require.NoError(t, err)
	assert.Equal(t, "world", recv(t, p).data)

	stop(t, sys)
}

func TestSendErrors(t *testing.T) {
	sys := newTestSystem(t, 1)
	ctx, _ := launchSink(t, sys, "a")

	session, err := ctx.Send(0, 0, PTypeText|PTypeTagAllocSession, 0, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, session)
	session, err = ctx.Send(0, 0, PTypeText|PTypeTagAllocSession, 0, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, session)
	_, err = ctx.Send(0, 0, PTypeText, 0, []byte("x"))
	assert.Equal(t, ErrNoDestination, errors.Cause(err))

	_, err = ctx.Send(0, ctx.Handle(), PTypeText|PTypeTagAllocSession, 5, nil)
	assert.Equal(t, ErrSessionNotZero, errors.Cause(err))

	_, err = sys.Send(0, ctx.Handle(), PTypeText, 0, make([]byte, 1<<24))
	assert.Equal(t, ErrMessageTooLarge, errors.Cause(err))

	_, err = sys.Send(0, handle.Handle(0x0300_0001), PTypeText, 0, nil)
	assert.Equal(t, ErrNoHarbor, errors.Cause(err))

	_, err = sys.SendName(0, ".nobody", PTypeText, 0, nil)
	assert.Equal(t, ErrNoDestination, errors.Cause(err))

	_, err = sys.SendName(0, "", PTypeText, 0, nil)
	assert.Equal(t, ErrBadName, errors.Cause(err))

	require.True(t, sys.Kill(ctx.Handle()))
	_, err = sys.Send(0, ctx.Handle(), PTypeText, 0, []byte("x"))
	assert.Equal(t, ErrNoDestination, errors.Cause(err))
	assert.Equal(t, 0, sys.Total())
}

func TestSendName(t *testing.T) {
	sys := newTestSystem(t, 2)
	ctx, p := launchSink(t, sys, "a")
	assert.Equal(t, ".echo", ctx.Command("REG", ".echo"))
	assert.Equal(t, ctx.Handle().String(), ctx.Command("QUERY", ".echo"))
	assert.Equal(t, ctx.Handle().String(), ctx.Command("REG", ""))
	require.NoError(t, sys.Start())

	_, err := sys.SendName(7, ".echo", PTypeText, 0, []byte("by name"))
	require.NoError(t, err)
	r := recv(t, p)
	assert.Equal(t, "by name", r.data)
	assert.EqualValues(t, 7, r.source)

	_, err = sys.SendName(0, ctx.Handle().String(), PTypeText, 0, []byte("by handle"))
	require.NoError(t, err)
	assert.Equal(t, "by handle", recv(t, p).data)

	stop(t, sys)
}

func TestLockedSessionReplyFirst(t *testing.T) {
	sys := newTestSystem(t, 1)

	server, sp := launchSink(t, sys, "server")
	sp.onMsg = func(ctx *Context, r record) {
		_, err := ctx.Send(0, r.source, PTypeResponse, r.session, []byte("reply"))
		assert.NoError(t, err)
	}

	client, cp := launchSink(t, sys, "client")
	cp.onMsg = func(ctx *Context, r record) {
		if r.data != "start" {
			return
		}
		assert.NoError(t, ctx.Lock())
		_, err := ctx.Send(0, server.Handle(), PTypeText|PTypeTagAllocSession, 0, []byte("request"))
		assert.NoError(t, err)
	}

	for _, m := range []string{"start", "m1", "m2"} {
		_, err := sys.Send(0, client.Handle(), PTypeText, 0, []byte(m))
		require.NoError(t, err)
	}
	require.NoError(t, sys.Start())

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, recv(t, cp).data)
	}
	assert.Equal(t, []string{"start", "reply", "m1", "m2"}, got)
	stop(t, sys)
}

func TestLockedSessionAcrossWrap(t *testing.T) {
	sys := newTestSystem(t, 2)

	server, sp := launchSink(t, sys, "server")
	sp.onMsg = func(ctx *Context, r record) {
		_, err := ctx.Send(0, r.source, PTypeResponse, r.session, []byte("reply"))
		assert.NoError(t, err)
	}

	client, cp := launchSink(t, sys, "client")
	cp.onMsg = func(ctx *Context, r record) {
		if r.data != "start" {
			return
		}
		atomic.StoreInt32(&ctx.sessionID, math.MaxInt32)
		assert.NoError(t, ctx.Lock())
		session, err := ctx.Send(0, server.Handle(), PTypeText|PTypeTagAllocSession, 0, []byte("request"))
		assert.NoError(t, err)
		assert.EqualValues(t, 1, session)
	}

	for _, m := range []string{"start", "m1"} {
		_, err := sys.Send(0, client.Handle(), PTypeText, 0, []byte(m))
		require.NoError(t, err)
	}
	require.NoError(t, sys.Start())

	reply := []record{recv(t, cp), recv(t, cp), recv(t, cp)}
	assert.Equal(t, "reply", reply[1].data)
	assert.EqualValues(t, 1, reply[1].session)
	assert.Equal(t, "m1", reply[2].data)
	stop(t, sys)
}

func TestNextSession(t *testing.T) {
	assert.EqualValues(t, 1, nextSession(0))
	assert.EqualValues(t, 8, nextSession(7))
	assert.EqualValues(t, 1, nextSession(math.MaxInt32))
	assert.EqualValues(t, 1, nextSession(-5))
}

func TestTimeoutCommand(t *testing.T) {
	sys := newTestSystem(t, 1)
	ctx, p := launchSink(t, sys, "a")
	require.NoError(t, sys.Start())

	session := ctx.Command("TIMEOUT", "1")
	require.NotEmpty(t, session)
	r := recv(t, p)
	assert.Equal(t, PTypeResponse, r.typ)
	assert.Equal(t, session, strconv.Itoa(int(r.session)))

	cancel := sys.Timeout(ctx.Handle(), time.Hour, 99)
	cancel()

	_, err := strconv.ParseInt(ctx.Command("NOW", ""), 10, 64)
	assert.NoError(t, err)
	stop(t, sys)
}

func TestMonitorMarksEndless(t *testing.T) {
	sys := newTestSystem(t, 1, WithMonitorInterval(10*time.Millisecond))
	ctx, p := launchSink(t, sys, "slow")
	endless := make(chan string, 1)
	p.onMsg = func(ctx *Context, r record) {
		time.Sleep(200 * time.Millisecond)
		endless <- ctx.Command("ENDLESS", "")
	}
	require.NoError(t, sys.Start())

	_, err := sys.Send(0, ctx.Handle(), PTypeText, 0, nil)
	require.NoError(t, err)
	select {
	case v := <-endless:
		assert.Equal(t, "1", v)
	case <-time.After(5 * time.Second):
		t.Fatal("callback never returned")
	}
	stop(t, sys)
}

func TestMulticastReleasedOnce(t *testing.T) {
	sys := newTestSystem(t, 2)
	a, pa := launchSink(t, sys, "a")
	b, pb := launchSink(t, sys, "b")
	c, pc := launchSink(t, sys, "c")

	var freed int32
	mc, err := sys.Multicast(0, []handle.Handle{a.Handle(), b.Handle(), c.Handle(), 0x00ffffff}, []byte("all"), func() {
		atomic.AddInt32(&freed, 1)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, mc.Refs())

	// c在投递前被销毁，它的引用由邮箱清理时释放
	require.True(t, sys.Kill(c.Handle()))
	require.NoError(t, sys.Start())

	assert.Equal(t, PTypeMulticast, recv(t, pa).typ)
	assert.Equal(t, "all", recv(t, pb).data)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&freed) == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 0, mc.Refs())
	assert.Equal(t, 0, pc.count())

	stop(t, sys)
	assert.EqualValues(t, 1, atomic.LoadInt32(&freed))
}

// 接收者在投递过程中退出或被杀掉，每个组播单元仍然只回收一次
func TestMulticastTeardownDuringDelivery(t *testing.T) {
	sys := newTestSystem(t, 4)
	const receivers, units = 8, 300

	targets := make([]handle.Handle, 0, receivers)
	for i := 0; i < receivers; i++ {
		i := i
		ctx, p := launchSink(t, sys, fmt.Sprint(i))
		p.notify = nil
		if i%2 == 0 {
			var seen int32
			p.onMsg = func(ctx *Context, r record) {
				if r.typ == PTypeMulticast && atomic.AddInt32(&seen, 1) == int32(5+i*10) {
					ctx.Command("EXIT", "")
				}
			}
		}
		targets = append(targets, ctx.Handle())
	}
	require.NoError(t, sys.Start())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i < receivers; i += 2 {
			time.Sleep(time.Millisecond)
			sys.Kill(targets[i])
		}
	}()

	freed := make([]int32, units)
	mcs := make([]*Multicast, units)
	for u := 0; u < units; u++ {
		u := u
		mc, err := sys.Multicast(0, targets, []byte("unit"), func() {
			atomic.AddInt32(&freed[u], 1)
		})
		if err != nil {
			require.Equal(t, ErrNoDestination, errors.Cause(err))
		}
		mcs[u] = mc
	}
	wg.Wait()
	stop(t, sys)

	for u := 0; u < units; u++ {
		require.EqualValues(t, 1, atomic.LoadInt32(&freed[u]), "unit %d", u)
		require.Equal(t, 0, mcs[u].Refs(), "unit %d", u)
	}
	assert.Equal(t, 0, sys.Total())
}

func TestCallbackPanicKeepsWorker(t *testing.T) {
	hook := test.NewGlobal()
	sys := newTestSystem(t, 1)
	ctx, p := launchSink(t, sys, "a")
	p.onMsg = func(ctx *Context, r record) {
		if r.data == "boom" {
			panic("boom")
		}
	}
	require.NoError(t, sys.Start())

	_, err := sys.Send(0, ctx.Handle(), PTypeText, 0, []byte("boom"))
	require.NoError(t, err)
	_, err = sys.Send(0, ctx.Handle(), PTypeText, 0, []byte("fine"))
	require.NoError(t, err)
	assert.Equal(t, "fine", recv(t, p).data)
	stop(t, sys)

	var site string
	for _, e := range hook.AllEntries() {
		if e.Message == "callback panic" {
			site, _ = e.Data["stack"].(string)
		}
	}
	// 从panic的闭包开始，到消息处理函数为止
	assert.True(t, strings.HasPrefix(site, "github.com/titus12/ma-service-go/actor.TestCallbackPanicKeepsWorker.func1 actor_test.go:"), site)
	assert.Contains(t, site, "actor.sinkCallback")
	assert.NotContains(t, site, "runtime.")
	assert.NotContains(t, site, "invoke")
}

func TestShutdownWhenAllActorsExit(t *testing.T) {
	reg := prometheus.NewRegistry()
	sys := newTestSystem(t, 3, WithRegisterer(reg))
	var ctxs []*Context
	for i := 0; i < 5; i++ {
		ctx, p := launchSink(t, sys, fmt.Sprint(i))
		p.notify = nil
		p.onMsg = func(ctx *Context, r record) {
			ctx.Command("EXIT", "")
		}
		ctxs = append(ctxs, ctx)
	}
	require.NoError(t, sys.Start())
	assert.Equal(t, ErrAlreadyStarted, sys.Start())

	for _, ctx := range ctxs {
		_, err := sys.Send(0, ctx.Handle(), PTypeText, 0, nil)
		require.NoError(t, err)
	}

	select {
	case <-sys.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("system did not shut down")
	}
	sys.Wait()
	assert.Equal(t, 0, sys.Total())
	assert.EqualValues(t, 5, testutil.ToFloat64(sys.metrics.released))
	assert.EqualValues(t, 5, testutil.ToFloat64(sys.metrics.dispatched))
}

func TestStartWithoutActors(t *testing.T) {
	sys := newTestSystem(t, 2)
	require.NoError(t, sys.Start())
	sys.Wait()
	_, ok := <-sys.Done()
	assert.False(t, ok)
}

func TestLaunchCommand(t *testing.T) {
	sys := newTestSystem(t, 1)
	parent, _ := launchSink(t, sys, "parent")
	key, _ := newSink(t, "child")

	h := parent.Command("LAUNCH", "test.sink "+key)
	require.NotEmpty(t, h)
	child, err := handle.Parse(h)
	require.NoError(t, err)
	assert.Equal(t, 2, sys.Total())

	assert.Equal(t, ".child", parent.Command("NAME", ".child "+h))
	parent.Command("KILL", ".child")
	assert.Nil(t, sys.Grab(child))
	assert.Equal(t, 1, sys.Total())
}
