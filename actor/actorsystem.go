package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/titus12/ma-service-go/handle"
	"github.com/titus12/ma-service-go/internal/queue/globalmq"
)

var (
	ErrModuleNotExist  = errors.New("module not exist")                  //模块未注册
	ErrNoDestination   = errors.New("destination not exist")             //目标actor不存在
	ErrMessageTooLarge = errors.New("message too large")                 //消息超过24位能表示的大小
	ErrSessionNotZero  = errors.New("alloc session with non zero value") //要求分配会话时会话号必须为0
	ErrNoHarbor        = errors.New("remote destination without harbor") //没有配置跨节点投递
	ErrNotInitialized  = errors.New("actor not initialized")             //actor还没完成初始化
	ErrBadName         = errors.New("invalid name")                      //名字格式不正确
	ErrAlreadyStarted  = errors.New("system already started")            //调度已经启动
)

// Config 运行时只关心工作者数量和节点编号
type Config struct {
	Thread int // 工作者数量
	Harbor int // 节点编号，0表示单机
}

type Option func(s *System)

// WithHarbor 设置跨节点投递
func WithHarbor(h Harbor) Option {
	return func(s *System) {
		s.harbor = h
	}
}

// WithSocket 设置网络层
func WithSocket(so SocketServer) Option {
	return func(s *System) {
		s.socket = so
	}
}

// WithQueueSize 全局就绪队列的容量
func WithQueueSize(n int) Option {
	return func(s *System) {
		s.queueSize = n
	}
}

// WithRegisterer 把运行时的监控指标注册到指定的prometheus注册器
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *System) {
		s.registerer = r
	}
}

// WithTick 定时线程的唤醒间隔
func WithTick(d time.Duration) Option {
	return func(s *System) {
		s.tick = d
	}
}

// WithMonitorInterval 死循环检测的间隔
func WithMonitorInterval(d time.Duration) Option {
	return func(s *System) {
		s.monitorInterval = d
	}
}

// System 一个运行时实例，持有句柄注册表、全局就绪队列和调度器
type System struct {
	cfg    Config
	log    *logrus.Entry
	start  time.Time
	harbor Harbor
	socket SocketServer

	handles *handle.Storage
	ready   *globalmq.Queue
	sched   *scheduler
	metrics *metrics

	queueSize       int
	registerer      prometheus.Registerer
	tick            time.Duration
	monitorInterval time.Duration

	total    int32
	started  int32
	done     chan struct{}
	doneOnce sync.Once
}

// NewSystem 创建运行时实例
func NewSystem(cfg Config, opts ...Option) (*System, error) {
	if cfg.Thread <= 0 {
		cfg.Thread = 1
	}
	handles, err := handle.New(cfg.Harbor)
	if err != nil {
		return nil, err
	}

	s := &System{
		cfg:             cfg,
		log:             plog.WithField("harbor", cfg.Harbor),
		start:           time.Now(),
		handles:         handles,
		queueSize:       globalmq.DefaultCapacity,
		tick:            2500 * time.Microsecond,
		monitorInterval: 5 * time.Second,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ready = globalmq.New(s.queueSize)
	s.metrics = newMetrics(s)
	if s.registerer != nil {
		if err := s.metrics.register(s.registerer); err != nil {
			return nil, errors.Wrap(err, "register metrics")
		}
	}
	s.sched = newScheduler(s, cfg.Thread)
	return s, nil
}

// 句柄注册表
func (s *System) Handles() *handle.Storage {
	return s.handles
}

// 网络层，可能为nil
func (s *System) Socket() SocketServer {
	return s.socket
}

// 节点编号
func (s *System) Harbor() int {
	return s.cfg.Harbor
}

// Total 存活的actor数量
func (s *System) Total() int {
	return int(atomic.LoadInt32(&s.total))
}

// Done 所有actor都销毁后关闭
func (s *System) Done() <-chan struct{} {
	return s.done
}

func (s *System) shutdown() {
	s.doneOnce.Do(func() {
		close(s.done)
		s.log.Info("all actors released, system shutdown")
	})
}

// Launch 创建一个actor并执行模块初始化
func (s *System) Launch(name, param string) (*Context, error) {
	creator, err := queryModule(name)
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		sys:      s,
		name:     name,
		instance: creator(),
		ref:      2, // 注册表和创建者各一个
	}
	h, err := s.handles.Register(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "launch %s", name)
	}
	atomic.AddInt32(&s.total, 1)

	if err := ctx.instance.Init(ctx, param); err != nil {
		s.handles.Retire(h)
		ctx.Release()
		ctx.queue.Release(s.dropMessage)
		s.log.WithFields(logrus.Fields{
			"module": name,
			"param":  param,
			"handle": h,
		}).WithError(err).Error("launch failed")
		return nil, errors.Wrapf(err, "launch %s %s", name, param)
	}

	atomic.StoreInt32(&ctx.init, 1)
	ctx.Release()
	ctx.queue.ForcePush()
	s.log.WithFields(logrus.Fields{
		"module": name,
		"param":  param,
		"handle": h,
	}).Info("LAUNCH")
	return ctx, nil
}

// 引用计数归零
func (s *System) deleteContext(ctx *Context) {
	if ctx.instance != nil {
		ctx.instance.Release()
	}
	ctx.queue.MarkRelease()
	s.metrics.released.Inc()
	if atomic.AddInt32(&s.total, -1) == 0 && atomic.LoadInt32(&s.started) == 1 {
		s.shutdown()
	}
}

// Grab 查找actor并增加引用，使用完必须Release
func (s *System) Grab(h handle.Handle) *Context {
	c := s.handles.Grab(h)
	if c == nil {
		return nil
	}
	return c.(*Context)
}

// Kill 回收句柄，actor在最后一个引用释放后销毁
func (s *System) Kill(h handle.Handle) bool {
	return s.handles.Retire(h)
}

// Abort 回收所有句柄
func (s *System) Abort() {
	s.handles.RetireAll()
}

// Start 启动工作者、定时和监控协程
func (s *System) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return ErrAlreadyStarted
	}
	s.sched.start()
	if atomic.LoadInt32(&s.total) == 0 {
		s.shutdown()
	}
	return nil
}

// Wait 等待所有协程退出
func (s *System) Wait() {
	s.sched.wait()
}

// Shutdown 回收所有actor并等待调度退出，ctx超时则返回错误
func (s *System) Shutdown(ctx context.Context) error {
	s.Abort()
	finished := make(chan struct{})
	go func() {
		s.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "shutdown with %d actors alive", s.Total())
	}
}

// Error 记录错误，绑定了.logger服务时发给它，否则直接写日志
func (s *System) Error(ctx *Context, format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	var source handle.Handle
	if ctx != nil {
		source = ctx.handle
	}
	if logger := s.handles.FindName(".logger"); logger != 0 {
		if _, err := s.send(nil, source, logger, PTypeText|PTypeTagDontCopy, 0, []byte(text)); err == nil {
			return
		}
	}
	s.log.WithField("source", source).Error(text)
}
