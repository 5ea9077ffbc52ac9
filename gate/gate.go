// 网络接入层。每个连接上的数据以2字节大端长度开头，读出的数据包作为PTypeClient消息投递给
// watchdog服务，会话号就是连接编号；连接建立和断开以PTypeSocket文本消息通知watchdog
package gate

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xtaci/kcp-go"

	"github.com/titus12/ma-service-go/actor"
	"github.com/titus12/ma-service-go/handle"
	"github.com/titus12/ma-service-go/utils"
)

// PacketLimit 单个数据包的最大长度
const PacketLimit = 65535

var (
	ErrConnNotExist = errors.New("connection not exist") // 连接不存在
	ErrTxQueueFull  = errors.New("tx queue full")        // 发送队列满
	ErrGateClosed   = errors.New("gate closed")          // 已经关闭
)

var (
	plog = logrus.WithField("TAG", "[GATE]")
)

type Config struct {
	Listen                        string
	ReadDeadline                  time.Duration
	Sockbuf                       int
	Txqueuelen                    int
	Dscp                          int
	Sndwnd                        int
	Rcvwnd                        int
	MTU                           int
	Nodelay, Interval, Resend, NC int
}

// Gate 管理所有连接，同时实现actor.SocketServer
type Gate struct {
	config   *Config
	sys      *actor.System
	watchdog uint32
	nextID   int32

	registry

	mu        sync.Mutex
	listeners []net.Listener
	closed    int32
	wg        sync.WaitGroup
}

func New(cfg *Config) *Gate {
	if cfg.Txqueuelen <= 0 {
		cfg.Txqueuelen = 128
	}
	if cfg.ReadDeadline <= 0 {
		cfg.ReadDeadline = 120 * time.Second
	}
	g := &Gate{
		config: cfg,
	}
	g.registry.init()
	return g
}

// Attach 绑定运行时和接收数据的watchdog
func (g *Gate) Attach(sys *actor.System, watchdog handle.Handle) {
	g.sys = sys
	atomic.StoreUint32(&g.watchdog, uint32(watchdog))
}

func (g *Gate) Watchdog() handle.Handle {
	return handle.Handle(atomic.LoadUint32(&g.watchdog))
}

// 通知watchdog
func (g *Gate) post(typ int, session int32, data []byte) {
	dst := g.Watchdog()
	if g.sys == nil || dst == 0 {
		plog.Warn("no watchdog, drop packet")
		return
	}
	if _, err := g.sys.Send(0, dst, typ|actor.PTypeTagDontCopy, session, data); err != nil {
		plog.WithError(err).Warn("post to watchdog failed")
	}
}

// ListenTCP 只监听，Serve负责接受连接
func (g *Gate) ListenTCP(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{Control: control}
	l, err := lc.Listen(ctx, "tcp", g.config.Listen)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", g.config.Listen)
	}
	plog.Info("listening on:", l.Addr())
	return l, nil
}

// ServeTCP 监听并接受连接，直到Close
func (g *Gate) ServeTCP(ctx context.Context) error {
	l, err := g.ListenTCP(ctx)
	if err != nil {
		return err
	}
	return g.Serve(l)
}

// Serve 接受连接，直到Close
func (g *Gate) Serve(l net.Listener) error {
	if !g.addListener(l) {
		l.Close()
		return ErrGateClosed
	}
	for {
		conn, err := l.Accept()
		if err != nil {
			if atomic.LoadInt32(&g.closed) == 1 {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				plog.Warning("accept failed:", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return errors.Wrap(err, "accept")
		}
		if tc, ok := conn.(*net.TCPConn); ok && g.config.Sockbuf > 0 {
			tc.SetReadBuffer(g.config.Sockbuf)
			tc.SetWriteBuffer(g.config.Sockbuf)
		}
		g.wg.Add(1)
		go g.serve(conn)
	}
}

// ServeKCP 以kcp协议监听和接受连接，直到Close
func (g *Gate) ServeKCP() error {
	lis, err := g.ListenKCP()
	if err != nil {
		return err
	}
	return g.AcceptKCP(lis)
}

// ListenKCP 只监听，AcceptKCP负责接受连接
func (g *Gate) ListenKCP() (*kcp.Listener, error) {
	config := g.config
	lis, err := kcp.ListenWithOptions(config.Listen, nil, 0, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "kcp listen %s", config.Listen)
	}
	plog.Info("udp listening on:", lis.Addr())

	if config.Sockbuf > 0 {
		if err := lis.SetReadBuffer(config.Sockbuf); err != nil {
			plog.Println("SetReadBuffer", err)
		}
		if err := lis.SetWriteBuffer(config.Sockbuf); err != nil {
			plog.Println("SetWriteBuffer", err)
		}
	}
	if err := lis.SetDSCP(config.Dscp); err != nil {
		plog.Println("SetDSCP", err)
	}
	return lis, nil
}

// AcceptKCP 接受kcp连接，直到Close
func (g *Gate) AcceptKCP(lis *kcp.Listener) error {
	if !g.addListener(lis) {
		lis.Close()
		return ErrGateClosed
	}

	config := g.config
	for {
		conn, err := lis.AcceptKCP()
		if err != nil {
			if atomic.LoadInt32(&g.closed) == 1 {
				return nil
			}
			// 底层udp读出错之后不会再有新连接
			return errors.Wrap(err, "kcp accept")
		}
		conn.SetWindowSize(config.Sndwnd, config.Rcvwnd)
		conn.SetNoDelay(config.Nodelay, config.Interval, config.Resend, config.NC)
		conn.SetStreamMode(true)
		if config.MTU > 0 {
			conn.SetMtu(config.MTU)
		}

		g.wg.Add(1)
		go g.serve(conn)
	}
}

func (g *Gate) addListener(l net.Listener) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if atomic.LoadInt32(&g.closed) == 1 {
		return false
	}
	g.listeners = append(g.listeners, l)
	return true
}

// 每个连接一个读协程和一个写协程
func (g *Gate) serve(c net.Conn) {
	defer g.wg.Done()
	defer utils.PrintPanicStack()
	defer c.Close()

	id := int(atomic.AddInt32(&g.nextID, 1))
	sess := newSession(id, c, g.config.Txqueuelen)
	g.register(sess)
	defer func() {
		g.unregister(id)
		sess.close()
		g.post(actor.PTypeSocket, int32(id), []byte(fmt.Sprintf("close %d", id)))
	}()

	plog.WithFields(logrus.Fields{
		"id":   id,
		"addr": sess.addr,
	}).Info("new connection")
	g.post(actor.PTypeSocket, int32(id), []byte(fmt.Sprintf("open %d %s", id, sess.addr)))

	go sess.out.start()

	header := make([]byte, 2)
	for {
		// 物理断线时读会一直阻塞，用超时来兜底
		c.SetReadDeadline(time.Now().Add(g.config.ReadDeadline))

		n, err := io.ReadFull(c, header)
		if err != nil {
			if err != io.EOF {
				plog.Warningf("read header failed, addr:%v reason:%v size:%v", sess.addr, err, n)
			}
			return
		}
		size := binary.BigEndian.Uint16(header)

		payload := make([]byte, size)
		n, err = io.ReadFull(c, payload)
		if err != nil {
			plog.Warningf("read payload failed, addr:%v reason:%v size:%v", sess.addr, err, n)
			return
		}

		select {
		case <-sess.die:
			plog.Warningf("connection closed by logic, addr:%v", sess.addr)
			return
		default:
		}
		g.post(actor.PTypeClient, int32(id), payload)
	}
}

// Send 发送已经编码好的数据，不会阻塞调用者
func (g *Gate) Send(id int, data []byte) error {
	sess := g.query(id)
	if sess == nil {
		return errors.Wrapf(ErrConnNotExist, "id %d", id)
	}
	return sess.out.push(data)
}

// Close 主动关闭连接
func (g *Gate) Close(id int) error {
	sess := g.query(id)
	if sess == nil {
		return errors.Wrapf(ErrConnNotExist, "id %d", id)
	}
	sess.close()
	return sess.conn.Close()
}

// Shutdown 关闭所有监听和连接并等待读协程退出
func (g *Gate) Shutdown() {
	if !atomic.CompareAndSwapInt32(&g.closed, 0, 1) {
		return
	}
	g.mu.Lock()
	for _, l := range g.listeners {
		l.Close()
	}
	g.listeners = nil
	g.mu.Unlock()

	for _, sess := range g.all() {
		sess.close()
		sess.conn.Close()
	}
	g.wg.Wait()
}
