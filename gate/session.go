package gate

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/titus12/ma-service-go/utils"
)

type session struct {
	id   int
	addr string
	conn net.Conn
	out  *buffer

	die  chan struct{} // 会话关闭信号
	once sync.Once
}

func newSession(id int, conn net.Conn, txqueuelen int) *session {
	s := &session{
		id:   id,
		addr: conn.RemoteAddr().String(),
		conn: conn,
		die:  make(chan struct{}),
	}
	s.out = newBuffer(conn, s.die, txqueuelen)
	return s
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.die)
	})
}

type buffer struct {
	ctrl    chan struct{} // 会话关闭信号
	pending chan []byte   // 待发送的数据
	conn    net.Conn
}

func newBuffer(conn net.Conn, ctrl chan struct{}, txqueuelen int) *buffer {
	return &buffer{
		conn:    conn,
		ctrl:    ctrl,
		pending: make(chan []byte, txqueuelen),
	}
}

func (buf *buffer) push(data []byte) error {
	select {
	case <-buf.ctrl:
		return errors.Wrap(ErrConnNotExist, "session closed")
	default:
	}
	select {
	case buf.pending <- data:
		return nil
	default:
		return ErrTxQueueFull
	}
}

// 发送协程
func (buf *buffer) start() {
	defer utils.PrintPanicStack()
	for {
		select {
		case data := <-buf.pending:
			if !buf.rawSend(data) {
				return
			}
		case <-buf.ctrl:
			return
		}
	}
}

func (buf *buffer) rawSend(data []byte) bool {
	n, err := buf.conn.Write(data)
	if err != nil {
		plog.Warningf("Error send reply data, bytes: %v reason: %v", n, err)
		return false
	}
	return true
}
