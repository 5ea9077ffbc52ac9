// 客户端代理，每个连接一个。收到的消息加上2字节大端长度后交给网络层发出
package client

import (
	"encoding/binary"
	"strconv"

	"github.com/pkg/errors"

	"github.com/titus12/ma-service-go/actor"
	"github.com/titus12/ma-service-go/handle"
)

// PacketLimit 2字节长度能表示的最大包
const PacketLimit = 65535

var ErrPacketTooLarge = errors.New("packet too large")

func init() {
	actor.RegisterModule("client", func() actor.Instance {
		return &client{}
	})
}

type client struct {
	fd int
}

// param是连接编号
func (c *client) Init(ctx *actor.Context, param string) error {
	fd, err := strconv.Atoi(param)
	if err != nil {
		return errors.Wrapf(err, "invalid connection id %q", param)
	}
	c.fd = fd
	ctx.SetCallback(c, callback)
	return nil
}

func (c *client) Release() {}

// Frame 加上长度头
func Frame(data []byte) ([]byte, error) {
	if len(data) > PacketLimit {
		return nil, errors.Wrapf(ErrPacketTooLarge, "size %d", len(data))
	}
	buf := make([]byte, len(data)+2)
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[2:], data)
	return buf, nil
}

func callback(ctx *actor.Context, ud interface{}, typ int, session int32, source handle.Handle, msg []byte) bool {
	c := ud.(*client)
	sock := ctx.System().Socket()
	if sock == nil {
		ctx.Error("client %d: no socket server", c.fd)
		return false
	}
	buf, err := Frame(msg)
	if err != nil {
		ctx.Error("client %d: %v", c.fd, err)
		return false
	}
	if err := sock.Send(c.fd, buf); err != nil {
		ctx.Error("client %d send failed: %v", c.fd, err)
	}
	return false
}
