package harbor

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
)

// RemoteName 远程目标，Handle为0时按Name查找
type RemoteName struct {
	Name   string
	Handle uint32
}

// RemoteMessage 发往其他节点的消息
type RemoteMessage struct {
	Destination RemoteName
	Message     []byte
	Type        int
}

// Packet 节点之间传输的数据包
type Packet struct {
	Source      uint32 `msgpack:"s"`
	Destination uint32 `msgpack:"d"`
	Session     int32  `msgpack:"n"`
	Type        int    `msgpack:"t"`
	Data        []byte `msgpack:"b"`
}

func (p *Packet) String() string {
	return fmt.Sprintf("[:%08x -> :%08x type:%d session:%d size:%d]", p.Source, p.Destination, p.Type, p.Session, len(p.Data))
}

func (p *Packet) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "encode packet %v", p)
	}
	return data, nil
}

func DecodePacket(data []byte) (*Packet, error) {
	p := &Packet{}
	if err := msgpack.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(err, "decode packet")
	}
	return p, nil
}
