// 连接管理服务。连接建立时启动client代理，收到的客户端数据转给代理，连接断开时结束代理
package watchdog

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/titus12/ma-service-go/actor"
	"github.com/titus12/ma-service-go/handle"
)

const Name = ".watchdog"

var (
	plog = logrus.WithField("TAG", "[WATCHDOG]")
)

func init() {
	actor.RegisterModule("watchdog", func() actor.Instance {
		return &watchdog{}
	})
}

type watchdog struct {
	agent string // 代理模块名
	conns map[int]handle.Handle
}

// param可以指定代理模块，默认client
func (w *watchdog) Init(ctx *actor.Context, param string) error {
	w.agent = "client"
	if param != "" {
		w.agent = param
	}
	w.conns = make(map[int]handle.Handle)
	if _, err := ctx.System().Handles().BindName(Name, ctx.Handle()); err != nil {
		return err
	}
	ctx.SetCallback(w, callback)
	return nil
}

func (w *watchdog) Release() {}

func callback(ctx *actor.Context, ud interface{}, typ int, session int32, source handle.Handle, msg []byte) bool {
	w := ud.(*watchdog)
	switch typ {
	case actor.PTypeSocket:
		w.socket(ctx, string(msg))
	case actor.PTypeClient:
		agent, ok := w.conns[int(session)]
		if !ok {
			plog.WithField("conn", session).Warn("data from unknown connection")
			return false
		}
		// 直接把内容交给代理
		if _, err := ctx.Send(0, agent, actor.PTypeClient|actor.PTypeTagDontCopy, 0, msg); err != nil {
			ctx.Error("relay to %v failed: %v", agent, err)
			return false
		}
		return true
	}
	return false
}

// 事件格式为 "open <id> <addr>" 或 "close <id>"
func (w *watchdog) socket(ctx *actor.Context, event string) {
	fields := strings.Fields(event)
	if len(fields) < 2 {
		ctx.Error("bad socket event %q", event)
		return
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil {
		ctx.Error("bad socket event %q", event)
		return
	}
	switch fields[0] {
	case "open":
		ret := ctx.Command("LAUNCH", w.agent+" "+fields[1])
		if ret == "" {
			if sock := ctx.System().Socket(); sock != nil {
				sock.Close(id)
			}
			return
		}
		h, err := handle.Parse(ret)
		if err != nil {
			ctx.Error("launch agent returned %q", ret)
			return
		}
		w.conns[id] = h
		plog.WithFields(logrus.Fields{
			"conn":  id,
			"agent": h,
		}).Debug("connection open")
	case "close":
		if h, ok := w.conns[id]; ok {
			delete(w.conns, id)
			ctx.Command("KILL", h.String())
			plog.WithFields(logrus.Fields{
				"conn":  id,
				"agent": h,
			}).Debug("connection close")
		}
	default:
		ctx.Error("unknown socket event %q", event)
	}
}
