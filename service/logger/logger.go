// 日志服务，绑定为.logger，把收到的文本消息写到logrus
package logger

import (
	"github.com/sirupsen/logrus"

	"github.com/titus12/ma-service-go/actor"
	"github.com/titus12/ma-service-go/handle"
)

const Name = ".logger"

var (
	plog = logrus.WithField("TAG", "[LOGGER]")
)

func init() {
	actor.RegisterModule("logger", func() actor.Instance {
		return &logger{}
	})
}

type logger struct {
	entry *logrus.Entry
}

// param非空时作为日志的附加字段
func (l *logger) Init(ctx *actor.Context, param string) error {
	l.entry = plog
	if param != "" {
		l.entry = plog.WithField("logger", param)
	}
	if _, err := ctx.System().Handles().BindName(Name, ctx.Handle()); err != nil {
		return err
	}
	ctx.SetCallback(l, callback)
	return nil
}

func (l *logger) Release() {}

func callback(ctx *actor.Context, ud interface{}, typ int, session int32, source handle.Handle, msg []byte) bool {
	l := ud.(*logger)
	switch typ {
	case actor.PTypeText:
		l.entry.WithField("source", source).Info(string(msg))
	default:
		l.entry.WithFields(logrus.Fields{
			"source": source,
			"type":   typ,
			"size":   len(msg),
		}).Debug("ignore message")
	}
	return false
}
