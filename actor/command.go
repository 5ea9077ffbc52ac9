package actor

import (
	"strconv"
	"strings"
	"time"

	"github.com/titus12/ma-service-go/handle"
)

type commandFunc func(ctx *Context, param string) string

var commands map[string]commandFunc

func init() {
	commands = map[string]commandFunc{
		"TIMEOUT":   cmdTimeout,
		"LOCK":      cmdLock,
		"REG":       cmdReg,
		"QUERY":     cmdQuery,
		"NAME":      cmdName,
		"NOW":       cmdNow,
		"EXIT":      cmdExit,
		"KILL":      cmdKill,
		"LAUNCH":    cmdLaunch,
		"ENDLESS":   cmdEndless,
		"ABORT":     cmdAbort,
		"STARTTIME": cmdStartTime,
	}
}

// Command 文本命令接口，返回空字符串表示没有结果
func (ctx *Context) Command(cmd, param string) string {
	f, ok := commands[cmd]
	if !ok {
		return ""
	}
	return f(ctx, param)
}

// 转换句柄或名字
func (ctx *Context) toHandle(param string) handle.Handle {
	if strings.HasPrefix(param, ":") {
		h, err := handle.Parse(param)
		if err != nil {
			return 0
		}
		return h
	}
	if strings.HasPrefix(param, ".") {
		return ctx.sys.handles.FindName(param)
	}
	ctx.Error("can't convert %s to handle", param)
	return 0
}

// TIMEOUT 参数单位是1/100秒，返回分配的会话号
func cmdTimeout(ctx *Context, param string) string {
	ti, err := strconv.Atoi(strings.TrimSpace(param))
	if err != nil {
		return ""
	}
	session := ctx.NewSession()
	ctx.sys.Timeout(ctx.handle, time.Duration(ti)*10*time.Millisecond, session)
	return strconv.Itoa(int(session))
}

func cmdLock(ctx *Context, param string) string {
	if err := ctx.Lock(); err != nil {
		ctx.Error("lock failed: %v", err)
	}
	return ""
}

// REG 空参数返回自己的句柄；.开头绑定本地名字；其余注册为全局名字
func cmdReg(ctx *Context, param string) string {
	if param == "" {
		return ctx.handle.String()
	}
	if param[0] == '.' {
		name, err := ctx.sys.handles.BindName(param, ctx.handle)
		if err != nil {
			ctx.Error("reg %s failed: %v", param, err)
			return ""
		}
		return name
	}
	if ctx.sys.harbor == nil {
		ctx.Error("reg global name %s without harbor", param)
		return ""
	}
	if err := ctx.sys.harbor.Register(param, ctx.handle); err != nil {
		ctx.Error("reg %s failed: %v", param, err)
		return ""
	}
	return param
}

func cmdQuery(ctx *Context, param string) string {
	if strings.HasPrefix(param, ".") {
		if h := ctx.sys.handles.FindName(param); h != 0 {
			return h.String()
		}
	}
	return ""
}

// NAME 参数形如 ".name :handle"
func cmdName(ctx *Context, param string) string {
	fields := strings.Fields(param)
	if len(fields) != 2 || !strings.HasPrefix(fields[1], ":") {
		return ""
	}
	h, err := handle.Parse(fields[1])
	if err != nil {
		return ""
	}
	if fields[0][0] != '.' {
		ctx.Error("can't set global name %s", fields[0])
		return ""
	}
	name, err := ctx.sys.handles.BindName(fields[0], h)
	if err != nil {
		ctx.Error("name %s failed: %v", fields[0], err)
		return ""
	}
	return name
}

func cmdNow(ctx *Context, param string) string {
	return strconv.FormatInt(ctx.sys.Now(), 10)
}

func cmdStartTime(ctx *Context, param string) string {
	return strconv.FormatInt(ctx.sys.StartTime(), 10)
}

func cmdExit(ctx *Context, param string) string {
	ctx.sys.Kill(ctx.handle)
	return ""
}

func cmdKill(ctx *Context, param string) string {
	if h := ctx.toHandle(param); h != 0 {
		ctx.sys.Kill(h)
	}
	return ""
}

// LAUNCH 参数形如 "module args..."，返回新actor的句柄
func cmdLaunch(ctx *Context, param string) string {
	param = strings.TrimSpace(param)
	name, args := param, ""
	if i := strings.IndexAny(param, " \t"); i >= 0 {
		name, args = param[:i], strings.TrimSpace(param[i+1:])
	}
	child, err := ctx.sys.Launch(name, args)
	if err != nil {
		ctx.Error("launch %s failed: %v", param, err)
		return ""
	}
	return child.handle.String()
}

func cmdEndless(ctx *Context, param string) string {
	if ctx.Endless() {
		return "1"
	}
	return ""
}

func cmdAbort(ctx *Context, param string) string {
	ctx.sys.Abort()
	return ""
}
