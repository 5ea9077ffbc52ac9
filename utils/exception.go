package utils

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	plog = logrus.WithField("TAG", "[UTILS]")
)

// PrintPanicStack 必须直接defer调用，捕捉异常并把调用栈打印到日志
func PrintPanicStack(extras ...interface{}) {
	r := recover()
	if r == nil {
		return
	}
	plog.WithFields(logrus.Fields{
		"errMsg": r,
		"extras": extras,
	}).Error("panic recovered")

	i := 0
	pc, file, line, ok := runtime.Caller(i)
	for ok {
		name := runtime.FuncForPC(pc).Name()
		if !strings.HasPrefix(name, "runtime.") && !strings.Contains(name, "PrintPanicStack") {
			plog.Error(fmt.Sprintf("frame %v:[func:%v,file:%v,line:%v]", i, name, file, line))
		}
		i++
		pc, file, line, ok = runtime.Caller(i)
	}
}
