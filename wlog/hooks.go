package wlog

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// 给每条日志加上调用位置
type consoleHook struct{}

func newConsoleHook() *consoleHook {
	return &consoleHook{}
}

func (hook *consoleHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (hook *consoleHook) Fire(entry *logrus.Entry) error {
	file, line := getCallerIgnoringLogMulti(1)
	entry.Data["line"] = fmt.Sprintf("%s:%d", file, line)
	return nil
}

type fileHook struct {
	mu        sync.Mutex
	formatter logrus.Formatter
	writer    io.Writer
}

func newFileHook(writer io.Writer) *fileHook {
	return &fileHook{
		formatter: &logrus.TextFormatter{DisableColors: true},
		writer:    writer,
	}
}

func (hook *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (hook *fileHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["line"]; !ok {
		file, line := getCallerIgnoringLogMulti(1)
		entry.Data["line"] = fmt.Sprintf("%s:%d", file, line)
	}
	msg, err := hook.formatter.Format(entry)
	if err != nil {
		return err
	}
	hook.mu.Lock()
	defer hook.mu.Unlock()
	_, err = hook.writer.Write(msg)
	return err
}

func getCaller(callDepth int, suffixesToIgnore ...string) (file string, line int) {
	callDepth++
outer:
	for {
		var ok bool
		_, file, line, ok = runtime.Caller(callDepth)
		if !ok {
			return "???", 0
		}
		if strings.Contains(file, "logrus") {
			for _, s := range suffixesToIgnore {
				if strings.HasSuffix(file, s) {
					callDepth++
					continue outer
				}
			}
		}
		return
	}
}

// 跳过logrus自己的栈帧
func getCallerIgnoringLogMulti(callDepth int) (string, int) {
	return getCaller(callDepth+1, "hooks.go", "entry.go", "logger.go", "exported.go", "asm_amd64.s")
}
