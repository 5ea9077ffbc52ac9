package actor

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	plog = logrus.WithField("TAG", "[ACTOR]")
)

// panicSite 只在invoke的recover里调用，从panic的位置向上取最多depth层，
// 跳过runtime的帧，到invoke为止
func panicSite(depth int) string {
	var pc [32]uintptr
	// 跳过runtime.Callers、panicSite和recover所在的defer函数
	n := runtime.Callers(3, pc[:])
	frames := runtime.CallersFrames(pc[:n])

	sites := make([]string, 0, depth)
	for len(sites) < depth {
		frame, more := frames.Next()
		if strings.HasSuffix(frame.Function, ".(*System).invoke") {
			break
		}
		if frame.Function != "" && !strings.HasPrefix(frame.Function, "runtime.") {
			sites = append(sites, fmt.Sprintf("%s %s:%d", frame.Function, filepath.Base(frame.File), frame.Line))
		}
		if !more {
			break
		}
	}
	if len(sites) == 0 {
		return "unknown"
	}
	return strings.Join(sites, " <- ")
}
