// Package handle 实现actor句柄的分配、回收与命名
package handle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	RemoteShift        = 24       // 高8位是节点(harbor)编号
	Mask        Handle = 0xffffff // 低24位是节点内序号
)

// Handle 全局唯一的actor标识，高8位是节点编号，低24位是节点内序号，0保留给系统
type Handle uint32

// 节点编号
func (h Handle) Harbor() uint8 {
	return uint8(h >> RemoteShift)
}

// 节点内序号
func (h Handle) Local() uint32 {
	return uint32(h & Mask)
}

func (h Handle) String() string {
	return fmt.Sprintf(":%08x", uint32(h))
}

// Parse 解析 ":%x" 形式的句柄文本
func Parse(s string) (Handle, error) {
	if !strings.HasPrefix(s, ":") {
		return 0, errors.Errorf("invalid handle %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid handle %q", s)
	}
	return Handle(v), nil
}
