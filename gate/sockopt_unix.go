// +build linux darwin freebsd

package gate

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// 监听前设置SO_REUSEADDR，重启时不必等待TIME_WAIT
func control(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
