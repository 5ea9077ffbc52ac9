package utils

import (
	"time"
)

// Retry 在当前goroutine中重试fn
// attempts: 最多执行次数
// sleep: 第一次重试前的等待时间
// sleepRate: 每次重试后等待时间乘以这个倍率
func Retry(attempts int, sleep time.Duration, sleepRate int, fn func() error) error {
	err := fn()
	for err != nil {
		if s, ok := err.(stop); ok {
			return s.error
		}
		if attempts--; attempts <= 0 {
			return err
		}
		plog.Warnf("retry func error: %s. attempts #%d after %s.", err.Error(), attempts, sleep)
		if sleep > 0 {
			time.Sleep(sleep)
		}
		sleep *= time.Duration(sleepRate)
		err = fn()
	}
	return nil
}

type stop struct {
	error
}

// NoRetryError 包装后的错误不再重试
func NoRetryError(err error) error {
	return stop{err}
}
