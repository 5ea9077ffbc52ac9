// 日志初始化。所有包都直接使用logrus，这里只负责级别和输出目标
package wlog

import (
	"fmt"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// 切割时间
type slicTime struct {
	dur    time.Duration
	format string
}

func newSlicTime(dur time.Duration, format string) *slicTime {
	return &slicTime{dur: dur, format: format}
}

var (
	Day    = newSlicTime(24*time.Hour, "%Y%m%d")
	Hour   = newSlicTime(time.Hour, "%Y%m%d%H")
	Minute = newSlicTime(time.Minute, "%Y%m%d%H%M")
)

// LogLevel 解析日志级别，不区分大小写，无法识别时用Info
func LogLevel(level string) logrus.Level {
	lv, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lv
}

// SetLevel 运行中调整级别
func SetLevel(level string) {
	lv := LogLevel(level)
	if logrus.GetLevel() != lv {
		logrus.SetLevel(lv)
		logrus.WithField("TAG", "[WLOG]").Info("log level changed to ", lv)
	}
}

type Option func(l *logrus.Logger) error

// Initialize 设置标准logger的级别，加上行号和各个输出目标
func Initialize(level logrus.Level, opts ...Option) error {
	return setup(logrus.StandardLogger(), level, opts...)
}

func setup(l *logrus.Logger, level logrus.Level, opts ...Option) error {
	l.SetLevel(level)
	l.AddHook(newConsoleHook())
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return err
		}
	}
	return nil
}

// WithFile 日志同时写到文件
// file: 文件名，可以带路径
// dur: 切割周期(Day,Hour,Minute)
// rotation: 切割后保留的文件数量，超过后会自动删除
func WithFile(file string, dur *slicTime, rotation int) Option {
	return func(l *logrus.Logger) error {
		if file == "" {
			return nil
		}
		writer, err := rotatelogs.New(
			fmt.Sprintf("%s.%s", file, dur.format),
			rotatelogs.WithRotationTime(dur.dur),
			rotatelogs.WithRotationCount(uint(rotation)),
			rotatelogs.WithLinkName(file),
		)
		if err != nil {
			return errors.Wrapf(err, "open log file %s", file)
		}
		l.AddHook(newFileHook(writer))
		return nil
	}
}

// WithELK 日志同时发到kafka，由ELK套件收集
// kafkaBrokers: kafka集群地址
// appName: 日志里的应用名称
// topic: kafka主题
func WithELK(kafkaBrokers []string, appName, topic string) Option {
	return func(l *logrus.Logger) error {
		if len(kafkaBrokers) == 0 {
			return errors.New("no kafka brokers")
		}
		if appName == "" {
			return errors.New("no app name")
		}
		if topic == "" {
			return errors.New("no kafka topic")
		}
		hook, err := newKafkaHook(kafkaBrokers, appName, topic)
		if err != nil {
			return errors.Wrap(err, "connect kafka")
		}
		l.AddHook(hook)
		return nil
	}
}
