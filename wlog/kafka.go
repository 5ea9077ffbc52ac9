package wlog

import (
	"strings"

	"github.com/Shopify/sarama"
	"github.com/sirupsen/logrus"
)

type kafkaHook struct {
	appName string
	topic   string

	formatter logrus.Formatter

	asyncProducer sarama.AsyncProducer
}

func newKafkaHook(addrs []string, appName, topic string) (*kafkaHook, error) {
	config := sarama.NewConfig()
	producer, err := sarama.NewAsyncProducer(addrs, config)
	if err != nil {
		return nil, err
	}
	return newKafkaHookWithProducer(producer, appName, topic), nil
}

func newKafkaHookWithProducer(producer sarama.AsyncProducer, appName, topic string) *kafkaHook {
	// 发送失败只能打到标准错误，再走logrus会递归
	go func() {
		for err := range producer.Errors() {
			println("kafka log hook:", err.Error())
		}
	}()
	return &kafkaHook{
		asyncProducer: producer,
		appName:       appName,
		topic:         topic,
		formatter:     &logrus.JSONFormatter{},
	}
}

func (hook *kafkaHook) Fire(entry *logrus.Entry) error {
	data := make(logrus.Fields, len(entry.Data)+2)
	for k, v := range entry.Data {
		data[k] = v
	}
	data["app"] = hook.appName
	if _, ok := data["line"]; !ok {
		file, line := getCallerIgnoringLogMulti(1)
		data["file"] = file
		data["line"] = line
	}

	// Fire时logrus持有Logger.mu，不能再调用entry.WithFields
	e := &logrus.Entry{
		Logger:  entry.Logger,
		Data:    data,
		Time:    entry.Time,
		Level:   entry.Level,
		Caller:  entry.Caller,
		Message: entry.Message,
	}
	message, err := hook.formatter.Format(e)
	if err != nil {
		return err
	}
	hook.asyncProducer.Input() <- &sarama.ProducerMessage{
		Topic: hook.topic,
		Value: sarama.StringEncoder(strings.TrimSpace(string(message))),
	}
	return nil
}

func (hook *kafkaHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
