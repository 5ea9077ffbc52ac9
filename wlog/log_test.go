package wlog

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"Debug":   logrus.DebugLevel,
		"debug":   logrus.DebugLevel,
		"WARN":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"trace":   logrus.TraceLevel,
		"":        logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, LogLevel(in), in)
	}
}

func TestConsoleHookAddsLine(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	require.NoError(t, setup(l, logrus.DebugLevel))

	l.Debug("hello")
	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "log_test.go:")
}

func TestWithFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "wlog")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "record.log")
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	require.NoError(t, setup(l, logrus.InfoLevel, WithFile(file, Day, 3)))

	l.WithField("TAG", "[TEST]").Info("to file")
	l.Debug("filtered")

	data, err := ioutil.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Contains(t, string(data), "[TEST]")
	assert.NotContains(t, string(data), "filtered")
}

func TestWithELKValidates(t *testing.T) {
	l := logrus.New()
	assert.Error(t, WithELK(nil, "app", "topic")(l))
	assert.Error(t, WithELK([]string{"127.0.0.1:9092"}, "", "topic")(l))
	assert.Error(t, WithELK([]string{"127.0.0.1:9092"}, "app", "")(l))
}

func TestKafkaHook(t *testing.T) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewAsyncProducer(t, config)
	producer.ExpectInputAndSucceed()
	hook := newKafkaHookWithProducer(producer, "ma", "game-log")

	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	l.AddHook(hook)
	logged := make(chan struct{})
	go func() {
		l.WithField("harbor", 1).Warn("kafka message")
		close(logged)
	}()
	select {
	case <-logged:
	case <-time.After(3 * time.Second):
		t.Fatal("log call with kafka hook did not return")
	}

	msg := <-producer.Successes()
	assert.Equal(t, "game-log", msg.Topic)
	raw, err := msg.Value.Encode()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "ma", doc["app"])
	assert.Equal(t, "kafka message", doc["msg"])
	assert.Equal(t, "warning", doc["level"])
	assert.EqualValues(t, 1, doc["harbor"])
	assert.True(t, strings.HasSuffix(doc["file"].(string), "log_test.go"))

	require.NoError(t, producer.Close())
}
