package harbor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"

	"github.com/titus12/ma-service-go/utils"
)

const (
	defaultSenderGoNum = 1   // 默认的发送goroutine数量
	defaultSendBoxNum  = 512 // 默认的发件箱缓存容量
	defaultPopTimeout  = 2 * time.Second
)

// RedisConfig redis传输层配置
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Senders    int
	SendBox    int
	PopTimeout time.Duration
}

type outbound struct {
	key  string
	data []byte
}

// RedisTransport 以redis列表为消息队列，每个节点一个列表，LPUSH发送，BRPOP接收
type RedisTransport struct {
	client     *redis.Client
	popTimeout time.Duration
	boxs       []chan *outbound
	death      chan struct{}
	die        int32
	wg         sync.WaitGroup
}

// 节点的队列名
func queueName(harbor uint8) string {
	return fmt.Sprintf("harbor_mq_%d", harbor)
}

func NewRedisTransport(cfg *RedisConfig) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := client.Ping().Result(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cfg.Addr)
	}

	senders, boxSize := cfg.Senders, cfg.SendBox
	if senders <= 0 {
		senders = defaultSenderGoNum
	}
	if boxSize <= 0 {
		boxSize = defaultSendBoxNum
	}
	t := &RedisTransport{
		client:     client,
		popTimeout: cfg.PopTimeout,
		death:      make(chan struct{}),
	}
	if t.popTimeout <= 0 {
		t.popTimeout = defaultPopTimeout
	}
	for i := 0; i < senders; i++ {
		t.boxs = append(t.boxs, make(chan *outbound, boxSize))
		t.wg.Add(1)
		go t.sender(t.boxs[i])
	}
	return t, nil
}

func (t *RedisTransport) sender(box chan *outbound) {
	defer t.wg.Done()
	for {
		select {
		case <-t.death:
			return
		case msg := <-box:
			t.pushmsg(msg)
		}
	}
}

// 单独列出来捕捉异常，一条消息发送失败不影响发送协程
func (t *RedisTransport) pushmsg(msg *outbound) {
	defer utils.PrintPanicStack(fmt.Sprintf("SEND-MQ[%s]: send fail", msg.key))
	if _, err := t.client.LPush(msg.key, msg.data).Result(); err != nil && err != redis.Nil {
		plog.WithError(err).Errorf("SEND-MQ[%s]: send fail", msg.key)
	}
}

// Send 编码后按目标节点放进发件箱，发往同一节点的消息保持顺序，不会阻塞
func (t *RedisTransport) Send(harbor uint8, p *Packet) error {
	if atomic.LoadInt32(&t.die) == 1 {
		return ErrClosed
	}
	data, err := p.Encode()
	if err != nil {
		return err
	}
	// 调用者是工作者，发件箱满了直接返回错误
	box := t.boxs[int(harbor)%len(t.boxs)]
	select {
	case box <- &outbound{key: queueName(harbor), data: data}:
		return nil
	case <-t.death:
		return ErrClosed
	default:
		return errors.Wrapf(ErrTxQueueFull, "harbor %d", harbor)
	}
}

// Listen 为了保证接收的顺序，只用一个协程接收
func (t *RedisTransport) Listen(harbor uint8, deliver Deliver) error {
	if atomic.LoadInt32(&t.die) == 1 {
		return ErrClosed
	}
	name := queueName(harbor)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-t.death:
				plog.Infof("RECV-MQ[%s]: closed", name)
				return
			default:
				t.recvmsg(name, deliver)
			}
		}
	}()
	return nil
}

func (t *RedisTransport) recvmsg(name string, deliver Deliver) {
	defer utils.PrintPanicStack(fmt.Sprintf("RECV-MQ[%s]: recvmsg fail", name))
	res, err := t.client.BRPop(t.popTimeout, name).Result()
	if err != nil {
		if err != redis.Nil {
			plog.WithError(err).Errorf("RECV-MQ[%s]: recvmsg fail", name)
			time.Sleep(t.popTimeout)
		}
		return
	}
	if len(res) != 2 || res[0] != name {
		plog.Errorf("RECV-MQ[%s]: unexpected reply %v", name, res)
		return
	}
	p, err := DecodePacket([]byte(res[1]))
	if err != nil {
		plog.WithError(err).Errorf("RECV-MQ[%s]: decode fail", name)
		return
	}
	deliver(p)
}

func (t *RedisTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.die, 0, 1) {
		return nil
	}
	close(t.death)
	t.wg.Wait()
	return t.client.Close()
}
