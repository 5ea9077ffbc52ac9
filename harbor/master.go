package harbor

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/coreos/etcd/clientv3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/titus12/ma-service-go/handle"
	"github.com/titus12/ma-service-go/utils"
)

var (
	ErrHarborTaken = errors.New("harbor id already taken") // 节点编号被其他实例占用
)

// EtcdConfig etcd名字服务配置
type EtcdConfig struct {
	Endpoints   []string
	Root        string
	DialTimeout time.Duration
	TTL         int64 // 节点租约时长，单位秒
}

// EtcdMaster 用etcd保存全局名字，同时负责节点编号的占用
type EtcdMaster struct {
	cli      *clientv3.Client
	root     string
	ttl      int64
	instance string
	lease    clientv3.LeaseID
}

func NewEtcdMaster(cfg *EtcdConfig) (*EtcdMaster, error) {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 30 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dial,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect etcd %v", cfg.Endpoints)
	}
	root := cfg.Root
	if root == "" {
		root = "/ma-service"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10
	}
	return &EtcdMaster{
		cli:      cli,
		root:     root,
		ttl:      ttl,
		instance: utils.GenUuid(),
	}, nil
}

func (m *EtcdMaster) nameKey(name string) string {
	return path.Join(m.root, "names", name)
}

func (m *EtcdMaster) harborKey(id int) string {
	return path.Join(m.root, "harbor", strconv.Itoa(id))
}

// 本实例的唯一标识
func (m *EtcdMaster) Instance() string {
	return m.instance
}

// Reserve 占用节点编号，租约由后台续期，进程退出后自动释放
func (m *EtcdMaster) Reserve(ctx context.Context, id int, addr string) error {
	grant, err := m.cli.Grant(ctx, m.ttl)
	if err != nil {
		return errors.Wrap(err, "grant lease")
	}

	key := m.harborKey(id)
	value := fmt.Sprintf("%s %s", m.instance, addr)
	resp, err := m.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, value, clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		return errors.Wrapf(err, "reserve harbor %d", id)
	}
	if !resp.Succeeded {
		m.cli.Revoke(ctx, grant.ID)
		return errors.Wrapf(ErrHarborTaken, "harbor %d", id)
	}

	ch, err := m.cli.KeepAlive(context.Background(), grant.ID)
	if err != nil {
		return errors.Wrap(err, "keepalive lease")
	}
	go func() {
		for range ch {
		}
		plog.WithField("harbor", id).Warn("harbor lease keepalive stopped")
	}()
	m.lease = grant.ID
	plog.WithFields(logrus.Fields{
		"harbor":   id,
		"instance": m.instance,
		"addr":     addr,
	}).Info("harbor reserved")
	return nil
}

func (m *EtcdMaster) Register(ctx context.Context, name string, h handle.Handle) error {
	var opts []clientv3.OpOption
	if m.lease != 0 {
		opts = append(opts, clientv3.WithLease(m.lease))
	}
	if _, err := m.cli.Put(ctx, m.nameKey(name), h.String(), opts...); err != nil {
		return errors.Wrapf(err, "register name %s", name)
	}
	return nil
}

func (m *EtcdMaster) Query(ctx context.Context, name string) (handle.Handle, error) {
	resp, err := m.cli.Get(ctx, m.nameKey(name))
	if err != nil {
		return 0, errors.Wrapf(err, "query name %s", name)
	}
	if len(resp.Kvs) == 0 {
		return 0, errors.Wrapf(ErrUnknownName, "name %s", name)
	}
	return handle.Parse(string(resp.Kvs[0].Value))
}

// Harbors 当前在线的节点
func (m *EtcdMaster) Harbors(ctx context.Context) (map[int]string, error) {
	prefix := m.harborKey(0)
	prefix = prefix[:len(prefix)-1]
	resp, err := m.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list harbors")
	}
	nodes := make(map[int]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id, err := strconv.Atoi(path.Base(string(kv.Key)))
		if err != nil {
			continue
		}
		nodes[id] = string(kv.Value)
	}
	return nodes, nil
}

func (m *EtcdMaster) Close() error {
	if m.lease != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		m.cli.Revoke(ctx, m.lease)
		cancel()
	}
	return m.cli.Close()
}
