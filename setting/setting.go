// 启动参数。命令行参数优先，其次是MA_开头的环境变量，最后是配置文件
package setting

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	plog = logrus.WithField("TAG", "[SETTING]")
)

type Config struct {
	Thread          int           `mapstructure:"thread"`           // 工作者数量
	Harbor          int           `mapstructure:"harbor"`           // 节点编号，0为单机
	Logger          string        `mapstructure:"logger"`           // 日志文件，空则只输出到控制台
	LogLevel        string        `mapstructure:"loglevel"`         // 日志级别
	Kafka           []string      `mapstructure:"kafka"`            // 日志同时发往kafka
	ModulePath      string        `mapstructure:"module_path"`      // 模块搜索路径，只做记录，模块都是编译进来的
	Master          []string      `mapstructure:"master"`           // etcd地址，分配节点编号和全局名字
	Local           string        `mapstructure:"local"`            // 节点间投递使用的redis地址
	Start           string        `mapstructure:"start"`            // 启动服务，形如 "module args"
	Standalone      bool          `mapstructure:"standalone"`       // 不连接任何其他节点
	Gate            string        `mapstructure:"gate"`             // 客户端监听地址，空则不开启
	GateKCP         bool          `mapstructure:"gate_kcp"`         // 使用kcp协议监听
	Watchdog        string        `mapstructure:"watchdog"`         // 每个连接的代理模块
	DebugAddr       string        `mapstructure:"debug_addr"`       // prometheus指标地址
	MonitorInterval time.Duration `mapstructure:"monitor_interval"` // 死循环检测间隔
}

// Validate 检查参数
func (c *Config) Validate() error {
	if c.Thread <= 0 {
		return errors.Errorf("thread must be positive, got %d", c.Thread)
	}
	if c.Harbor < 0 || c.Harbor > 255 {
		return errors.Errorf("harbor must be in [0, 255], got %d", c.Harbor)
	}
	if c.Harbor > 0 && !c.Standalone && c.Local == "" {
		return errors.New("harbor without local address")
	}
	return nil
}

// 命令行参数，名字和配置文件里的键相同
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "配置文件路径")
	fs.Int("thread", 8, "工作者数量")
	fs.Int("harbor", 0, "节点编号，0为单机")
	fs.String("logger", "", "日志文件")
	fs.String("loglevel", "info", "日志级别")
	fs.StringSlice("kafka", nil, "日志同时发往的kafka地址")
	fs.String("module_path", "", "模块搜索路径")
	fs.StringSlice("master", nil, "etcd地址")
	fs.String("local", "", "节点间投递的redis地址")
	fs.String("start", "", "启动服务")
	fs.Bool("standalone", false, "单节点运行")
	fs.String("gate", "", "客户端监听地址")
	fs.Bool("gate_kcp", false, "使用kcp协议监听")
	fs.String("watchdog", "client", "每个连接的代理模块")
	fs.String("debug_addr", "", "prometheus指标地址")
	fs.Duration("monitor_interval", 5*time.Second, "死循环检测间隔")
	return fs
}

// Setting 持有解析后的参数，配置文件变化时重新加载
type Setting struct {
	v   *viper.Viper
	mu  sync.RWMutex
	cfg *Config
}

// Load 解析命令行参数和配置文件
func Load(name string, args []string) (*Setting, error) {
	fs := newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parse flags")
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}
	v.SetEnvPrefix("MA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		plog.Info("using config file:", v.ConfigFileUsed())
	}

	s := &Setting{v: v}
	cfg, err := s.decode()
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

func (s *Setting) decode() (*Config, error) {
	cfg := &Config{}
	if err := s.v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Config 当前参数，返回值不能修改
func (s *Setting) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Watch 配置文件变化后重新解析并回调，解析失败时保留旧值。没有配置文件时什么都不做
func (s *Setting) Watch(fn func(*Config)) {
	if s.v.ConfigFileUsed() == "" {
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := s.decode()
		if err != nil {
			plog.WithError(err).Warn("reload config failed:", e.Name)
			return
		}
		s.mu.Lock()
		s.cfg = cfg
		s.mu.Unlock()
		plog.Info("config reloaded:", e.Name)
		if fn != nil {
			fn(cfg)
		}
	})
	s.v.WatchConfig()
}
