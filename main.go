package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/titus12/ma-service-go/actor"
	"github.com/titus12/ma-service-go/gate"
	"github.com/titus12/ma-service-go/harbor"
	_ "github.com/titus12/ma-service-go/service/client"
	_ "github.com/titus12/ma-service-go/service/logger"
	_ "github.com/titus12/ma-service-go/service/watchdog"
	"github.com/titus12/ma-service-go/setting"
	"github.com/titus12/ma-service-go/utils"
	"github.com/titus12/ma-service-go/wlog"
)

var (
	plog = logrus.WithField("TAG", "[MAIN]")
)

func main() {
	s, err := setting.Load(os.Args[0], os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("load setting failed")
	}
	cfg := s.Config()

	opts := []wlog.Option{wlog.WithFile(cfg.Logger, wlog.Day, 30)}
	if len(cfg.Kafka) > 0 {
		opts = append(opts, wlog.WithELK(cfg.Kafka, "ma-service", "game-log"))
	}
	if err := wlog.Initialize(wlog.LogLevel(cfg.LogLevel), opts...); err != nil {
		logrus.WithError(err).Fatal("init log failed")
	}
	s.Watch(func(c *setting.Config) {
		wlog.SetLevel(c.LogLevel)
	})

	if err := run(cfg); err != nil {
		plog.WithError(err).Fatal("server exit")
	}
	plog.Info("server shutdown.")
}

// 节点间投递，单机或standalone时返回nil
func newHarbor(cfg *setting.Config) (*harbor.Harbor, *harbor.EtcdMaster, error) {
	if cfg.Harbor == 0 || cfg.Standalone {
		return nil, nil, nil
	}

	var names harbor.NameService = harbor.NewMemoryNames()
	var master *harbor.EtcdMaster
	if len(cfg.Master) > 0 {
		err := utils.Retry(3, time.Second, 2, func() error {
			var err error
			master, err = harbor.NewEtcdMaster(&harbor.EtcdConfig{Endpoints: cfg.Master})
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		addr, err := utils.IntranetIP()
		if err != nil {
			plog.WithError(err).Warn("use local address as harbor address")
			addr = cfg.Local
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = master.Reserve(ctx, cfg.Harbor, addr)
		cancel()
		if err != nil {
			master.Close()
			return nil, nil, err
		}
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		nodes, err := master.Harbors(ctx)
		cancel()
		if err == nil {
			plog.WithField("harbors", nodes).Info("online harbors")
		}
		names = master
	}

	transport, err := harbor.NewRedisTransport(&harbor.RedisConfig{Addr: cfg.Local})
	if err != nil {
		if master != nil {
			master.Close()
		}
		return nil, nil, err
	}
	hb, err := harbor.New(cfg.Harbor, transport, names)
	if err != nil {
		transport.Close()
		if master != nil {
			master.Close()
		}
		return nil, nil, err
	}
	return hb, master, nil
}

func run(cfg *setting.Config) error {
	plog.WithFields(logrus.Fields{
		"thread":      cfg.Thread,
		"harbor":      cfg.Harbor,
		"module_path": cfg.ModulePath,
		"modules":     actor.Modules(),
	}).Info("server starting")

	hb, master, err := newHarbor(cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	sysOpts := []actor.Option{
		actor.WithRegisterer(registry),
		actor.WithMonitorInterval(cfg.MonitorInterval),
	}
	if hb != nil {
		sysOpts = append(sysOpts, actor.WithHarbor(hb))
	}
	var g *gate.Gate
	if cfg.Gate != "" {
		g = gate.New(&gate.Config{
			Listen:   cfg.Gate,
			Sockbuf:  32767,
			Sndwnd:   32,
			Rcvwnd:   32,
			MTU:      1280,
			Nodelay:  1,
			Interval: 20,
			Resend:   1,
			NC:       1,
		})
		sysOpts = append(sysOpts, actor.WithSocket(g))
	}

	sys, err := actor.NewSystem(actor.Config{Thread: cfg.Thread, Harbor: cfg.Harbor}, sysOpts...)
	if err != nil {
		return err
	}
	if hb != nil {
		if err := hb.Start(sys.DeliverRemote); err != nil {
			return err
		}
	}

	if _, err := sys.Launch("logger", cfg.Logger); err != nil {
		return err
	}
	if g != nil {
		wd, err := sys.Launch("watchdog", cfg.Watchdog)
		if err != nil {
			return err
		}
		g.Attach(sys, wd.Handle())
	}
	if cfg.Start != "" {
		name, args := cfg.Start, ""
		if i := strings.IndexByte(cfg.Start, ' '); i >= 0 {
			name, args = cfg.Start[:i], strings.TrimSpace(cfg.Start[i+1:])
		}
		if _, err := sys.Launch(name, args); err != nil {
			return errors.Wrap(err, "bootstrap")
		}
	}
	if err := sys.Start(); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.DebugAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.DebugAddr, Handler: mux}
	}

	eg, ctx := errgroup.WithContext(context.Background())
	if g != nil {
		eg.Go(func() error {
			if cfg.GateKCP {
				return g.ServeKCP()
			}
			return g.ServeTCP(ctx)
		})
	}
	if srv != nil {
		eg.Go(func() error {
			plog.Info("metrics listening on:", cfg.DebugAddr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
	}
	eg.Go(func() error {
		defer utils.PrintPanicStack()
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(ch)

		select {
		case sig := <-ch:
			plog.Info("signal received:", sig)
		case <-sys.Done():
			plog.Info("all actors exited")
		case <-ctx.Done():
		}

		plog.Info("waiting for server close, please wait...")
		if g != nil {
			g.Shutdown()
		}
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if srv != nil {
			srv.Shutdown(sctx)
		}
		err := sys.Shutdown(sctx)
		if hb != nil {
			hb.Close()
		}
		if master != nil {
			master.Close()
		}
		return err
	})
	return eg.Wait()
}
