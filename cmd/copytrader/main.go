package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"copy-trader-sol/internal/config"
	"copy-trader-sol/internal/logic/watcher"
	"copy-trader-sol/internal/svc"
	"copy-trader-sol/pkg/logger"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"
)

var configFile = flag.String("f", "etc/copytrader.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()

	flag.Parse()

	var c config.Config
	conf.MustLoad(*configFile, &c)

	logger.Init(c.LogConf.ToLogOption())
	defer logger.Sync()

	serviceContext, err := svc.NewServiceContext(c)
	if err != nil {
		panic(err)
	}
	defer serviceContext.Close()

	// blockhash 纪元缓存后台刷新
	go serviceContext.Blockhash.Start(context.Background())

	sg := zerosvc.NewServiceGroup()

	mode := c.WatcherConf.Mode
	if mode == "" {
		mode = "rpc"
	}

	// RPC 轮询监听（geyser 模式下作为兜底同时开启）
	if mode == "rpc" || mode == "both" {
		pollingWatcher := watcher.NewPollingWatcher(
			serviceContext.Gateway,
			serviceContext.Store,
			serviceContext.Orchestrator.HandleSignature,
			c.WatcherConf.PollIntervalMs,
			c.WatcherConf.SignatureLimit,
		)
		sg.Add(pollingWatcher)
	}

	// geyser 流式监听
	if mode == "geyser" || mode == "both" {
		geyserWatcher, err := watcher.NewGeyserWatcher(
			c.WatcherConf.Grpc,
			serviceContext.Store,
			serviceContext.Orchestrator.HandleTransaction,
		)
		if err != nil {
			panic(err)
		}
		sg.Add(geyserWatcher)
	}

	logx.Infof("Starting copy trader service, watcher mode=%s", mode)

	// 启动服务
	sg.Start()

	// 等待退出信号
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logx.Info("Shutting down services...")
	sg.Stop()
}
