package svc

import (
	"time"

	"copy-trader-sol/internal/cache"
	"copy-trader-sol/internal/config"
	"copy-trader-sol/internal/gateway"
	"copy-trader-sol/internal/logic/detective"
	"copy-trader-sol/internal/logic/forger"
	"copy-trader-sol/internal/logic/orchestrator"
	"copy-trader-sol/internal/notifier"
	"copy-trader-sol/internal/store"
	"copy-trader-sol/internal/vault"
	"copy-trader-sol/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// ServiceContext 包含跟单服务的全部共享资源
type ServiceContext struct {
	Config       config.Config
	Gateway      gateway.ChainGateway
	Router       gateway.SwapRouter
	Store        store.LedgerStore
	Vault        vault.Vault
	Notifier     notifier.Notifier
	Blockhash    *cache.BlockhashCache
	Detective    *detective.Analyzer
	Forger       *forger.Forger
	Orchestrator *orchestrator.Orchestrator

	kafkaNotifier *notifier.KafkaNotifier
}

// NewServiceContext 创建一个新的服务上下文
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	// 1. 协议克隆策略路由表
	forger.Init()

	// 2. Redis 台账
	rdb := redis.NewClient(&redis.Options{
		Addr: c.RedisAddr,
	})
	ledger := store.NewRedisLedgerStore(rdb)

	// 3. 签名金库（私钥只进金库，不出金库）
	memVault := vault.NewMemoryVault()
	for _, w := range c.VaultConf.Wallets {
		if err := memVault.AddWallet(w.FollowerID, w.Label, w.PrivateKey); err != nil {
			logger.Errorf("金库加载钱包失败 follower=%d: %v", w.FollowerID, err)
			return nil, err
		}
	}

	// 4. 链上网关与聚合器兜底路由
	gw := gateway.NewRpcGateway(c.RpcConf.Endpoint)
	router := gateway.NewJupiterRouter(c.ExecutorConf.JupiterQuoteURL, c.ExecutorConf.JupiterSwapURL)

	// 5. 通知通道
	var n notifier.Notifier = notifier.NopNotifier{}
	var kafkaNotifier *notifier.KafkaNotifier
	if c.KafkaConf.Enabled {
		kn, err := notifier.NewKafkaNotifier(c.KafkaConf.Brokers, c.KafkaConf.Topic)
		if err != nil {
			logger.Errorf("Kafka notifier 初始化失败: %v", err)
			return nil, err
		}
		n = kn
		kafkaNotifier = kn
	}

	// 6. blockhash 纪元缓存
	blockhash := cache.NewBlockhashCache(
		gw.LatestBlockhash,
		time.Duration(c.ExecutorConf.BlockhashRefreshMs)*time.Millisecond,
	)

	// 7. 识别与执行层
	analyzer := detective.NewAnalyzer(c.ExecutorConf.MinTradeLamports)
	f := forger.NewForger()
	orch := orchestrator.NewOrchestrator(
		analyzer, f, gw, router, ledger, memVault, n, blockhash,
		orchestrator.Config{
			ConfirmTimeout:         time.Duration(c.ExecutorConf.ConfirmTimeoutSec) * time.Second,
			FollowerLockTTL:        time.Duration(c.ExecutorConf.FollowerLockTTLSec) * time.Second,
			MaxConcurrentFollowers: c.ExecutorConf.MaxConcurrentFollowers,
		},
	)

	ctx := &ServiceContext{
		Config:        c,
		Gateway:       gw,
		Router:        router,
		Store:         ledger,
		Vault:         memVault,
		Notifier:      n,
		Blockhash:     blockhash,
		Detective:     analyzer,
		Forger:        f,
		Orchestrator:  orch,
		kafkaNotifier: kafkaNotifier,
	}

	logger.Infof("跟单服务上下文初始化完成")
	return ctx, nil
}

// Close 关闭服务上下文中的资源
func (ctx *ServiceContext) Close() {
	ctx.Blockhash.Stop()
	if ctx.kafkaNotifier != nil {
		ctx.kafkaNotifier.Close()
	}
}
