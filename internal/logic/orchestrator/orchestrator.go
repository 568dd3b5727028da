package orchestrator

import (
	"context"
	"runtime/debug"
	"time"

	"copy-trader-sol/internal/cache"
	"copy-trader-sol/internal/gateway"
	"copy-trader-sol/internal/logic/detective"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger"
	"copy-trader-sol/internal/notifier"
	"copy-trader-sol/internal/store"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/internal/vault"
	"copy-trader-sol/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Config 是执行层的运行参数。
type Config struct {
	// ConfirmTimeout 表示单笔跟单交易的确认等待上限。
	ConfirmTimeout time.Duration

	// FollowerLockTTL 表示跟单者锁的强制回收时限。
	FollowerLockTTL time.Duration

	// MaxConcurrentFollowers 表示单笔主交易扇出时的并发上限，0 表示不限。
	MaxConcurrentFollowers int
}

// Orchestrator 串联识别与克隆两端：
// 主交易签名进来后判重、拉取、识别，再对每个跟单者并发执行克隆与提交。
type Orchestrator struct {
	detective *detective.Analyzer
	forger    *forger.Forger
	gw        gateway.ChainGateway
	router    gateway.SwapRouter
	store     store.LedgerStore
	vault     vault.Vault
	notifier  notifier.Notifier
	blockhash *cache.BlockhashCache

	inflight *inflightRegistry
	locks    *followerLocks
	failures *failureMemory

	confirmTimeout time.Duration
	maxConcurrent  int
}

func NewOrchestrator(
	analyzer *detective.Analyzer,
	f *forger.Forger,
	gw gateway.ChainGateway,
	router gateway.SwapRouter,
	ledger store.LedgerStore,
	v vault.Vault,
	n notifier.Notifier,
	blockhash *cache.BlockhashCache,
	cfg Config,
) *Orchestrator {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 45 * time.Second
	}
	if n == nil {
		n = notifier.NopNotifier{}
	}

	o := &Orchestrator{
		detective:      analyzer,
		forger:         f,
		gw:             gw,
		router:         router,
		store:          ledger,
		vault:          v,
		notifier:       n,
		blockhash:      blockhash,
		inflight:       newInflightRegistry(),
		locks:          newFollowerLocks(cfg.FollowerLockTTL),
		failures:       newFailureMemory(),
		confirmTimeout: cfg.ConfirmTimeout,
		maxConcurrent:  cfg.MaxConcurrentFollowers,
	}

	// 失败记忆随 blockhash 纪元轮换清理
	blockhash.OnRotate(o.failures.Prune)
	return o
}

// HandleSignature 处理一条主账户签名：判重 → 拉取 → 识别 → 执行。
// 识别拒绝不算错误（大部分交易不是目标交易）。
func (o *Orchestrator) HandleSignature(ctx context.Context, master types.Pubkey, sig types.Signature) error {
	if !o.inflight.TryAcquire(sig) {
		return nil
	}
	defer o.inflight.Release(sig)

	first, err := o.store.MarkProcessed(ctx, sig)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	tx, err := o.gw.FetchTransaction(ctx, sig)
	if err != nil {
		return err
	}

	intent, err := o.detective.Analyze(tx, master)
	if err != nil {
		if reason, ok := detective.AsReject(err); ok {
			logger.Debugf("[Orchestrator] tx=%s 非目标交易: %s", sig, reason)
			return nil
		}
		return err
	}

	logger.Infof("[Orchestrator] 识别到 %s 交易 master=%s tx=%s platform=%d",
		intent.TradeType, master, sig, intent.Platform)
	return o.ExecuteIntent(ctx, intent)
}

// HandleTransaction 处理一笔已翻译完成的主交易（geyser 推送路径，免去 RPC 回读）。
func (o *Orchestrator) HandleTransaction(ctx context.Context, master types.Pubkey, tx *domain.MasterTransaction) error {
	sig := tx.Signature
	if !o.inflight.TryAcquire(sig) {
		return nil
	}
	defer o.inflight.Release(sig)

	first, err := o.store.MarkProcessed(ctx, sig)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	intent, err := o.detective.Analyze(tx, master)
	if err != nil {
		if reason, ok := detective.AsReject(err); ok {
			logger.Debugf("[Orchestrator] tx=%s 非目标交易: %s", sig, reason)
			return nil
		}
		return err
	}

	logger.Infof("[Orchestrator] 识别到 %s 交易 master=%s tx=%s platform=%d",
		intent.TradeType, master, sig, intent.Platform)
	return o.ExecuteIntent(ctx, intent)
}

// ExecuteIntent 对 TradeIntent 做跟单者扇出执行。
// 单个跟单者的失败（包括 panic）不影响其他跟单者。
func (o *Orchestrator) ExecuteIntent(ctx context.Context, intent *domain.TradeIntent) error {
	followers, err := o.store.FollowersOfMaster(ctx, intent.Master)
	if err != nil {
		return err
	}
	if len(followers) == 0 {
		logger.Debugf("[Orchestrator] master=%s 无跟单者", intent.Master)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if o.maxConcurrent > 0 {
		g.SetLimit(o.maxConcurrent)
	}

	for _, follower := range followers {
		follower := follower
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[Orchestrator] panic follower=%d tx=%s: %+v\nstack: %s",
						follower.ID, intent.Signature, r, debug.Stack())
				}
			}()

			att := &attempt{
				o:        o,
				intent:   intent,
				follower: follower,
				state:    stateDetected,
			}
			if err := att.run(gctx); err != nil {
				// 失败已通知、已记失败记忆，这里只记日志，不传播取消兄弟任务
				logger.Errorf("[Orchestrator] 跟单失败 follower=%d tx=%s: %v",
					follower.ID, intent.Signature, err)
			}
			return nil
		})
	}
	return g.Wait()
}
