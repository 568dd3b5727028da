package watcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"copy-trader-sol/internal/gateway"
	"copy-trader-sol/internal/store"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/pkg/logger"
)

// SignatureHandler 消费一条主账户签名（判重由消费方负责）。
type SignatureHandler func(ctx context.Context, master types.Pubkey, sig types.Signature) error

// PollingWatcher 通过 RPC 轮询主账户的最近签名并推给执行层。
// geyser 流可用时作为兜底路径，独立运行时也可作为唯一来源。
type PollingWatcher struct {
	gw       gateway.ChainGateway
	ledger   store.LedgerStore
	handler  SignatureHandler
	interval time.Duration
	limit    int

	stopChan chan struct{}
	ctx      context.Context
	cancel   func(err error)

	mu      sync.Mutex
	cursors map[types.Pubkey]types.Signature // 每个主账户上次处理到的最新签名
}

func NewPollingWatcher(
	gw gateway.ChainGateway,
	ledger store.LedgerStore,
	handler SignatureHandler,
	intervalMs int,
	limit int,
) *PollingWatcher {
	if intervalMs <= 0 {
		intervalMs = 1500
	}
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &PollingWatcher{
		gw:       gw,
		ledger:   ledger,
		handler:  handler,
		interval: time.Duration(intervalMs) * time.Millisecond,
		limit:    limit,
		stopChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		cursors:  make(map[types.Pubkey]types.Signature),
	}
}

func (w *PollingWatcher) Start() {
	w.scheduleNext()
	<-w.stopChan
}

func (w *PollingWatcher) scheduleNext() {
	time.AfterFunc(w.interval, func() {
		if err := w.poll(); err != nil {
			logger.Warnf("[Watcher] 轮询失败: %v", err)
		}
		// 如果没有被 Stop，就继续调度
		select {
		case <-w.ctx.Done():
			return
		default:
			w.scheduleNext()
		}
	})
}

func (w *PollingWatcher) Stop() {
	w.cancel(errors.New("polling watcher stop"))
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
}

func (w *PollingWatcher) poll() (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Watcher] poll panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("poll panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(w.ctx, 15*time.Second)
	defer cancel()

	masters, err := w.ledger.FollowedMasters(ctx)
	if err != nil {
		return fmt.Errorf("list masters: %w", err)
	}

	for _, master := range masters {
		if err := w.pollMaster(ctx, master); err != nil {
			logger.Warnf("[Watcher] master=%s 轮询失败: %v", master, err)
		}
	}
	return nil
}

func (w *PollingWatcher) pollMaster(ctx context.Context, master types.Pubkey) error {
	sigs, err := w.gw.RecentSignatures(ctx, master, w.limit)
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		return nil
	}

	w.mu.Lock()
	cursor, hasCursor := w.cursors[master]
	w.mu.Unlock()

	// 首次轮询只建立游标，不回放历史交易
	if !hasCursor {
		w.mu.Lock()
		w.cursors[master] = sigs[0]
		w.mu.Unlock()
		return nil
	}

	// RecentSignatures 按新→旧返回；截到上次游标为止，再按旧→新回放
	fresh := make([]types.Signature, 0, len(sigs))
	for _, sig := range sigs {
		if sig.Equals(cursor) {
			break
		}
		fresh = append(fresh, sig)
	}
	for i := len(fresh) - 1; i >= 0; i-- {
		if err := w.handler(ctx, master, fresh[i]); err != nil {
			logger.Errorf("[Watcher] 处理签名失败 master=%s sig=%s: %v", master, fresh[i], err)
		}
	}

	w.mu.Lock()
	w.cursors[master] = sigs[0]
	w.mu.Unlock()
	return nil
}
