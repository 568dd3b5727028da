package cache

import (
	"context"
	"sync"
	"time"

	"copy-trader-sol/internal/types"
	"copy-trader-sol/pkg/logger"
)

// BlockhashFetcher 拉取当前参考 blockhash。
type BlockhashFetcher func(ctx context.Context) (types.Hash, error)

// BlockhashCache 缓存当前参考 blockhash 并维护轮换纪元：
// blockhash 变化即纪元 +1，并回调注册方（失败记忆按纪元清理）。
type BlockhashCache struct {
	mu        sync.RWMutex
	current   types.Hash
	epoch     uint64
	fetchedAt time.Time

	onRotate []func(epoch uint64)

	fetcher  BlockhashFetcher
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewBlockhashCache(fetcher BlockhashFetcher, interval time.Duration) *BlockhashCache {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &BlockhashCache{
		fetcher:  fetcher,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// OnRotate 注册纪元轮换回调；须在 Start 前调用。
func (c *BlockhashCache) OnRotate(fn func(epoch uint64)) {
	c.onRotate = append(c.onRotate, fn)
}

// Current 返回当前 blockhash 与所属纪元。
func (c *BlockhashCache) Current() (types.Hash, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.epoch
}

// Update 写入最新 blockhash；发生轮换时返回 true 并触发回调。
func (c *BlockhashCache) Update(h types.Hash) bool {
	c.mu.Lock()
	if h.Equals(c.current) {
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return false
	}
	c.current = h
	c.epoch++
	c.fetchedAt = time.Now()
	epoch := c.epoch
	callbacks := c.onRotate
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(epoch)
	}
	return true
}

// Start 周期刷新 blockhash，直到 Stop 或 ctx 结束。
func (c *BlockhashCache) Start(ctx context.Context) {
	c.refresh(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

func (c *BlockhashCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

func (c *BlockhashCache) refresh(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h, err := c.fetcher(reqCtx)
	if err != nil {
		logger.Warnf("[BlockhashCache] 刷新 blockhash 失败: %v", err)
		return
	}
	if c.Update(h) {
		logger.Debugf("[BlockhashCache] blockhash 轮换: %s", h)
	}
}
