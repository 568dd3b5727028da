package orchestrator

import (
	"sync"
	"time"

	"copy-trader-sol/internal/types"
	"copy-trader-sol/pkg/logger"
)

// inflightRegistry 记录正在处理中的主交易签名，防止同一签名并发进入流水线。
type inflightRegistry struct {
	mu   sync.Mutex
	sigs map[types.Signature]struct{}
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{sigs: make(map[types.Signature]struct{})}
}

// TryAcquire 尝试占用签名；已在处理中返回 false。
func (r *inflightRegistry) TryAcquire(sig types.Signature) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sigs[sig]; ok {
		return false
	}
	r.sigs[sig] = struct{}{}
	return true
}

func (r *inflightRegistry) Release(sig types.Signature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sigs, sig)
}

// followerLocks 对每个跟单者做串行化：同一跟单者同一时刻只执行一笔跟单。
// 持锁超过 TTL 视为泄漏（极端 panic 路径），强制回收。
type followerLocks struct {
	mu    sync.Mutex
	locks map[int64]time.Time
	ttl   time.Duration
}

func newFollowerLocks(ttl time.Duration) *followerLocks {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &followerLocks{
		locks: make(map[int64]time.Time),
		ttl:   ttl,
	}
}

// Acquire 尝试获取跟单者锁；锁被占用且未超 TTL 时返回 false。
func (l *followerLocks) Acquire(followerID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	since, held := l.locks[followerID]
	if held {
		if time.Since(since) < l.ttl {
			return false
		}
		// 超 TTL 强制回收
		logger.Warnf("[Orchestrator] 跟单者 %d 锁超时强制回收 (held %v)", followerID, time.Since(since))
	}
	l.locks[followerID] = time.Now()
	return true
}

func (l *followerLocks) Release(followerID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, followerID)
}
