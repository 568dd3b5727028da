package orchestrator

import (
	"sync"

	"copy-trader-sol/internal/types"
)

// failKey 标识一次失败的跟单尝试。
type failKey struct {
	followerID int64
	sig        types.Signature
}

// failureMemory 记住当前 blockhash 纪元内失败过的 (跟单者, 主签名) 组合，
// 避免在同一纪元内重复尝试注定失败的交易；纪元轮换时清理旧条目。
type failureMemory struct {
	mu     sync.Mutex
	failed map[failKey]uint64 // key -> 失败时所在纪元
}

func newFailureMemory() *failureMemory {
	return &failureMemory{failed: make(map[failKey]uint64)}
}

func (m *failureMemory) Remember(epoch uint64, followerID int64, sig types.Signature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[failKey{followerID: followerID, sig: sig}] = epoch
}

// Seen 判断该组合在指定纪元内是否已失败过。
func (m *failureMemory) Seen(epoch uint64, followerID int64, sig types.Signature) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	failedEpoch, ok := m.failed[failKey{followerID: followerID, sig: sig}]
	return ok && failedEpoch == epoch
}

// Prune 清理早于当前纪元的全部失败记录。
func (m *failureMemory) Prune(currentEpoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, epoch := range m.failed {
		if epoch < currentEpoch {
			delete(m.failed, k)
		}
	}
}

func (m *failureMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failed)
}
