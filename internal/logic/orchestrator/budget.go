package orchestrator

const (
	// computeUnitMarginNum/Den 表示在主交易实际消耗上乘的安全系数（1.3 倍）。
	computeUnitMarginNum = 13
	computeUnitMarginDen = 10

	// staticComputeUnitCeiling 表示主交易消耗未知时的静态上限。
	staticComputeUnitCeiling = 600_000

	// maxComputeUnitLimit 是单笔交易的链上硬上限。
	maxComputeUnitLimit = 1_400_000
)

// computeUnitLimit 按主交易实际消耗推算跟单交易的 compute unit 上限：
// 已知消耗 → 消耗 × 1.3（封顶链上上限）；未知 → 静态上限。
func computeUnitLimit(masterConsumed uint64) uint32 {
	if masterConsumed == 0 {
		return staticComputeUnitCeiling
	}
	limit := masterConsumed * computeUnitMarginNum / computeUnitMarginDen
	if limit > maxComputeUnitLimit {
		limit = maxComputeUnitLimit
	}
	return uint32(limit)
}
