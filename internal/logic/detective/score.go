package detective

import (
	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"
)

// 候选核心指令的评分权重。
// 已知协议直接命中优先级最高；router 命中要求发起者签名；
// 通用启发式只对结构"像一笔 swap"的未知指令给低分。
const (
	scoreKnownPlatform  = 60
	scoreRouterMatch    = 50
	scoreWritableSigner = 20
	scoreAccountRange   = 10
	scoreDataRange      = 10

	// minCoreScore 表示候选指令的最低可信分数，低于该值视为未识别。
	minCoreScore = 30
)

// 通用启发式的结构区间：账户数与数据长度落在该范围内的指令才可能是 swap。
const (
	minSwapAccounts = 6
	maxSwapAccounts = 24
	minSwapDataLen  = 8
	maxSwapDataLen  = 400
)

// scoreInstruction 对单条指令进行核心指令候选评分。
// master 为推定的交易发起者。返回 0 表示该指令可以直接排除。
func (a *Analyzer) scoreInstruction(ix *domain.AdaptedInstruction, master types.Pubkey) int {
	// 基础设施类 Program 永远不是核心指令
	if _, ok := consts.InfraPrograms[ix.ProgramID]; ok {
		return 0
	}

	score := 0

	// 1. 已知交易协议直接命中
	if _, ok := a.platforms[ix.ProgramID]; ok {
		score += scoreKnownPlatform
	}

	// 2. 聚合器 router 模式：program 命中 router 集合且发起者是签名者
	if _, ok := consts.RouterPrograms[ix.ProgramID]; ok {
		for _, meta := range ix.Accounts {
			if meta.Pubkey == master && meta.IsSigner {
				score += scoreRouterMatch
				break
			}
		}
	}

	// 3. 通用启发式：结构特征逐项计分
	if ix.HasWritableSigner(master) {
		score += scoreWritableSigner
	}
	if n := len(ix.Accounts); n >= minSwapAccounts && n <= maxSwapAccounts {
		score += scoreAccountRange
	}
	if n := len(ix.Data); n >= minSwapDataLen && n <= maxSwapDataLen {
		score += scoreDataRange
	}

	return score
}

// pickCoreInstruction 遍历展平指令序列，选出评分最高的候选。
// 同分时偏向靠后的指令：建账户、wrap SOL 等 setup 指令总是先于真正的交易。
func (a *Analyzer) pickCoreInstruction(tx *domain.MasterTransaction, master types.Pubkey) (*domain.AdaptedInstruction, int) {
	var best *domain.AdaptedInstruction
	bestIdx := -1
	bestScore := 0

	for i, ix := range tx.Instructions {
		score := a.scoreInstruction(ix, master)
		if score >= bestScore && score > 0 {
			best = ix
			bestIdx = i
			bestScore = score
		}
	}

	if bestScore < minCoreScore {
		return nil, -1
	}
	return best, bestIdx
}
