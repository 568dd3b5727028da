package domain

import "copy-trader-sol/internal/types"

// Position 表示某跟单者在某 mint 上的持仓记录。
// 首次买入确认后创建；同 mint 再次买入时整体替换（一买一卖策略）；全量卖出确认后失效。
type Position struct {
	FollowerID int64
	Mint       types.Pubkey
	AmountRaw  uint64 // 持仓数量（最小单位），卖出永远针对全量
	SolSpent   uint64 // 建仓消耗的 lamports
	Active     bool
	UpdatedAt  int64 // Unix 秒
}

// FollowerSettings 表示跟单者的交易配置。
type FollowerSettings struct {
	FollowerID        int64
	BuyAmountLamports uint64 // 单次跟买的固定 SOL 预算（lamports）
	SlippageBps       uint32 // 滑点容忍度（基点，100 = 1%）

	// PriorityFeeMicroLamports 表示每计算单元出价（micro-lamports），0 表示不加价。
	PriorityFeeMicroLamports uint64

	// NonceAccount 非零时启用 durable nonce 作为交易基准，免疫 blockhash 过期。
	NonceAccount types.Pubkey
}

// Follower 表示一个跟单者身份。
type Follower struct {
	ID       int64
	Wallet   types.Pubkey
	Label    string // 钱包展示名，通知用
	Settings FollowerSettings
}

// Trader 表示被跟单的主账户。
type Trader struct {
	Wallet types.Pubkey
	Label  string // 通知中显示的交易员名称
}
