package protocol

import (
	"errors"
	"math/big"

	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"
)

// ErrUnsupportedInstruction 表示策略无法识别该指令的数据格式（方法 ID 不匹配等）。
var ErrUnsupportedInstruction = errors.New("unsupported instruction for this strategy")

// TradeParams 表示为某个跟单者重建指令数据所需的经济参数。
// Master* 字段来自主交易的实际成交，用于按比例推算跟单者侧的预期量。
type TradeParams struct {
	TradeType domain.TradeType
	Master    types.Pubkey
	Follower  types.Pubkey

	InputMint  types.Pubkey
	OutputMint types.Pubkey

	// SpendLamports 表示买入时跟单者自己的 SOL 预算（lamports）。
	SpendLamports uint64

	// SellAmountRaw 表示卖出时跟单者的全量持仓（最小单位）。
	SellAmountRaw uint64

	// SlippageBps 表示滑点容忍度（基点，100 = 1%）。
	SlippageBps uint32

	// MasterInputRaw / MasterOutputRaw 表示主账户两侧的实际成交量。
	MasterInputRaw  uint64
	MasterOutputRaw uint64

	// UnixNow 表示当前时间戳，Tier-2 补丁过期字段时使用。
	UnixNow int64
}

// Strategy 表示单个协议的克隆策略：只读账户集、owner 派生账户重推导、指令数据重建。
// 注册进 program → Strategy 路由表，新增协议只需新增注册项。
type Strategy interface {
	// Platform 返回协议标识（consts.Platform*）。
	Platform() uint8

	// ReadOnlyAccounts 返回该协议中必须为只读的固定账户集合。
	// 源指令的 writable 标记不可信，命中该集合的账户一律强制只读。
	ReadOnlyAccounts() map[types.Pubkey]struct{}

	// OwnerDerivedAccounts 返回 master 身份派生账户 → follower 等价派生账户 的映射。
	// 仅覆盖 PDA 派生种子中含 owner 身份的账户；纯地址替换覆盖不到这类槽位。
	OwnerDerivedAccounts(master, follower types.Pubkey, core *domain.CoreInstructionDescriptor) (map[types.Pubkey]types.Pubkey, error)

	// RebuildData 按协议分层重建指令数据（见 codec.go 的三个层级）。
	RebuildData(src []byte, p *TradeParams) ([]byte, error)
}

// ApplySlippageUp 放宽上界：amount × (1 + bps/10000)，用于买入的最大成本。
func ApplySlippageUp(amount uint64, bps uint32) uint64 {
	return mulBps(amount, 10_000+uint64(bps))
}

// ApplySlippageDown 收紧下界：amount × (1 - bps/10000)，用于卖出的最小所得。
func ApplySlippageDown(amount uint64, bps uint32) uint64 {
	if uint64(bps) >= 10_000 {
		return 0
	}
	return mulBps(amount, 10_000-uint64(bps))
}

func mulBps(amount, factor uint64) uint64 {
	r := new(big.Int).SetUint64(amount)
	r.Mul(r, new(big.Int).SetUint64(factor))
	r.Div(r, big.NewInt(10_000))
	if !r.IsUint64() {
		return ^uint64(0)
	}
	return r.Uint64()
}

// ScaleAmount 按 follower/master 成交比例缩放：amount × numerator / denominator。
// 用 big.Int 避免中间积溢出；denominator 为 0 时返回 0。
func ScaleAmount(amount, numerator, denominator uint64) uint64 {
	if denominator == 0 {
		return 0
	}
	r := new(big.Int).SetUint64(amount)
	r.Mul(r, new(big.Int).SetUint64(numerator))
	r.Div(r, new(big.Int).SetUint64(denominator))
	if !r.IsUint64() {
		return ^uint64(0)
	}
	return r.Uint64()
}

// ExpectedOutput 推算跟单者的预期获得量：master 成交价比例 × 跟单者投入。
func (p *TradeParams) ExpectedOutput(inputRaw uint64) uint64 {
	return ScaleAmount(inputRaw, p.MasterOutputRaw, p.MasterInputRaw)
}
