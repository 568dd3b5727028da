package raydiumclmm

import (
	"encoding/binary"
	"fmt"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"
)

// Raydium CLMM 指令方法 ID（anchor discriminator，大端比对）。
const (
	Swap   uint64 = 0xf8c69e91e17587c8 // swap
	SwapV2 uint64 = 0x2b04ed0b1ac91e62 // swap_v2
)

// swap 参数布局：amount u64 @8, other_amount_threshold u64 @16,
// sqrt_price_limit_x64 u128 @24, is_base_input bool @40。
// u128 与 bool 字段未完全建模，按 Tier-2 原样保留。
const (
	amountOffset    = 8
	thresholdOffset = 16
)

type strategy struct{}

// RegisterStrategies 注册 Raydium CLMM 的克隆策略。
func RegisterStrategies(m map[types.Pubkey]protocol.Strategy) {
	m[consts.RaydiumCLMMProgram] = &strategy{}
}

func (s *strategy) Platform() uint8 {
	return consts.PlatformRaydiumCLMM
}

func (s *strategy) ReadOnlyAccounts() map[types.Pubkey]struct{} {
	return protocol.MergeReadOnly(map[types.Pubkey]struct{}{
		consts.RaydiumCLMMProgram: {},
	})
}

func (s *strategy) OwnerDerivedAccounts(master, follower types.Pubkey, core *domain.CoreInstructionDescriptor) (map[types.Pubkey]types.Pubkey, error) {
	return nil, nil
}

// RebuildData 按 Tier-2 补丁：只覆写 amount 与 threshold 两个已知字段，
// sqrt price limit 等未建模字段逐字节保留，避免破坏格式。
func (s *strategy) RebuildData(src []byte, p *protocol.TradeParams) ([]byte, error) {
	if len(src) < thresholdOffset+8 {
		return nil, protocol.ErrUnsupportedInstruction
	}
	switch binary.BigEndian.Uint64(src[:8]) {
	case Swap, SwapV2:
	default:
		return nil, protocol.ErrUnsupportedInstruction
	}

	amountIn, err := followerAmountIn(p)
	if err != nil {
		return nil, err
	}

	out, err := protocol.PatchUint64(src, amountOffset, amountIn)
	if err != nil {
		return nil, err
	}
	return protocol.PatchUint64(out, thresholdOffset,
		protocol.ApplySlippageDown(p.ExpectedOutput(amountIn), p.SlippageBps))
}

func followerAmountIn(p *protocol.TradeParams) (uint64, error) {
	switch p.TradeType {
	case domain.TradeBuy:
		if p.SpendLamports == 0 {
			return 0, fmt.Errorf("raydiumclmm: zero spend amount")
		}
		return p.SpendLamports, nil
	case domain.TradeSell:
		if p.SellAmountRaw == 0 {
			return 0, fmt.Errorf("raydiumclmm: zero position amount")
		}
		return p.SellAmountRaw, nil
	}
	return 0, fmt.Errorf("raydiumclmm: unknown trade type %d", p.TradeType)
}
