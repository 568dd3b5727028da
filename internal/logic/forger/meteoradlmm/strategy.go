package meteoradlmm

import (
	"encoding/binary"
	"fmt"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"
)

// Meteora DLMM swap 方法 ID（anchor discriminator，大端比对）。
const Swap uint64 = 0xf8c69e91e17587c8

// swap 参数布局：amount_in u64 @8, min_amount_out u64 @16。
// 其后的 remaining 数据（bin array 提示等）未建模，按 Tier-2 原样保留。
const (
	amountInOffset     = 8
	minAmountOutOffset = 16
)

var eventAuthority = types.PubkeyFromBase58("D1ZN9Wj1fRSUQfCjhvnu1hqDMT7hzjzBBpi12nVniYD6")

type strategy struct{}

// RegisterStrategies 注册 Meteora DLMM 的克隆策略。
func RegisterStrategies(m map[types.Pubkey]protocol.Strategy) {
	m[consts.MeteoraDLMMProgram] = &strategy{}
}

func (s *strategy) Platform() uint8 {
	return consts.PlatformMeteoraDLMM
}

func (s *strategy) ReadOnlyAccounts() map[types.Pubkey]struct{} {
	return protocol.MergeReadOnly(map[types.Pubkey]struct{}{
		eventAuthority:            {},
		consts.MeteoraDLMMProgram: {},
	})
}

func (s *strategy) OwnerDerivedAccounts(master, follower types.Pubkey, core *domain.CoreInstructionDescriptor) (map[types.Pubkey]types.Pubkey, error) {
	return nil, nil
}

// RebuildData 按 Tier-2 补丁 amount_in 与 min_amount_out。
func (s *strategy) RebuildData(src []byte, p *protocol.TradeParams) ([]byte, error) {
	if len(src) < minAmountOutOffset+8 {
		return nil, protocol.ErrUnsupportedInstruction
	}
	if binary.BigEndian.Uint64(src[:8]) != Swap {
		return nil, protocol.ErrUnsupportedInstruction
	}

	amountIn, err := followerAmountIn(p)
	if err != nil {
		return nil, err
	}

	out, err := protocol.PatchUint64(src, amountInOffset, amountIn)
	if err != nil {
		return nil, err
	}
	return protocol.PatchUint64(out, minAmountOutOffset,
		protocol.ApplySlippageDown(p.ExpectedOutput(amountIn), p.SlippageBps))
}

func followerAmountIn(p *protocol.TradeParams) (uint64, error) {
	switch p.TradeType {
	case domain.TradeBuy:
		if p.SpendLamports == 0 {
			return 0, fmt.Errorf("meteoradlmm: zero spend amount")
		}
		return p.SpendLamports, nil
	case domain.TradeSell:
		if p.SellAmountRaw == 0 {
			return 0, fmt.Errorf("meteoradlmm: zero position amount")
		}
		return p.SellAmountRaw, nil
	}
	return 0, fmt.Errorf("meteoradlmm: unknown trade type %d", p.TradeType)
}
