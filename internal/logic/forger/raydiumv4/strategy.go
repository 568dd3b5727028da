package raydiumv4

import (
	"fmt"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"
)

// Raydium V4 使用单字节方法 tag（非 anchor 格式）。
const (
	TagSwapBaseIn  byte = 9  // {amount_in u64, minimum_amount_out u64}
	TagSwapBaseOut byte = 11 // {max_amount_in u64, amount_out u64}
)

var authority = types.PubkeyFromBase58("5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1")

type strategy struct{}

// RegisterStrategies 注册 Raydium V4 AMM 的克隆策略。
func RegisterStrategies(m map[types.Pubkey]protocol.Strategy) {
	m[consts.RaydiumV4Program] = &strategy{}
}

func (s *strategy) Platform() uint8 {
	return consts.PlatformRaydiumV4
}

func (s *strategy) ReadOnlyAccounts() map[types.Pubkey]struct{} {
	return protocol.MergeReadOnly(map[types.Pubkey]struct{}{
		authority:               {},
		consts.RaydiumV4Program: {},
	})
}

// Raydium V4 无按 owner 派生的指令账户（用户侧都是普通 token account）。
func (s *strategy) OwnerDerivedAccounts(master, follower types.Pubkey, core *domain.CoreInstructionDescriptor) (map[types.Pubkey]types.Pubkey, error) {
	return nil, nil
}

// RebuildData 按 Tier-1 全新编码：tag + amount + 滑点界。
func (s *strategy) RebuildData(src []byte, p *protocol.TradeParams) ([]byte, error) {
	if len(src) < 17 {
		return nil, protocol.ErrUnsupportedInstruction
	}

	switch src[0] {
	case TagSwapBaseIn:
		amountIn, err := followerAmountIn(p)
		if err != nil {
			return nil, err
		}
		return protocol.EmitTier1([]byte{TagSwapBaseIn},
			amountIn,
			protocol.ApplySlippageDown(p.ExpectedOutput(amountIn), p.SlippageBps), // minimum_amount_out
		), nil

	case TagSwapBaseOut:
		// 固定产出模式：保持同模式，产出按投入比例推算，投入上界放宽滑点
		amountIn, err := followerAmountIn(p)
		if err != nil {
			return nil, err
		}
		return protocol.EmitTier1([]byte{TagSwapBaseOut},
			protocol.ApplySlippageUp(amountIn, p.SlippageBps), // max_amount_in
			p.ExpectedOutput(amountIn),                        // amount_out
		), nil
	}

	return nil, protocol.ErrUnsupportedInstruction
}

// followerAmountIn 返回跟单者的投入量：买入用 SOL 预算，卖出用全量持仓。
func followerAmountIn(p *protocol.TradeParams) (uint64, error) {
	switch p.TradeType {
	case domain.TradeBuy:
		if p.SpendLamports == 0 {
			return 0, fmt.Errorf("raydiumv4: zero spend amount")
		}
		return p.SpendLamports, nil
	case domain.TradeSell:
		if p.SellAmountRaw == 0 {
			return 0, fmt.Errorf("raydiumv4: zero position amount")
		}
		return p.SellAmountRaw, nil
	}
	return 0, fmt.Errorf("raydiumv4: unknown trade type %d", p.TradeType)
}
