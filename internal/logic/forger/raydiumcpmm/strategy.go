package raydiumcpmm

import (
	"encoding/binary"
	"fmt"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"
)

// Raydium CPMM 指令方法 ID（anchor discriminator，大端比对）。
const (
	SwapBaseInput  uint64 = 0x8fbe5adac41e33de // {amount_in u64, minimum_amount_out u64}
	SwapBaseOutput uint64 = 0x37d96256a34ab4ad // {max_amount_in u64, amount_out u64}
)

var authority = types.PubkeyFromBase58("GpMZbSM2GgvTKHJirzeGfMFoaZ8UR2X7F4v8vHTvxFbL")

type strategy struct{}

// RegisterStrategies 注册 Raydium CPMM 的克隆策略。
func RegisterStrategies(m map[types.Pubkey]protocol.Strategy) {
	m[consts.RaydiumCPMMProgram] = &strategy{}
}

func (s *strategy) Platform() uint8 {
	return consts.PlatformRaydiumCPMM
}

func (s *strategy) ReadOnlyAccounts() map[types.Pubkey]struct{} {
	return protocol.MergeReadOnly(map[types.Pubkey]struct{}{
		authority:                 {},
		consts.RaydiumCPMMProgram: {},
	})
}

func (s *strategy) OwnerDerivedAccounts(master, follower types.Pubkey, core *domain.CoreInstructionDescriptor) (map[types.Pubkey]types.Pubkey, error) {
	return nil, nil
}

// RebuildData 按 Tier-1 全新编码，布局与 Raydium V4 同构，仅方法 ID 不同。
func (s *strategy) RebuildData(src []byte, p *protocol.TradeParams) ([]byte, error) {
	if len(src) < 24 {
		return nil, protocol.ErrUnsupportedInstruction
	}

	disc := src[:8]
	amountIn, err := followerAmountIn(p)
	if err != nil {
		return nil, err
	}

	switch binary.BigEndian.Uint64(disc) {
	case SwapBaseInput:
		return protocol.EmitTier1(disc,
			amountIn,
			protocol.ApplySlippageDown(p.ExpectedOutput(amountIn), p.SlippageBps),
		), nil
	case SwapBaseOutput:
		return protocol.EmitTier1(disc,
			protocol.ApplySlippageUp(amountIn, p.SlippageBps),
			p.ExpectedOutput(amountIn),
		), nil
	}

	return nil, protocol.ErrUnsupportedInstruction
}

func followerAmountIn(p *protocol.TradeParams) (uint64, error) {
	switch p.TradeType {
	case domain.TradeBuy:
		if p.SpendLamports == 0 {
			return 0, fmt.Errorf("raydiumcpmm: zero spend amount")
		}
		return p.SpendLamports, nil
	case domain.TradeSell:
		if p.SellAmountRaw == 0 {
			return 0, fmt.Errorf("raydiumcpmm: zero position amount")
		}
		return p.SellAmountRaw, nil
	}
	return 0, fmt.Errorf("raydiumcpmm: unknown trade type %d", p.TradeType)
}
