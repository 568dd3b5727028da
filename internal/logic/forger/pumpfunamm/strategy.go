package pumpfunamm

import (
	"encoding/binary"
	"fmt"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"
)

// PumpSwap AMM 指令方法 ID（anchor discriminator，大端比对）。
// buy/sell 与 bonding curve 版共用同名方法，ID 一致。
const (
	Buy  uint64 = 0x66063d1201daebea
	Sell uint64 = 0x33e685a4017f83ad
)

var (
	globalConfig   = types.PubkeyFromBase58("ADyA8hdefvWN2dbGGWFotbzWxrAvLW83WG6QCVXvJKqw")
	eventAuthority = types.PubkeyFromBase58("GS4CU59F31iL7aR2Q8zVS8DRrcRnXX1yjQ66TqNVQnaR")
)

type strategy struct{}

// RegisterStrategies 注册 PumpSwap AMM 协议的克隆策略。
func RegisterStrategies(m map[types.Pubkey]protocol.Strategy) {
	m[consts.PumpFunAMMProgram] = &strategy{}
}

func (s *strategy) Platform() uint8 {
	return consts.PlatformPumpFunAMM
}

func (s *strategy) ReadOnlyAccounts() map[types.Pubkey]struct{} {
	return protocol.MergeReadOnly(map[types.Pubkey]struct{}{
		globalConfig:             {},
		eventAuthority:           {},
		consts.PumpFunAMMProgram: {},
	})
}

// OwnerDerivedAccounts 重推导用户侧 volume accumulator PDA（种子含 user 身份）。
func (s *strategy) OwnerDerivedAccounts(master, follower types.Pubkey, core *domain.CoreInstructionDescriptor) (map[types.Pubkey]types.Pubkey, error) {
	masterAcc, err := userVolumeAccumulator(master)
	if err != nil {
		return nil, err
	}

	present := false
	for _, meta := range core.Accounts {
		if meta.Pubkey == masterAcc {
			present = true
			break
		}
	}
	if !present {
		return nil, nil
	}

	followerAcc, err := userVolumeAccumulator(follower)
	if err != nil {
		return nil, err
	}
	return map[types.Pubkey]types.Pubkey{masterAcc: followerAcc}, nil
}

func userVolumeAccumulator(user types.Pubkey) (types.Pubkey, error) {
	return protocol.DeriveProgramAddress(
		[][]byte{[]byte("user_volume_accumulator"), user[:]},
		consts.PumpFunAMMProgram,
	)
}

// RebuildData 按 Tier-1 全新编码。参数布局：
//   - buy:  base_amount_out u64, max_quote_amount_in u64
//   - sell: base_amount_in u64, min_quote_amount_out u64
func (s *strategy) RebuildData(src []byte, p *protocol.TradeParams) ([]byte, error) {
	if len(src) < 8 {
		return nil, protocol.ErrUnsupportedInstruction
	}

	disc := src[:8]
	switch binary.BigEndian.Uint64(disc) {
	case Buy:
		if p.SpendLamports == 0 {
			return nil, fmt.Errorf("pumpswap buy: zero spend amount")
		}
		return protocol.EmitTier1(disc,
			p.ExpectedOutput(p.SpendLamports),                       // base_amount_out
			protocol.ApplySlippageUp(p.SpendLamports, p.SlippageBps), // max_quote_amount_in
		), nil

	case Sell:
		if p.SellAmountRaw == 0 {
			return nil, fmt.Errorf("pumpswap sell: zero position amount")
		}
		return protocol.EmitTier1(disc,
			p.SellAmountRaw, // base_amount_in
			protocol.ApplySlippageDown(p.ExpectedOutput(p.SellAmountRaw), p.SlippageBps), // min_quote_amount_out
		), nil
	}

	return nil, protocol.ErrUnsupportedInstruction
}
