package pumpfun

import (
	"encoding/binary"
	"fmt"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"

	"github.com/near/borsh-go"
)

// Pump.fun 指令方法 ID（data 前 8 字节，大端比对）。
const (
	Buy  uint64 = 0x66063d1201daebea
	Sell uint64 = 0x33e685a4017f83ad
)

// 协议固定账户。
var (
	globalConfig   = types.PubkeyFromBase58("4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf")
	eventAuthority = types.PubkeyFromBase58("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")
)

// buyArgs / sellArgs 表示 Pump.fun swap 指令的参数布局（borsh，跟在 8 字节方法 ID 之后）。
type buyArgs struct {
	TokenAmount uint64 // 预期买入 token 数量
	MaxSolCost  uint64 // SOL 成本上界（含滑点）
}

type sellArgs struct {
	TokenAmount  uint64 // 卖出 token 数量（全量）
	MinSolOutput uint64 // SOL 所得下界（含滑点）
}

type strategy struct{}

// RegisterStrategies 注册 Pump.fun bonding curve 协议的克隆策略。
func RegisterStrategies(m map[types.Pubkey]protocol.Strategy) {
	m[consts.PumpFunProgram] = &strategy{}
}

func (s *strategy) Platform() uint8 {
	return consts.PlatformPumpFun
}

func (s *strategy) ReadOnlyAccounts() map[types.Pubkey]struct{} {
	return protocol.MergeReadOnly(map[types.Pubkey]struct{}{
		globalConfig:          {},
		eventAuthority:        {},
		consts.PumpFunProgram: {},
	})
}

// OwnerDerivedAccounts 重推导按用户身份派生的 volume accumulator PDA。
// 该账户的派生种子含 user 地址，纯地址替换覆盖不到，必须按 follower 身份重推。
// creator-vault 等按 token 创建者派生的 PDA 与发起者身份无关，原样保留。
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
		// 旧版布局没有 volume accumulator 槽位
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
		consts.PumpFunProgram,
	)
}

// RebuildData 按 Tier-1 全新编码指令数据：丢弃主账户的参数，写入跟单者自己的量与滑点界。
func (s *strategy) RebuildData(src []byte, p *protocol.TradeParams) ([]byte, error) {
	if len(src) < 8 {
		return nil, protocol.ErrUnsupportedInstruction
	}

	disc := src[:8]
	switch binary.BigEndian.Uint64(disc) {
	case Buy:
		if p.SpendLamports == 0 {
			return nil, fmt.Errorf("pumpfun buy: zero spend amount")
		}
		// 预期 token 量按主账户成交价比例推算；上界按滑点放宽
		args := buyArgs{
			TokenAmount: p.ExpectedOutput(p.SpendLamports),
			MaxSolCost:  protocol.ApplySlippageUp(p.SpendLamports, p.SlippageBps),
		}
		return appendBorsh(disc, args)

	case Sell:
		if p.SellAmountRaw == 0 {
			return nil, fmt.Errorf("pumpfun sell: zero position amount")
		}
		args := sellArgs{
			TokenAmount:  p.SellAmountRaw,
			MinSolOutput: protocol.ApplySlippageDown(p.ExpectedOutput(p.SellAmountRaw), p.SlippageBps),
		}
		return appendBorsh(disc, args)
	}

	return nil, protocol.ErrUnsupportedInstruction
}

func appendBorsh(disc []byte, args any) ([]byte, error) {
	body, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("borsh serialize: %w", err)
	}
	out := make([]byte, 0, len(disc)+len(body))
	out = append(out, disc...)
	out = append(out, body...)
	return out, nil
}
