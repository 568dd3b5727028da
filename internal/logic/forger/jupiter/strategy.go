package jupiter

import (
	"fmt"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"
)

// Jupiter 路由指令携带嵌套的 route plan，完整布局随路由形态变化，不做建模。
// 按 Tier-3 启发式处理：在常见偏移上定位量级合理的金额字段并覆写，
// 找不到可信字段时原样放行（路由参数对账户金额的约束最终由链上程序校验）。
type strategy struct{}

// RegisterStrategies 注册 Jupiter 聚合器路由的克隆策略。
func RegisterStrategies(m map[types.Pubkey]protocol.Strategy) {
	m[consts.JupiterV6Program] = &strategy{}
	m[consts.JupiterV4Program] = &strategy{}
}

func (s *strategy) Platform() uint8 {
	return consts.PlatformJupiter
}

func (s *strategy) ReadOnlyAccounts() map[types.Pubkey]struct{} {
	return protocol.MergeReadOnly(map[types.Pubkey]struct{}{
		consts.JupiterV6Program: {},
		consts.JupiterV4Program: {},
	})
}

func (s *strategy) OwnerDerivedAccounts(master, follower types.Pubkey, core *domain.CoreInstructionDescriptor) (map[types.Pubkey]types.Pubkey, error) {
	return nil, nil
}

// RebuildData 按 Tier-3 启发式覆写金额字段。
func (s *strategy) RebuildData(src []byte, p *protocol.TradeParams) ([]byte, error) {
	amountIn, err := followerAmountIn(p)
	if err != nil {
		return nil, err
	}
	out, _ := protocol.ScanAndPatchAmount(src, amountIn)
	return out, nil
}

func followerAmountIn(p *protocol.TradeParams) (uint64, error) {
	switch p.TradeType {
	case domain.TradeBuy:
		if p.SpendLamports == 0 {
			return 0, fmt.Errorf("jupiter: zero spend amount")
		}
		return p.SpendLamports, nil
	case domain.TradeSell:
		if p.SellAmountRaw == 0 {
			return 0, fmt.Errorf("jupiter: zero position amount")
		}
		return p.SellAmountRaw, nil
	}
	return 0, fmt.Errorf("jupiter: unknown trade type %d", p.TradeType)
}
