package forger

import (
	"fmt"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"
)

// ForgingMap 表示一次克隆中使用的地址替换表：主账户地址 → 跟单者等价地址。
// 按 (TradeIntent, follower) 构建，严禁跨跟单者复用。
type ForgingMap struct {
	subs map[types.Pubkey]types.Pubkey
}

// Resolve 返回地址的替换结果；未映射的地址原样返回（全局配置、池子账户等共享账户）。
func (m *ForgingMap) Resolve(addr types.Pubkey) types.Pubkey {
	if to, ok := m.subs[addr]; ok {
		return to
	}
	return addr
}

// Len 返回映射条目数。
func (m *ForgingMap) Len() int {
	return len(m.subs)
}

// buildForgingMap 构建地址替换表：
//  1. 主钱包 → 跟单者钱包；
//  2. 每个涉及的非原生 mint：主账户的关联 token 账户 → 跟单者的关联 token 账户
//     （同一确定性推导规则，仅 owner 不同）；
//  3. 主账户在本交易中实际使用的 token 账户（临时 WSOL 账户等非 ATA 形态）
//     也归并映射到跟单者对应 mint 的 ATA。
func buildForgingMap(intent *domain.TradeIntent, follower types.Pubkey) (*ForgingMap, error) {
	subs := make(map[types.Pubkey]types.Pubkey, 8)
	subs[intent.Master] = follower

	mints := make([]types.Pubkey, 0, 3)
	for _, mint := range []types.Pubkey{intent.InputMint, intent.OutputMint} {
		if mint == consts.NativeSOLMint {
			// 原生 SOL 侧如果走 wrap 流程，交易里会出现 WSOL token 账户，按 WSOL 处理
			mint = consts.WSOLMint
		}
		mints = append(mints, mint)
	}

	for _, mint := range mints {
		masterATA, err := protocol.DeriveAssociatedTokenAccount(intent.Master, mint)
		if err != nil {
			return nil, fmt.Errorf("forging map: %w", err)
		}
		followerATA, err := protocol.DeriveAssociatedTokenAccount(follower, mint)
		if err != nil {
			return nil, fmt.Errorf("forging map: %w", err)
		}
		subs[masterATA] = followerATA

		// 主账户实际使用的 token 账户可能不是 ATA（临时账户），一并指向跟单者 ATA
		if actual, ok := intent.Tx.OwnedTokenAccount(intent.Master, mint); ok && actual != masterATA {
			subs[actual] = followerATA
		}
	}

	return &ForgingMap{subs: subs}, nil
}
