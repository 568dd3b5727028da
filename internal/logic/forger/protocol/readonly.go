package protocol

import (
	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/types"
)

// BaseReadOnlyAccounts 返回所有协议共享的强制只读集合：
// 各类 Program 与 Sysvar 账户被标成 writable 一定是复制错误。
func BaseReadOnlyAccounts() map[types.Pubkey]struct{} {
	return map[types.Pubkey]struct{}{
		consts.SystemProgram:          {},
		consts.TokenProgram:           {},
		consts.TokenProgram2022:       {},
		consts.AssociatedTokenProgram: {},
		consts.ComputeBudgetProgram:   {},
		consts.SysvarRent:             {},
		consts.SysvarClock:            {},
	}
}

// MergeReadOnly 合并基础只读集与协议自有只读集。
func MergeReadOnly(extra map[types.Pubkey]struct{}) map[types.Pubkey]struct{} {
	m := BaseReadOnlyAccounts()
	for k := range extra {
		m[k] = struct{}{}
	}
	return m
}
