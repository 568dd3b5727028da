package domain

import (
	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/types"
)

// AccountMeta 表示指令账户及其角色标记。
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// AdaptedInstruction 表示一条主指令或 inner 指令，来源于交易的 message.instructions 或 innerInstructions。
// 所有指令在预处理阶段已展平，并补充了位置信息（IxIndex、InnerIndex），以支持顺序遍历与定位。
type AdaptedInstruction struct {
	IxIndex    uint16        // 主指令索引（从 0 开始）
	InnerIndex uint16        // Inner 指令在主指令中的序号，主指令本身为 0，CPI 调用从 1 开始
	ProgramID  types.Pubkey  // 指令对应的程序 ID
	Accounts   []AccountMeta // 指令涉及的账户列表（含签名/可写标记），保持原始顺序
	Data       []byte        // 指令原始数据
}

// IsTopLevel 判断是否为主指令（非 CPI 展开）。
func (ix *AdaptedInstruction) IsTopLevel() bool {
	return ix.InnerIndex == 0
}

// HasWritableSigner 判断指定地址是否以可写签名者身份出现在账户列表中。
func (ix *AdaptedInstruction) HasWritableSigner(addr types.Pubkey) bool {
	for _, meta := range ix.Accounts {
		if meta.Pubkey == addr && meta.IsSigner && meta.IsWritable {
			return true
		}
	}
	return false
}

// SolBalance 记录某账户在交易中 SOL 余额的变动快照（含执行前后余额）。
type SolBalance struct {
	Account     types.Pubkey
	PreBalance  uint64 // 交易执行前余额（lamports）
	PostBalance uint64 // 交易执行后余额
}

// TokenBalance 表示某个 SPL Token 账户在交易执行前后的余额信息。
type TokenBalance struct {
	TokenAccount types.Pubkey
	Mint         types.Pubkey
	Owner        types.Pubkey
	Decimals     uint8
	PreBalance   uint64 // 交易执行前余额（最小单位）
	PostBalance  uint64 // 交易执行后余额
}

// MasterTransaction 表示已解析的主账户链上交易，是识别与克隆流程的核心输入结构体。
// 取链上即用，核心流程不做持久化。
type MasterTransaction struct {
	Signature types.Signature
	Slot      uint64
	BlockTime int64      // 区块时间戳（Unix 秒）
	Blockhash types.Hash // 交易引用的 recent blockhash

	Failed bool // 交易在链上是否执行失败

	// ComputeUnitsConsumed 表示交易实际消耗的计算单元；0 表示节点未返回。
	ComputeUnitsConsumed uint64

	// Signers 表示交易的签名者列表（accountKeys 前 numRequiredSignatures 项）。
	Signers []types.Pubkey

	// AccountKeys 表示完整账户表：静态部分 + lookup table 的 writable / readonly 部分，顺序拼接。
	AccountKeys []types.Pubkey

	// Instructions 表示交易中的所有指令（包括主指令和 inner 指令），已按执行顺序展平。
	Instructions []*AdaptedInstruction

	// LookupTables 表示交易引用的 address lookup table 地址列表。
	LookupTables []types.Pubkey

	// LogMessages 表示交易执行过程中产生的 Program 日志。
	LogMessages []string

	// SolBalances 记录交易中涉及账户的 SOL 余额快照（交易前后余额）。
	SolBalances map[types.Pubkey]*SolBalance

	// TokenBalances 记录交易中涉及的 SPL Token 账户余额快照，key 为 token account。
	TokenBalances map[types.Pubkey]*TokenBalance
}

// IsSigner 判断地址是否为本交易的签名者。
func (tx *MasterTransaction) IsSigner(addr types.Pubkey) bool {
	for _, s := range tx.Signers {
		if s == addr {
			return true
		}
	}
	return false
}

// SolDelta 返回指定账户的 SOL 余额变化（post - pre），不存在时返回 0。
func (tx *MasterTransaction) SolDelta(addr types.Pubkey) int64 {
	b, ok := tx.SolBalances[addr]
	if !ok {
		return 0
	}
	return int64(b.PostBalance) - int64(b.PreBalance)
}

// TokenDeltasByOwner 按 mint 聚合某 owner 名下所有 token account 的余额变化（post - pre）。
// WSOL 与原生 SOL 等价，统一归并到 NativeSOLMint 槽位。
func (tx *MasterTransaction) TokenDeltasByOwner(owner types.Pubkey) map[types.Pubkey]int64 {
	deltas := make(map[types.Pubkey]int64, 4)
	for _, tb := range tx.TokenBalances {
		if tb.Owner != owner {
			continue
		}
		mint := tb.Mint
		if consts.IsWrappedOrNativeSOL(mint) {
			mint = consts.NativeSOLMint
		}
		deltas[mint] += int64(tb.PostBalance) - int64(tb.PreBalance)
	}
	return deltas
}

// OwnedTokenAccount 返回 owner 名下持有指定 mint 的 token account（若本交易涉及）。
func (tx *MasterTransaction) OwnedTokenAccount(owner, mint types.Pubkey) (types.Pubkey, bool) {
	for _, tb := range tx.TokenBalances {
		if tb.Owner == owner && tb.Mint == mint {
			return tb.TokenAccount, true
		}
	}
	return types.Pubkey{}, false
}
