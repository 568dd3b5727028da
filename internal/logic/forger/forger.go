package forger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/pkg/logger"
)

// ForgeError 表示克隆失败。对单次跟单尝试是终态，不重试。
type ForgeError struct {
	Stage string // map / accounts / pda / data / companion
	Err   error
}

func (e *ForgeError) Error() string {
	return fmt.Sprintf("forge failed at %s: %v", e.Stage, e.Err)
}

func (e *ForgeError) Unwrap() error {
	return e.Err
}

func forgeFail(stage string, err error) error {
	return &ForgeError{Stage: stage, Err: err}
}

// IsForgeError 判断 err 是否为克隆失败。
func IsForgeError(err error) bool {
	var fe *ForgeError
	return errors.As(err, &fe)
}

// ClonedInstruction 表示一条可提交的克隆指令。
type ClonedInstruction struct {
	ProgramID types.Pubkey
	Accounts  []domain.AccountMeta
	Data      []byte
}

// ClonedInstructionSet 表示为某个跟单者组装完成的指令序列：
// 伴随指令 + 改写后的核心指令，保持主交易的原始相对顺序。
type ClonedInstructionSet struct {
	Instructions []*ClonedInstruction
	CoreIndex    int // 核心指令在序列中的位置
}

// Forger 负责把 TradeIntent 改写成某个跟单者可提交的指令集。
type Forger struct{}

func NewForger() *Forger {
	return &Forger{}
}

// BuildForFollower 为单个跟单者克隆交易指令：
//
//	A. 构建地址替换表（钱包、各 mint 的 token 账户）
//	B. 账户替换 + 角色修正（强制只读集 / 跟单者签名可写 / 保留程序侧签名位）
//	C. owner 派生账户（PDA）按跟单者身份重推导
//	D. 指令数据按协议分层重建（Tier 1/2/3）
//	E. 伴随指令（建 ATA、wrap SOL 等）按原始顺序一并克隆
func (f *Forger) BuildForFollower(intent *domain.TradeIntent, follower types.Pubkey, params *protocol.TradeParams) (*ClonedInstructionSet, error) {
	strat := lookupStrategy(intent.CloningTarget.ProgramID)

	// Step A
	fm, err := buildForgingMap(intent, follower)
	if err != nil {
		return nil, forgeFail("map", err)
	}

	// Step C 的映射提前算好，Step B 替换时一次走完
	pdaOverrides := map[types.Pubkey]types.Pubkey{}
	if strat != nil {
		pdaOverrides, err = strat.OwnerDerivedAccounts(intent.Master, follower, intent.CloningTarget)
		if err != nil {
			return nil, forgeFail("pda", err)
		}
	}

	readOnly := protocol.BaseReadOnlyAccounts()
	if strat != nil {
		readOnly = strat.ReadOnlyAccounts()
	}

	// Step B + C：核心指令账户改写
	core := intent.CloningTarget.Clone()
	substituteAccounts(core.Accounts, fm, pdaOverrides, readOnly, follower)

	// Step D：指令数据重建
	data, err := rebuildCoreData(strat, core.Data, params)
	if err != nil {
		return nil, forgeFail("data", err)
	}
	core.Data = data

	// Step E：伴随指令克隆
	set, err := cloneCompanions(intent, core, fm, pdaOverrides, readOnly, follower, params)
	if err != nil {
		return nil, forgeFail("companion", err)
	}

	logger.Debugf("[Forger] 克隆完成: tx=%s follower=%s instrs=%d mapLen=%d",
		intent.Signature, follower, len(set.Instructions), fm.Len())
	return set, nil
}

// substituteAccounts 原地替换账户并修正角色标记。三条规则按序生效：
//  1. 命中协议强制只读集的账户一律只读（源标记不可信）；
//  2. 跟单者钱包强制 signer + writable；
//  3. 其余账户的 signer 位只保留不清除（程序派生签名者是结构依赖）。
func substituteAccounts(
	accounts []domain.AccountMeta,
	fm *ForgingMap,
	pdaOverrides map[types.Pubkey]types.Pubkey,
	readOnly map[types.Pubkey]struct{},
	follower types.Pubkey,
) {
	for i := range accounts {
		addr := fm.Resolve(accounts[i].Pubkey)
		if to, ok := pdaOverrides[addr]; ok {
			addr = to
		} else if to, ok := pdaOverrides[accounts[i].Pubkey]; ok {
			addr = to
		}
		accounts[i].Pubkey = addr

		if _, ok := readOnly[addr]; ok {
			accounts[i].IsWritable = false
			continue
		}
		if addr == follower {
			accounts[i].IsSigner = true
			accounts[i].IsWritable = true
		}
	}
}

// rebuildCoreData 重建核心指令数据。已注册协议走策略分层；
// 未注册协议（通用启发式识别出的）走 Tier-3 扫描。
func rebuildCoreData(strat protocol.Strategy, src []byte, params *protocol.TradeParams) ([]byte, error) {
	if strat != nil {
		out, err := strat.RebuildData(src, params)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, protocol.ErrUnsupportedInstruction) {
			return nil, err
		}
		// 已知协议但方法 ID 未建模：降级到启发式，不直接放弃
	}

	amount := params.SpendLamports
	if params.TradeType == domain.TradeSell {
		amount = params.SellAmountRaw
	}
	if amount == 0 {
		return nil, fmt.Errorf("heuristic rebuild: zero follower amount")
	}
	out, patched := protocol.ScanAndPatchAmount(src, amount)
	if !patched {
		logger.Warnf("[Forger] 启发式未定位到金额字段，数据原样放行 (len=%d)", len(src))
	}
	return out, nil
}

// cloneCompanions 克隆主交易中核心指令之外的主指令（建 ATA、wrap SOL 等 setup），
// 按原始顺序排列，核心指令落在它原本的相对位置上。
// ComputeBudget 指令跳过：预算由编排层按实际消耗重新推导。
func cloneCompanions(
	intent *domain.TradeIntent,
	core *domain.CoreInstructionDescriptor,
	fm *ForgingMap,
	pdaOverrides map[types.Pubkey]types.Pubkey,
	readOnly map[types.Pubkey]struct{},
	follower types.Pubkey,
	params *protocol.TradeParams,
) (*ClonedInstructionSet, error) {
	coreIx := intent.Tx.Instructions[core.SourceIndex]

	// wrap SOL 注资转账的判定基准：跟单者的 WSOL 关联账户
	wrapTarget, err := protocol.DeriveAssociatedTokenAccount(follower, consts.WSOLMint)
	if err != nil {
		return nil, fmt.Errorf("derive wsol account: %w", err)
	}

	set := &ClonedInstructionSet{
		Instructions: make([]*ClonedInstruction, 0, 4),
		CoreIndex:    -1,
	}

	for i, ix := range intent.Tx.Instructions {
		if !ix.IsTopLevel() {
			continue // inner 指令由链上程序自行展开，不克隆
		}
		if ix.ProgramID == consts.ComputeBudgetProgram {
			continue
		}

		if i == core.SourceIndex || ix.IxIndex == coreIx.IxIndex {
			// 核心指令落位（核心可能是 inner，这里以它所属主指令的位置为准）
			if set.CoreIndex >= 0 {
				continue
			}
			set.CoreIndex = len(set.Instructions)
			set.Instructions = append(set.Instructions, &ClonedInstruction{
				ProgramID: core.ProgramID,
				Accounts:  core.Accounts,
				Data:      core.Data,
			})
			continue
		}

		accounts := make([]domain.AccountMeta, len(ix.Accounts))
		copy(accounts, ix.Accounts)
		substituteAccounts(accounts, fm, pdaOverrides, readOnly, follower)

		set.Instructions = append(set.Instructions, &ClonedInstruction{
			ProgramID: ix.ProgramID,
			Accounts:  accounts,
			Data:      companionData(ix, fm, wrapTarget, params),
		})
	}

	if set.CoreIndex < 0 {
		return nil, fmt.Errorf("core instruction not placed (sourceIndex=%d)", core.SourceIndex)
	}
	return set, nil
}

// companionData 处理伴随指令的数据：
// 只有给 WSOL 账户注资的 System transfer（wrap SOL 步骤）的 lamports 改成跟单者
// 自己的预算；小费、第三方打款等其他转账逐字节保留。
func companionData(ix *domain.AdaptedInstruction, fm *ForgingMap, wrapTarget types.Pubkey, params *protocol.TradeParams) []byte {
	data := make([]byte, len(ix.Data))
	copy(data, ix.Data)

	// System Program transfer: u32 tag=2 + u64 lamports，账户布局 [from, to]
	if ix.ProgramID == consts.SystemProgram && len(data) == 12 &&
		binary.LittleEndian.Uint32(data[:4]) == 2 && params.SpendLamports > 0 &&
		len(ix.Accounts) >= 2 && fm.Resolve(ix.Accounts[1].Pubkey) == wrapTarget {
		binary.LittleEndian.PutUint64(data[4:12], params.SpendLamports)
	}
	return data
}
