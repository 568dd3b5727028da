package detective

import (
	"runtime/debug"
	"sync"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/pkg/logger"
)

// Analyzer 负责从任意主账户交易中识别出"真正的那一笔交易"。
// 同一签名的分析结果（包括否定结论）按进程生命周期记忆，最多派生一次。
type Analyzer struct {
	platforms map[types.Pubkey]uint8 // 已知交易协议 Program → Platform 标识

	// minTradeLamports 表示跟单的最小成交额（按 SOL 侧计），低于该值的交易不值得复制。
	minTradeLamports uint64

	mu   sync.Mutex
	memo map[types.Signature]*memoEntry
}

type memoEntry struct {
	intent *domain.TradeIntent
	err    error
}

// NewAnalyzer 创建识别器。platforms 为空时使用默认的已知协议表。
func NewAnalyzer(minTradeLamports uint64) *Analyzer {
	return &Analyzer{
		platforms:        defaultPlatforms(),
		minTradeLamports: minTradeLamports,
		memo:             make(map[types.Signature]*memoEntry),
	}
}

// defaultPlatforms 返回默认的已知交易协议表。
func defaultPlatforms() map[types.Pubkey]uint8 {
	return map[types.Pubkey]uint8{
		consts.RaydiumV4Program:     consts.PlatformRaydiumV4,
		consts.RaydiumCLMMProgram:   consts.PlatformRaydiumCLMM,
		consts.RaydiumCPMMProgram:   consts.PlatformRaydiumCPMM,
		consts.PumpFunProgram:       consts.PlatformPumpFun,
		consts.PumpFunAMMProgram:    consts.PlatformPumpFunAMM,
		consts.MeteoraDLMMProgram:   consts.PlatformMeteoraDLMM,
		consts.OrcaWhirlpoolProgram: consts.PlatformOrcaWhirlpool,
		consts.JupiterV6Program:     consts.PlatformJupiter,
		consts.JupiterV4Program:     consts.PlatformJupiter,
	}
}

// Analyze 识别主交易中的交易意图。
// 返回 TradeIntent 或带原因的 *RejectError；两种结果都会被记忆，
// 同一签名在进程生命周期内不会重复分析。
func (a *Analyzer) Analyze(tx *domain.MasterTransaction, master types.Pubkey) (intent *domain.TradeIntent, err error) {
	a.mu.Lock()
	if entry, ok := a.memo[tx.Signature]; ok {
		a.mu.Unlock()
		return entry.intent, entry.err
	}
	a.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Detective] panic tx=%s: %+v\nstack: %s", tx.Signature, r, debug.Stack())
			intent, err = nil, reject(RejectMissingMeta, "panic during analysis")
		}
		a.mu.Lock()
		a.memo[tx.Signature] = &memoEntry{intent: intent, err: err}
		a.mu.Unlock()
	}()

	intent, err = a.analyze(tx, master)
	return intent, err
}

func (a *Analyzer) analyze(tx *domain.MasterTransaction, master types.Pubkey) (*domain.TradeIntent, error) {
	if tx.Failed {
		return nil, reject(RejectTxFailed, "tx=%s", tx.Signature)
	}
	if len(tx.Instructions) == 0 || (tx.SolBalances == nil && tx.TokenBalances == nil) {
		return nil, reject(RejectMissingMeta, "tx=%s", tx.Signature)
	}
	if !tx.IsSigner(master) {
		return nil, reject(RejectMasterNotSigner, "master=%s tx=%s", master, tx.Signature)
	}

	// 1. 选出核心交易指令
	core, coreIdx := a.pickCoreInstruction(tx, master)
	if core == nil {
		return nil, reject(RejectNoCoreInstruction, "tx=%s", tx.Signature)
	}

	// 2. 从余额变化推导方向与两侧 mint
	sides, err := deriveTradeSides(tx, master)
	if err != nil {
		return nil, err
	}

	// 3. 成交额阈值：SOL 侧成交额低于阈值的交易不跟
	if solSide := sides.solSideAmount(); solSide > 0 && solSide < a.minTradeLamports {
		return nil, reject(RejectTradeTooSmall, "sol_side=%d min=%d tx=%s", solSide, a.minTradeLamports, tx.Signature)
	}

	platform := a.platforms[core.ProgramID]
	if platform == 0 {
		platform = consts.PlatformGeneric
	}

	accounts := make([]domain.AccountMeta, len(core.Accounts))
	copy(accounts, core.Accounts)
	data := make([]byte, len(core.Data))
	copy(data, core.Data)

	intent := &domain.TradeIntent{
		Master:          master,
		Signature:       tx.Signature,
		TradeType:       sides.tradeType,
		InputMint:       sides.inputMint,
		OutputMint:      sides.outputMint,
		Platform:        platform,
		InputAmountRaw:  sides.inputAmountRaw,
		OutputAmountRaw: sides.outputAmountRaw,
		CloningTarget: &domain.CoreInstructionDescriptor{
			ProgramID:   core.ProgramID,
			Accounts:    accounts,
			Data:        data,
			SourceIndex: coreIdx,
		},
		Tx: tx,
	}

	logger.Infof("[Detective] 识别成功: tx=%s type=%s platform=%s input=%s output=%s coreIdx=%d",
		tx.Signature, intent.TradeType, consts.PlatformName(int(platform)),
		intent.InputMint, intent.OutputMint, coreIdx)
	return intent, nil
}

// solSideAmount 返回交易中 SOL 一侧的成交量；两侧均非 SOL 时返回 0（不做阈值判断）。
func (s *tradeSides) solSideAmount() uint64 {
	if s.inputMint == consts.NativeSOLMint {
		return s.inputAmountRaw
	}
	if s.outputMint == consts.NativeSOLMint {
		return s.outputAmountRaw
	}
	return 0
}
