package detective

import (
	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"
)

// tradeSides 表示从余额变化推导出的方向与两侧成交信息。
type tradeSides struct {
	tradeType       domain.TradeType
	inputMint       types.Pubkey
	outputMint      types.Pubkey
	inputAmountRaw  uint64
	outputAmountRaw uint64
}

// deriveTradeSides 从发起者的余额变化推导方向与两侧 mint。
// 指令格式千差万别，静态字段不可信，post-pre 余额差才是事实：
//   - 原生 SOL 减少 + 某 token 增加 → buy
//   - 某 token 减少 + 原生 SOL 增加 → sell
//   - 两侧都是非原生 token → token-to-token，按 quote 优先级判定方向
//
// WSOL 与原生 SOL 等价处理（TokenDeltasByOwner 已归并）。
func deriveTradeSides(tx *domain.MasterTransaction, master types.Pubkey) (*tradeSides, error) {
	deltas := tx.TokenDeltasByOwner(master)

	// 原生 SOL 变化：token 归并结果优先（捕获临时 WSOL 账户），否则退回钱包 lamports 差
	solDelta, hasSolSlot := deltas[consts.NativeSOLMint]
	if !hasSolSlot {
		solDelta = tx.SolDelta(master)
	}
	delete(deltas, consts.NativeSOLMint)

	// 收集非原生 mint 的净变化（为 0 的忽略）
	var upMint, downMint types.Pubkey
	var upAmt, downAmt uint64
	upCount, downCount := 0, 0
	for mint, d := range deltas {
		switch {
		case d > 0:
			upMint, upAmt = mint, uint64(d)
			upCount++
		case d < 0:
			downMint, downAmt = mint, uint64(-d)
			downCount++
		}
	}

	switch {
	case upCount == 1 && downCount == 0 && solDelta < 0:
		// 买入：SOL 支出换取 token
		return &tradeSides{
			tradeType:       domain.TradeBuy,
			inputMint:       consts.NativeSOLMint,
			outputMint:      upMint,
			inputAmountRaw:  uint64(-solDelta),
			outputAmountRaw: upAmt,
		}, nil

	case downCount == 1 && upCount == 0 && solDelta > 0:
		// 卖出：token 换回 SOL
		return &tradeSides{
			tradeType:       domain.TradeSell,
			inputMint:       downMint,
			outputMint:      consts.NativeSOLMint,
			inputAmountRaw:  downAmt,
			outputAmountRaw: uint64(solDelta),
		}, nil

	case upCount == 1 && downCount == 1:
		// token-to-token：支付侧是 quote（USDC/USDT）视为买入，获得侧是 quote 视为卖出；
		// 两侧都是 quote 的稳定币互换不构成可跟的交易
		if isQuoteMint(downMint) && isQuoteMint(upMint) {
			return nil, reject(RejectMintUnchanged, "quote-to-quote swap: %s -> %s", downMint, upMint)
		}
		tt := domain.TradeSell
		if isQuoteMint(downMint) {
			tt = domain.TradeBuy
		}
		return &tradeSides{
			tradeType:       tt,
			inputMint:       downMint,
			outputMint:      upMint,
			inputAmountRaw:  downAmt,
			outputAmountRaw: upAmt,
		}, nil
	}

	return nil, reject(RejectMintUnchanged,
		"no usable balance delta: up=%d down=%d solDelta=%d", upCount, downCount, solDelta)
}

// isQuoteMint 判断 mint 是否为稳定计价币。
func isQuoteMint(mint types.Pubkey) bool {
	return mint == consts.USDCMint || mint == consts.USDTMint
}
