package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/gateway"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/notifier"
	"copy-trader-sol/internal/store"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/pkg/logger"
)

// attemptState 表示单次跟单尝试的推进阶段。
type attemptState int

const (
	stateDetected attemptState = iota
	stateGated
	stateForged
	stateSubmitted
	stateConfirmed
	stateFailed
)

func (s attemptState) String() string {
	switch s {
	case stateDetected:
		return "DETECTED"
	case stateGated:
		return "GATED"
	case stateForged:
		return "FORGED"
	case stateSubmitted:
		return "SUBMITTED"
	case stateConfirmed:
		return "CONFIRMED"
	case stateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// errSkipped 表示本次尝试被门禁跳过（非失败，不记失败记忆、不发通知）。
var errSkipped = errors.New("attempt skipped by gate")

// attempt 承载单个跟单者针对单个 TradeIntent 的一次完整执行。
type attempt struct {
	o        *Orchestrator
	intent   *domain.TradeIntent
	follower *domain.Follower
	state    attemptState

	// 门禁阶段产出
	spendLamports uint64
	sellAmountRaw uint64
	position      *domain.Position
}

// run 推进状态机：门禁 → 克隆 → 提交 → 确认 → 记账与通知。
// 卖出失败走聚合器兜底；买入失败即终态。
func (a *attempt) run(ctx context.Context) error {
	followerID := a.follower.ID
	sig := a.intent.Signature

	if !a.o.locks.Acquire(followerID) {
		logger.Infof("[Orchestrator] 跟单者 %d 忙碌，跳过 tx=%s", followerID, sig)
		return nil
	}
	defer a.o.locks.Release(followerID)

	_, epoch := a.o.blockhash.Current()
	if a.o.failures.Seen(epoch, followerID, sig) {
		logger.Infof("[Orchestrator] 跟单者 %d 本纪元已失败，跳过 tx=%s", followerID, sig)
		return nil
	}

	err := a.execute(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, errSkipped) {
		return nil
	}

	a.state = stateFailed
	a.o.failures.Remember(epoch, followerID, sig)

	// 卖出失败兜底：换聚合器路由再试一次
	if a.intent.TradeType == domain.TradeSell {
		if fbErr := a.fallbackSell(ctx); fbErr == nil {
			return nil
		} else {
			logger.Errorf("[Orchestrator] 兜底卖出失败 follower=%d tx=%s: %v", followerID, sig, fbErr)
			err = fmt.Errorf("direct sell failed (%w); fallback failed: %v", err, fbErr)
		}
	}

	a.notify(ctx, false, types.Signature{}, false, err.Error())
	return err
}

func (a *attempt) execute(ctx context.Context) error {
	if err := a.gate(ctx); err != nil {
		return err
	}
	a.state = stateGated

	instrSet, params, err := a.forge()
	if err != nil {
		return err
	}
	a.state = stateForged

	sig, err := a.submit(ctx, instrSet)
	if err != nil {
		return err
	}
	a.state = stateSubmitted

	if err := a.o.gw.AwaitConfirmation(ctx, sig, a.o.confirmTimeout); err != nil {
		return fmt.Errorf("confirm %s: %w", sig, err)
	}
	a.state = stateConfirmed

	if err := a.settle(ctx, params); err != nil {
		// 确认成功但记账失败：交易已上链，只记日志并照常通知
		logger.Errorf("[Orchestrator] 记账失败 follower=%d tx=%s: %v", a.follower.ID, sig, err)
	}
	a.notify(ctx, true, sig, false, "")
	return nil
}

// gate 执行方向相关的门禁检查并确定跟单数量。
func (a *attempt) gate(ctx context.Context) error {
	switch a.intent.TradeType {
	case domain.TradeBuy:
		// 已持有该 mint 的活跃仓位时不重复建仓
		pos, err := a.o.store.GetPosition(ctx, a.follower.ID, a.intent.OutputMint)
		if err != nil && !errors.Is(err, store.ErrPositionNotFound) {
			return fmt.Errorf("gate: read position: %w", err)
		}
		if pos != nil && pos.Active {
			logger.Infof("[Orchestrator] 跟单者 %d 已持有 %s，跳过买入", a.follower.ID, a.intent.OutputMint)
			return errSkipped
		}
		if a.follower.Settings.BuyAmountLamports == 0 {
			logger.Warnf("[Orchestrator] 跟单者 %d 未配置买入预算，跳过", a.follower.ID)
			return errSkipped
		}
		a.spendLamports = a.follower.Settings.BuyAmountLamports
		return nil

	case domain.TradeSell:
		// 全量卖出：台账数量为准；无台账记录或记录为 0 时回退链上余额，仍为 0 才放弃
		pos, err := a.o.store.GetPosition(ctx, a.follower.ID, a.intent.InputMint)
		if err != nil && !errors.Is(err, store.ErrPositionNotFound) {
			return fmt.Errorf("gate: read position: %w", err)
		}
		if pos != nil && !pos.Active {
			// 已经卖出过的仓位不再跟
			return errSkipped
		}
		a.position = pos

		var amount uint64
		if pos != nil {
			amount = pos.AmountRaw
		}
		if amount == 0 {
			amount, err = a.o.gw.TokenBalance(ctx, a.follower.Wallet, a.intent.InputMint)
			if err != nil {
				return fmt.Errorf("gate: on-chain balance fallback: %w", err)
			}
		}
		if amount == 0 {
			if pos != nil {
				logger.Warnf("[Orchestrator] 跟单者 %d 持仓 %s 数量为 0，关闭仓位", a.follower.ID, a.intent.InputMint)
				if err := a.o.store.ClosePosition(ctx, a.follower.ID, a.intent.InputMint); err != nil {
					logger.Errorf("[Orchestrator] 关闭空仓位失败: %v", err)
				}
			} else {
				logger.Infof("[Orchestrator] 跟单者 %d 无 %s 持仓且链上余额为 0，跳过卖出", a.follower.ID, a.intent.InputMint)
			}
			return errSkipped
		}
		a.sellAmountRaw = amount
		return nil

	default:
		return fmt.Errorf("gate: unknown trade type %d", a.intent.TradeType)
	}
}

func (a *attempt) forge() (*forgedSet, *protocol.TradeParams, error) {
	params := &protocol.TradeParams{
		TradeType:       a.intent.TradeType,
		Master:          a.intent.Master,
		Follower:        a.follower.Wallet,
		InputMint:       a.intent.InputMint,
		OutputMint:      a.intent.OutputMint,
		SpendLamports:   a.spendLamports,
		SellAmountRaw:   a.sellAmountRaw,
		SlippageBps:     a.follower.Settings.SlippageBps,
		MasterInputRaw:  a.intent.InputAmountRaw,
		MasterOutputRaw: a.intent.OutputAmountRaw,
		UnixNow:         time.Now().Unix(),
	}

	set, err := a.o.forger.BuildForFollower(a.intent, a.follower.Wallet, params)
	if err != nil {
		return nil, nil, fmt.Errorf("forge: %w", err)
	}

	instructions := make([]*gateway.ForgedInstruction, 0, len(set.Instructions))
	for _, ci := range set.Instructions {
		instructions = append(instructions, &gateway.ForgedInstruction{
			ProgramID: ci.ProgramID,
			Accounts:  ci.Accounts,
			Data:      ci.Data,
		})
	}
	return &forgedSet{instructions: instructions}, params, nil
}

type forgedSet struct {
	instructions []*gateway.ForgedInstruction
}

func (a *attempt) submit(ctx context.Context, set *forgedSet) (types.Signature, error) {
	signer, err := a.o.vault.GetSigningIdentity(a.follower.ID)
	if err != nil {
		return types.Signature{}, fmt.Errorf("submit: %w", err)
	}

	sig, err := a.o.gw.Submit(ctx, &gateway.SubmitRequest{
		Signer:                signer,
		Instructions:          set.instructions,
		ComputeUnitLimit:      computeUnitLimit(a.intent.Tx.ComputeUnitsConsumed),
		ComputeUnitPriceMicro: a.follower.Settings.PriorityFeeMicroLamports,
		LookupTables:          a.intent.Tx.LookupTables,
		NonceAccount:          a.follower.Settings.NonceAccount,
	})
	if err != nil {
		return types.Signature{}, fmt.Errorf("submit: %w", err)
	}
	logger.Infof("[Orchestrator] 已提交 follower=%d master=%s copy=%s", a.follower.ID, a.intent.Signature, sig)
	return sig, nil
}

// settle 确认成功后更新持仓台账。
func (a *attempt) settle(ctx context.Context, params *protocol.TradeParams) error {
	now := time.Now().Unix()

	switch a.intent.TradeType {
	case domain.TradeBuy:
		// 实际到账以链上余额为准；查询失败时退回按主交易比例估算
		amount, err := a.o.gw.TokenBalance(ctx, a.follower.Wallet, a.intent.OutputMint)
		if err != nil || amount == 0 {
			amount = params.ExpectedOutput(a.spendLamports)
		}
		return a.o.store.SavePosition(ctx, &domain.Position{
			FollowerID: a.follower.ID,
			Mint:       a.intent.OutputMint,
			AmountRaw:  amount,
			SolSpent:   a.spendLamports,
			Active:     true,
			UpdatedAt:  now,
		})

	case domain.TradeSell:
		// 无台账记录的链上余额卖出没有可关的仓位
		if err := a.o.store.ClosePosition(ctx, a.follower.ID, a.intent.InputMint); err != nil &&
			!errors.Is(err, store.ErrPositionNotFound) {
			return err
		}
	}
	return nil
}

// fallbackSell 走聚合器路由重试卖出（协议无关路径）。
func (a *attempt) fallbackSell(ctx context.Context) error {
	if a.o.router == nil {
		return errors.New("no swap router configured")
	}
	if a.sellAmountRaw == 0 {
		return errors.New("no sell amount resolved")
	}

	rawTx, err := a.o.router.BuildSwap(
		ctx,
		a.follower.Wallet,
		a.intent.InputMint, consts.WSOLMint,
		a.sellAmountRaw,
		a.follower.Settings.SlippageBps,
	)
	if err != nil {
		return fmt.Errorf("build fallback swap: %w", err)
	}

	signer, err := a.o.vault.GetSigningIdentity(a.follower.ID)
	if err != nil {
		return err
	}
	sig, err := a.o.gw.SubmitSerialized(ctx, rawTx, signer)
	if err != nil {
		return fmt.Errorf("submit fallback swap: %w", err)
	}
	if err := a.o.gw.AwaitConfirmation(ctx, sig, a.o.confirmTimeout); err != nil {
		return fmt.Errorf("confirm fallback %s: %w", sig, err)
	}

	a.state = stateConfirmed
	if err := a.o.store.ClosePosition(ctx, a.follower.ID, a.intent.InputMint); err != nil &&
		!errors.Is(err, store.ErrPositionNotFound) {
		logger.Errorf("[Orchestrator] 兜底卖出记账失败 follower=%d: %v", a.follower.ID, err)
	}
	logger.Infof("[Orchestrator] 兜底卖出成功 follower=%d master=%s copy=%s", a.follower.ID, a.intent.Signature, sig)
	a.notify(ctx, true, sig, true, "")
	return nil
}

func (a *attempt) notify(ctx context.Context, success bool, copySig types.Signature, viaFallback bool, failReason string) {
	result := &notifier.CopyResult{
		MasterSignature: a.intent.Signature,
		FollowerID:      a.follower.ID,
		FollowerLabel:   a.follower.Label,
		TradeType:       a.intent.TradeType,
		Platform:        a.intent.Platform,
		InputMint:       a.intent.InputMint,
		OutputMint:      a.intent.OutputMint,
		CopySignature:   copySig,
		ViaFallback:     viaFallback,
		FailReason:      failReason,
		FinishedAt:      time.Now().Unix(),
	}
	if success {
		a.o.notifier.NotifyCopySuccess(ctx, result)
	} else {
		a.o.notifier.NotifyCopyFailure(ctx, result)
	}
}
