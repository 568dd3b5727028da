package notifier

import (
	"context"

	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"
)

// CopyResult 表示一次跟单尝试的最终结果（成功或失败）。
type CopyResult struct {
	MasterSignature types.Signature
	FollowerID      int64
	FollowerLabel   string
	TradeType       domain.TradeType
	Platform        uint8
	InputMint       types.Pubkey
	OutputMint      types.Pubkey
	CopySignature   types.Signature // 成功时为跟单交易签名
	ViaFallback     bool            // 是否经聚合器兜底完成
	FailReason      string          // 失败时的原因描述
	FinishedAt      int64
}

// Notifier 负责对外广播跟单结果，发送失败只记日志，不影响主流程。
type Notifier interface {
	NotifyCopySuccess(ctx context.Context, result *CopyResult)
	NotifyCopyFailure(ctx context.Context, result *CopyResult)
}

// NopNotifier 是空实现，未配置通知通道时使用。
type NopNotifier struct{}

func (NopNotifier) NotifyCopySuccess(context.Context, *CopyResult) {}
func (NopNotifier) NotifyCopyFailure(context.Context, *CopyResult) {}
