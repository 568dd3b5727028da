package detective

import (
	"errors"
	"fmt"
)

// RejectReason 表示识别阶段的否定结论分类。
// 否定结论是信息性的：同一签名不会被重试。
type RejectReason uint8

const (
	RejectNone             RejectReason = iota
	RejectTxFailed                      // 主交易在链上执行失败
	RejectMissingMeta                   // 余额快照等元数据缺失
	RejectMasterNotSigner               // 发起者不是交易签名者
	RejectNoCoreInstruction             // 未找到可信的核心交易指令
	RejectMintUnchanged                 // 余额变化推不出有效的交易方向
	RejectTradeTooSmall                 // 成交量低于跟单阈值
)

var rejectReasonNames = []string{
	"none",
	"tx_failed",
	"missing_meta",
	"master_not_signer",
	"no_core_instruction",
	"mint_unchanged",
	"trade_too_small",
}

func (r RejectReason) String() string {
	if int(r) < len(rejectReasonNames) {
		return rejectReasonNames[r]
	}
	return "unknown"
}

// RejectError 表示一次带原因的识别否定结论。
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("analysis rejected: %s", e.Reason)
	}
	return fmt.Sprintf("analysis rejected: %s (%s)", e.Reason, e.Detail)
}

func reject(reason RejectReason, format string, args ...any) error {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsReject 判断 err 是否为识别否定结论，并取出原因。
func AsReject(err error) (RejectReason, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return RejectNone, false
}
