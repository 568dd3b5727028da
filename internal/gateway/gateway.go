package gateway

import (
	"context"
	"errors"
	"time"

	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/internal/vault"
)

// ErrConfirmationTimeout 表示提交后未在限期内观察到确认结果。
// 调用方按失败处理，但签名仍应标记为已处理，避免重试风暴。
var ErrConfirmationTimeout = errors.New("confirmation timeout")

// SubmitRequest 表示一笔待组装提交的跟单交易。
// 指令以领域结构表达，链上交易格式的拼装由网关实现负责。
type SubmitRequest struct {
	Signer       vault.SigningIdentity
	Instructions []*ForgedInstruction

	// ComputeUnitLimit / ComputeUnitPriceMicro 为 0 时不附加对应预算指令。
	ComputeUnitLimit      uint32
	ComputeUnitPriceMicro uint64

	// LookupTables 表示需要解析并随交易携带的 address lookup table。
	LookupTables []types.Pubkey

	// NonceAccount 非零时以 durable nonce 为交易基准（网关负责取 nonce 并前置 advance 指令），
	// 否则使用近期 blockhash。
	NonceAccount types.Pubkey
}

// ForgedInstruction 表示一条提交用指令（与克隆层的结构解耦，网关只认这个形状）。
type ForgedInstruction struct {
	ProgramID types.Pubkey
	Accounts  []domain.AccountMeta
	Data      []byte
}

// ChainGateway 表示链网关：历史/账户读取、地址推导解析、交易提交确认。
// 传输细节（RPC 重试、节点健康）由实现负责，核心流程只依赖本接口。
type ChainGateway interface {
	// RecentSignatures 拉取某地址最近的交易签名（新→旧）。
	RecentSignatures(ctx context.Context, addr types.Pubkey, limit int) ([]types.Signature, error)

	// FetchTransaction 按签名拉取并适配一笔交易。
	FetchTransaction(ctx context.Context, sig types.Signature) (*domain.MasterTransaction, error)

	// LatestBlockhash 返回当前参考 blockhash。
	LatestBlockhash(ctx context.Context) (types.Hash, error)

	// ResolveLookupTable 解析 lookup table 的地址表内容。
	ResolveLookupTable(ctx context.Context, table types.Pubkey) ([]types.Pubkey, error)

	// TokenBalance 查询 owner 在指定 mint 下关联账户的链上余额（最小单位）。
	TokenBalance(ctx context.Context, owner, mint types.Pubkey) (uint64, error)

	// Submit 组装、签名并提交一笔交易，返回签名。
	Submit(ctx context.Context, req *SubmitRequest) (types.Signature, error)

	// AwaitConfirmation 等待交易确认；超时返回 ErrConfirmationTimeout。
	AwaitConfirmation(ctx context.Context, sig types.Signature, timeout time.Duration) error

	// SubmitSerialized 签名并提交一笔外部构造的序列化交易（聚合器兜底路径）。
	SubmitSerialized(ctx context.Context, rawTx []byte, signer vault.SigningIdentity) (types.Signature, error)
}

// SwapRouter 表示协议无关的聚合器兜底换币路径（仅卖出兜底使用）。
type SwapRouter interface {
	// BuildSwap 请求聚合器构造一笔 inputMint → outputMint 的换币交易（未签名、序列化形态）。
	BuildSwap(ctx context.Context, owner types.Pubkey, inputMint, outputMint types.Pubkey, amountRaw uint64, slippageBps uint32) ([]byte, error)
}
