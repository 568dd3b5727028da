package domain

import "copy-trader-sol/internal/types"

// TradeType 表示交易方向。
type TradeType uint8

const (
	TradeBuy  TradeType = 1
	TradeSell TradeType = 2
)

func (t TradeType) String() string {
	switch t {
	case TradeBuy:
		return "buy"
	case TradeSell:
		return "sell"
	default:
		return "unknown"
	}
}

// CoreInstructionDescriptor 表示被判定为真实交易行为的那一条指令。
// 由识别阶段派生，随 TradeIntent 传递，本身不落库。
type CoreInstructionDescriptor struct {
	ProgramID   types.Pubkey
	Accounts    []AccountMeta
	Data        []byte
	SourceIndex int // 指令在展平序列中的位置（用于保持伴随指令的相对顺序）
}

// Clone 返回描述符的深拷贝，克隆阶段在副本上改写，避免污染共享的 TradeIntent。
func (d *CoreInstructionDescriptor) Clone() *CoreInstructionDescriptor {
	accounts := make([]AccountMeta, len(d.Accounts))
	copy(accounts, d.Accounts)
	data := make([]byte, len(d.Data))
	copy(data, d.Data)
	return &CoreInstructionDescriptor{
		ProgramID:   d.ProgramID,
		Accounts:    accounts,
		Data:        data,
		SourceIndex: d.SourceIndex,
	}
}

// TradeIntent 表示从主账户交易中识别出的交易意图。
// 每个主签名最多派生一次，供该签名的所有跟单者复用。
type TradeIntent struct {
	Master    types.Pubkey    // 主账户钱包地址（交易发起者）
	Signature types.Signature // 主交易签名
	TradeType TradeType
	InputMint  types.Pubkey // 支付侧 mint（原生 SOL 用 NativeSOLMint 表示）
	OutputMint types.Pubkey // 获得侧 mint
	Platform   uint8        // 协议标识（consts.Platform*）

	// InputAmountRaw / OutputAmountRaw 表示主账户实际成交量（最小单位），
	// 用于按比例推算跟单者的预期成交与滑点界。
	InputAmountRaw  uint64
	OutputAmountRaw uint64

	CloningTarget *CoreInstructionDescriptor

	// Tx 保留原始交易句柄：伴随指令克隆与 compute budget 推导需要回读。
	Tx *MasterTransaction
}
