package consts

import "copy-trader-sol/internal/types"

// Base58 地址常量（可读性高，适合配置与日志使用）
const (
	//  Programs
	SystemProgramStr          = "11111111111111111111111111111111"
	TokenProgramStr           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	TokenProgram2022Str       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramStr = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramStr   = "ComputeBudget111111111111111111111111111111"
	MemoProgramStr            = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	AddressLookupTableStr     = "AddressLookupTab1e1111111111111111111111111"

	// Sysvars
	SysvarRentStr  = "SysvarRent111111111111111111111111111111111"
	SysvarClockStr = "SysvarC1ock11111111111111111111111111111111"

	// 常用 quote 币
	WSOLMintStr = "So11111111111111111111111111111111111111112"
	USDCMintStr = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMintStr = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"

	// DEX: Raydium
	RaydiumV4ProgramStr   = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	RaydiumCLMMProgramStr = "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK"
	RaydiumCPMMProgramStr = "CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C"

	// DEX: PumpFun
	PumpFunProgramStr    = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	PumpFunAMMProgramStr = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"

	// DEX: Meteora
	MeteoraDLMMProgramStr = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"

	// DEX: Orca
	OrcaWhirlpoolProgramStr = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"

	// 聚合器 router 入口（发起者直接签名调用）
	JupiterV6ProgramStr = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	JupiterV4ProgramStr = "JUP4Fb2cqiRUcaTHdrPC8h2gNsA2ETXiPDD33WcGuJB"
)

var (
	// 特殊语义地址：原生 SOL（非 SPL），用全 0 表示
	NativeSOLMint = types.Pubkey{}

	// Programs
	SystemProgram          = types.PubkeyFromBase58(SystemProgramStr)
	TokenProgram           = types.PubkeyFromBase58(TokenProgramStr)
	TokenProgram2022       = types.PubkeyFromBase58(TokenProgram2022Str)
	AssociatedTokenProgram = types.PubkeyFromBase58(AssociatedTokenProgramStr)
	ComputeBudgetProgram   = types.PubkeyFromBase58(ComputeBudgetProgramStr)
	MemoProgram            = types.PubkeyFromBase58(MemoProgramStr)
	AddressLookupTable     = types.PubkeyFromBase58(AddressLookupTableStr)

	// Sysvars
	SysvarRent  = types.PubkeyFromBase58(SysvarRentStr)
	SysvarClock = types.PubkeyFromBase58(SysvarClockStr)

	// 常用 quote 币
	WSOLMint = types.PubkeyFromBase58(WSOLMintStr)
	USDCMint = types.PubkeyFromBase58(USDCMintStr)
	USDTMint = types.PubkeyFromBase58(USDTMintStr)

	// DEX Program
	RaydiumV4Program     = types.PubkeyFromBase58(RaydiumV4ProgramStr)
	RaydiumCLMMProgram   = types.PubkeyFromBase58(RaydiumCLMMProgramStr)
	RaydiumCPMMProgram   = types.PubkeyFromBase58(RaydiumCPMMProgramStr)
	PumpFunProgram       = types.PubkeyFromBase58(PumpFunProgramStr)
	PumpFunAMMProgram    = types.PubkeyFromBase58(PumpFunAMMProgramStr)
	MeteoraDLMMProgram   = types.PubkeyFromBase58(MeteoraDLMMProgramStr)
	OrcaWhirlpoolProgram = types.PubkeyFromBase58(OrcaWhirlpoolProgramStr)

	// 聚合器路由
	JupiterV6Program = types.PubkeyFromBase58(JupiterV6ProgramStr)
	JupiterV4Program = types.PubkeyFromBase58(JupiterV4ProgramStr)
)

// InfraPrograms 表示基础设施类 Program 集合。
// 这些 Program 不可能是交易的核心 swap 指令，识别阶段直接排除。
var InfraPrograms = map[types.Pubkey]struct{}{
	SystemProgram:          {},
	TokenProgram:           {},
	TokenProgram2022:       {},
	AssociatedTokenProgram: {},
	ComputeBudgetProgram:   {},
	MemoProgram:            {},
	AddressLookupTable:     {},
}

// RouterPrograms 表示聚合器 router 入口 Program 集合。
// 命中该集合且发起者为签名者时，按 router 模式识别核心指令。
var RouterPrograms = map[types.Pubkey]struct{}{
	JupiterV6Program: {},
	JupiterV4Program: {},
}

// IsWrappedOrNativeSOL 判断 mint 是否为原生 SOL 或 WSOL（方向推导时二者等价处理）。
func IsWrappedOrNativeSOL(mint types.Pubkey) bool {
	return mint == NativeSOLMint || mint == WSOLMint
}
