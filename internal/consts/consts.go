package consts

import "runtime"

const (
	ChainIDSolana uint32 = 100000

	// LamportsPerSOL 表示 1 SOL 对应的最小单位数量。
	LamportsPerSOL uint64 = 1_000_000_000

	// SOLDecimals 表示原生 SOL 的精度。
	SOLDecimals uint8 = 9
)

// CpuCount 表示逻辑 CPU 核心数，用于控制并发任务调度上限
var CpuCount = runtime.NumCPU()
