package forger

import (
	"copy-trader-sol/internal/logic/forger/jupiter"
	"copy-trader-sol/internal/logic/forger/meteoradlmm"
	"copy-trader-sol/internal/logic/forger/orcawhirlpool"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/logic/forger/pumpfun"
	"copy-trader-sol/internal/logic/forger/pumpfunamm"
	"copy-trader-sol/internal/logic/forger/raydiumclmm"
	"copy-trader-sol/internal/logic/forger/raydiumcpmm"
	"copy-trader-sol/internal/logic/forger/raydiumv4"
	"copy-trader-sol/internal/types"
)

// strategies 是 ProgramID → 协议克隆策略的路由表。
// 所有协议模块通过 RegisterStrategies 注册进该表。
var strategies = map[types.Pubkey]protocol.Strategy{}

// Init 初始化所有协议策略注册
func Init() {
	pumpfun.RegisterStrategies(strategies)
	pumpfunamm.RegisterStrategies(strategies)
	raydiumv4.RegisterStrategies(strategies)
	raydiumclmm.RegisterStrategies(strategies)
	raydiumcpmm.RegisterStrategies(strategies)
	meteoradlmm.RegisterStrategies(strategies)
	orcawhirlpool.RegisterStrategies(strategies)
	jupiter.RegisterStrategies(strategies)
}

// lookupStrategy 返回指定 Program 的策略；未注册协议返回 nil（走通用启发式路径）。
func lookupStrategy(programID types.Pubkey) protocol.Strategy {
	return strategies[programID]
}
