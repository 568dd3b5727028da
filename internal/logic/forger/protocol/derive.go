package protocol

import (
	"fmt"

	"copy-trader-sol/internal/types"

	"github.com/blocto/solana-go-sdk/common"
)

// DeriveAssociatedTokenAccount 推导 owner 在指定 mint 下的关联 token 账户地址。
// (owner, mint) → ATA 是纯函数，master 与 follower 使用同一推导规则。
func DeriveAssociatedTokenAccount(owner, mint types.Pubkey) (types.Pubkey, error) {
	ata, _, err := common.FindAssociatedTokenAddress(
		common.PublicKeyFromBytes(owner[:]),
		common.PublicKeyFromBytes(mint[:]),
	)
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("derive ata for owner=%s mint=%s: %w", owner, mint, err)
	}
	var p types.Pubkey
	copy(p[:], ata.Bytes())
	return p, nil
}

// DeriveProgramAddress 按种子推导 PDA。种子中通常含 owner 身份，
// 是策略层重推导 per-user 账户的底层原语。
func DeriveProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	pda, _, err := common.FindProgramAddress(seeds, common.PublicKeyFromBytes(programID[:]))
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("derive pda for program=%s: %w", programID, err)
	}
	var p types.Pubkey
	copy(p[:], pda.Bytes())
	return p, nil
}
