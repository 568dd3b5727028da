package watcher

import (
	"fmt"
	"strconv"

	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// buildFullAccountKeys 构造交易中完整的账户 Pubkey 列表。
// 将 message.accountKeys 和 Address Lookup Table 中的 writable / readonly 地址
// 顺序拼接为一个 []Pubkey 切片，供后续通过 accountIndex 高效索引。
func buildFullAccountKeys(
	accountKeys, loadedWritable, loadedReadonly [][]byte,
) ([]types.Pubkey, error) {
	total := len(accountKeys) + len(loadedWritable) + len(loadedReadonly)
	pubkeys := make([]types.Pubkey, total)

	i := 0
	for _, b := range accountKeys {
		if len(b) != 32 {
			return nil, fmt.Errorf("invalid pubkey in accountKeys at index %d", i)
		}
		copy(pubkeys[i][:], b)
		i++
	}
	for _, b := range loadedWritable {
		if len(b) != 32 {
			return nil, fmt.Errorf("invalid pubkey in loadedWritable at index %d", i)
		}
		copy(pubkeys[i][:], b)
		i++
	}
	for _, b := range loadedReadonly {
		if len(b) != 32 {
			return nil, fmt.Errorf("invalid pubkey in loadedReadonly at index %d", i)
		}
		copy(pubkeys[i][:], b)
		i++
	}
	return pubkeys, nil
}

// streamAccountFlags 还原 geyser 推送消息中各账户位置的签名/可写标记。
type streamAccountFlags struct {
	numSigners     int
	roSigned       int
	roUnsigned     int
	staticLen      int
	loadedWritable int
}

func (f streamAccountFlags) isSigner(idx int) bool {
	return idx < f.numSigners
}

func (f streamAccountFlags) isWritable(idx int) bool {
	if idx < f.staticLen {
		if idx < f.numSigners {
			return idx < f.numSigners-f.roSigned
		}
		return idx < f.staticLen-f.roUnsigned
	}
	return idx-f.staticLen < f.loadedWritable
}

func convertStreamInstruction(
	pidIdx uint32,
	accounts []byte,
	data []byte,
	accountKeys []types.Pubkey,
	flags streamAccountFlags,
	ixIndex, innerIndex uint16,
) (*domain.AdaptedInstruction, error) {
	if int(pidIdx) >= len(accountKeys) {
		return nil, fmt.Errorf("program id index %d out of range", pidIdx)
	}
	metas := make([]domain.AccountMeta, 0, len(accounts))
	for _, idx := range accounts {
		if int(idx) >= len(accountKeys) {
			return nil, fmt.Errorf("account index %d out of range", idx)
		}
		metas = append(metas, domain.AccountMeta{
			Pubkey:     accountKeys[idx],
			IsSigner:   flags.isSigner(int(idx)),
			IsWritable: flags.isWritable(int(idx)),
		})
	}
	return &domain.AdaptedInstruction{
		IxIndex:    ixIndex,
		InnerIndex: innerIndex,
		ProgramID:  accountKeys[pidIdx],
		Accounts:   metas,
		Data:       data,
	}, nil
}

// TranslateStreamTx 把 geyser 推送的交易转换为内部结构 MasterTransaction。
// 处理流程：
//  1. 构建完整的 accountKeys（含 Address Lookup）
//  2. 还原账户签名/可写标记，展平主指令与 inner 指令
//  3. 构造 SOL / Token 余额快照
//  4. 若发生 panic，将被捕获并转为错误返回，避免程序崩溃
func TranslateStreamTx(slot uint64, tx *pb.SubscribeUpdateTransactionInfo) (_ *domain.MasterTransaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("TranslateStreamTx panic: %v", r)
		}
	}()

	if tx == nil || tx.Transaction == nil || tx.Transaction.Message == nil || tx.Meta == nil {
		return nil, fmt.Errorf("invalid transaction: missing message or meta")
	}
	msg := tx.Transaction.Message
	meta := tx.Meta

	accountKeys, err := buildFullAccountKeys(
		msg.AccountKeys,
		meta.LoadedWritableAddresses,
		meta.LoadedReadonlyAddresses,
	)
	if err != nil {
		return nil, fmt.Errorf("buildFullAccountKeys error: %w", err)
	}

	if len(tx.Transaction.Signatures) == 0 || len(accountKeys) == 0 {
		return nil, fmt.Errorf("invalid transaction: missing signature or accountKeys")
	}
	sig, err := types.SignatureFromBytes(tx.Transaction.Signatures[0])
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	signerCount := int(msg.Header.NumRequiredSignatures)
	if signerCount == 0 || len(accountKeys) < signerCount {
		return nil, fmt.Errorf("invalid signer count: %d", signerCount)
	}

	flags := streamAccountFlags{
		numSigners:     signerCount,
		roSigned:       int(msg.Header.NumReadonlySignedAccounts),
		roUnsigned:     int(msg.Header.NumReadonlyUnsignedAccounts),
		staticLen:      len(msg.AccountKeys),
		loadedWritable: len(meta.LoadedWritableAddresses),
	}

	// 展平主指令与 inner 指令（主指令 InnerIndex=0，inner 从 1 递增）
	instructions := make([]*domain.AdaptedInstruction, 0, len(msg.Instructions)*2)
	innerByIndex := make(map[int][]*pb.InnerInstruction, len(meta.InnerInstructions))
	for _, inner := range meta.InnerInstructions {
		innerByIndex[int(inner.Index)] = inner.Instructions
	}
	for i, inst := range msg.Instructions {
		adapted, cerr := convertStreamInstruction(
			inst.ProgramIdIndex, inst.Accounts, inst.Data, accountKeys, flags, uint16(i), 0)
		if cerr != nil {
			return nil, cerr
		}
		instructions = append(instructions, adapted)

		for j, inner := range innerByIndex[i] {
			adaptedInner, cerr := convertStreamInstruction(
				inner.ProgramIdIndex, inner.Accounts, inner.Data, accountKeys, flags, uint16(i), uint16(j+1))
			if cerr != nil {
				return nil, cerr
			}
			instructions = append(instructions, adaptedInner)
		}
	}

	// SOL 余额快照
	solBalances := make(map[types.Pubkey]*domain.SolBalance, len(meta.PreBalances))
	for i := range meta.PreBalances {
		if i >= len(accountKeys) || i >= len(meta.PostBalances) {
			break
		}
		solBalances[accountKeys[i]] = &domain.SolBalance{
			Account:     accountKeys[i],
			PreBalance:  meta.PreBalances[i],
			PostBalance: meta.PostBalances[i],
		}
	}

	// Token 余额快照：先 Post 建立结构，再补 Pre
	tokenBalances := make(map[types.Pubkey]*domain.TokenBalance, len(meta.PostTokenBalances))
	for _, post := range meta.PostTokenBalances {
		idx := int(post.AccountIndex)
		if idx >= len(accountKeys) || post.UiTokenAmount == nil {
			continue
		}
		mint, merr := types.TryPubkeyFromBase58(post.Mint)
		if merr != nil {
			continue
		}
		owner, oerr := types.TryPubkeyFromBase58(post.Owner)
		if oerr != nil {
			continue
		}
		tokenBalances[accountKeys[idx]] = &domain.TokenBalance{
			TokenAccount: accountKeys[idx],
			Mint:         mint,
			Owner:        owner,
			Decimals:     uint8(post.UiTokenAmount.Decimals),
			PostBalance:  parseAmount(post.UiTokenAmount.Amount),
		}
	}
	for _, pre := range meta.PreTokenBalances {
		idx := int(pre.AccountIndex)
		if idx >= len(accountKeys) || pre.UiTokenAmount == nil {
			continue
		}
		account := accountKeys[idx]
		if tb, ok := tokenBalances[account]; ok {
			tb.PreBalance = parseAmount(pre.UiTokenAmount.Amount)
			continue
		}
		mint, merr := types.TryPubkeyFromBase58(pre.Mint)
		if merr != nil {
			continue
		}
		owner, oerr := types.TryPubkeyFromBase58(pre.Owner)
		if oerr != nil {
			continue
		}
		// Pre-only：账户被销毁或清空
		tokenBalances[account] = &domain.TokenBalance{
			TokenAccount: account,
			Mint:         mint,
			Owner:        owner,
			Decimals:     uint8(pre.UiTokenAmount.Decimals),
			PreBalance:   parseAmount(pre.UiTokenAmount.Amount),
		}
	}

	signers := make([]types.Pubkey, signerCount)
	copy(signers, accountKeys[:signerCount])

	lookupTables := make([]types.Pubkey, 0, len(msg.AddressTableLookups))
	for _, lookup := range msg.AddressTableLookups {
		p, perr := types.PubkeyFromBytes(lookup.AccountKey)
		if perr != nil {
			return nil, fmt.Errorf("invalid lookup table key: %w", perr)
		}
		lookupTables = append(lookupTables, p)
	}

	var blockhash types.Hash
	if len(msg.RecentBlockhash) == 32 {
		copy(blockhash[:], msg.RecentBlockhash)
	}

	var consumed uint64
	if meta.ComputeUnitsConsumed != nil {
		consumed = *meta.ComputeUnitsConsumed
	}

	return &domain.MasterTransaction{
		Signature:            sig,
		Slot:                 slot,
		Blockhash:            blockhash,
		Failed:               meta.Err != nil,
		ComputeUnitsConsumed: consumed,
		Signers:              signers,
		AccountKeys:          accountKeys,
		Instructions:         instructions,
		LookupTables:         lookupTables,
		LogMessages:          meta.LogMessages,
		SolBalances:          solBalances,
		TokenBalances:        tokenBalances,
	}, nil
}

func parseAmount(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
