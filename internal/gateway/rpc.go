package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/internal/vault"
	"copy-trader-sol/pkg/logger"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	computebudget "github.com/blocto/solana-go-sdk/program/compute_budget"
	"github.com/blocto/solana-go-sdk/program/system"
	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// RpcGateway 是 ChainGateway 的 RPC 实现。
type RpcGateway struct {
	cli *client.Client

	// confirmPollInterval 表示确认轮询间隔。
	confirmPollInterval time.Duration
}

func NewRpcGateway(endpoint string) *RpcGateway {
	return &RpcGateway{
		cli:                 client.NewClient(endpoint),
		confirmPollInterval: 500 * time.Millisecond,
	}
}

func (g *RpcGateway) RecentSignatures(ctx context.Context, addr types.Pubkey, limit int) ([]types.Signature, error) {
	list, err := g.cli.GetSignaturesForAddressWithConfig(ctx, addr.String(), client.GetSignaturesForAddressConfig{
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get signatures for %s: %w", addr, err)
	}

	sigs := make([]types.Signature, 0, len(list))
	for _, item := range list {
		if item.Err != nil {
			continue // 失败交易不进入跟单流程
		}
		sig, err := types.TrySignatureFromBase58(item.Signature)
		if err != nil {
			logger.Warnf("[Gateway] 非法签名跳过: %v", err)
			continue
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// FetchTransaction 拉取交易并适配为 MasterTransaction：
// 账户表拼接（静态 + lookup table 加载部分）、指令展平（主 + inner）、
// 签名/可写标记还原、SOL 与 Token 余额快照。
func (g *RpcGateway) FetchTransaction(ctx context.Context, sig types.Signature) (*domain.MasterTransaction, error) {
	resp, err := g.cli.GetTransaction(ctx, sig.String())
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if resp == nil || resp.Meta == nil {
		return nil, fmt.Errorf("transaction %s: missing meta", sig)
	}

	msg := resp.Transaction.Message
	meta := resp.Meta

	// 完整账户表：静态部分 + lookup table 的 writable / readonly 部分，顺序拼接
	staticLen := len(msg.Accounts)
	accountKeys := make([]types.Pubkey, 0, staticLen+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.Readonly))
	for _, k := range msg.Accounts {
		var p types.Pubkey
		copy(p[:], k.Bytes())
		accountKeys = append(accountKeys, p)
	}
	for _, s := range meta.LoadedAddresses.Writable {
		p, err := types.TryPubkeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad loaded writable address: %w", sig, err)
		}
		accountKeys = append(accountKeys, p)
	}
	for _, s := range meta.LoadedAddresses.Readonly {
		p, err := types.TryPubkeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad loaded readonly address: %w", sig, err)
		}
		accountKeys = append(accountKeys, p)
	}

	flags := accountFlags{
		numSigners:     int(msg.Header.NumRequireSignatures),
		roSigned:       int(msg.Header.NumReadonlySignedAccounts),
		roUnsigned:     int(msg.Header.NumReadonlyUnsignedAccounts),
		staticLen:      staticLen,
		loadedWritable: len(meta.LoadedAddresses.Writable),
	}

	// 指令展平：主指令 InnerIndex=0，inner 指令从 1 递增
	instructions := make([]*domain.AdaptedInstruction, 0, len(msg.Instructions)*2)
	innerByIndex := make(map[int][]sdktypes.CompiledInstruction, len(meta.InnerInstructions))
	for _, inner := range meta.InnerInstructions {
		innerByIndex[int(inner.Index)] = inner.Instructions
	}
	for i, ci := range msg.Instructions {
		adapted, err := adaptInstruction(ci, accountKeys, flags, uint16(i), 0)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", sig, err)
		}
		instructions = append(instructions, adapted)

		for j, innerCi := range innerByIndex[i] {
			adaptedInner, err := adaptInstruction(innerCi, accountKeys, flags, uint16(i), uint16(j+1))
			if err != nil {
				return nil, fmt.Errorf("transaction %s: %w", sig, err)
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
			PreBalance:  uint64(meta.PreBalances[i]),
			PostBalance: uint64(meta.PostBalances[i]),
		}
	}

	// Token 余额快照：先 Post 建立结构，再补 Pre
	tokenBalances := make(map[types.Pubkey]*domain.TokenBalance, len(meta.PostTokenBalances))
	for _, post := range meta.PostTokenBalances {
		idx := int(post.AccountIndex)
		if idx >= len(accountKeys) {
			continue
		}
		mint, err := types.TryPubkeyFromBase58(post.Mint)
		if err != nil {
			continue
		}
		owner, err := types.TryPubkeyFromBase58(post.Owner)
		if err != nil {
			continue
		}
		tokenBalances[accountKeys[idx]] = &domain.TokenBalance{
			TokenAccount: accountKeys[idx],
			Mint:         mint,
			Owner:        owner,
			Decimals:     post.UITokenAmount.Decimals,
			PostBalance:  parseUint64(post.UITokenAmount.Amount),
		}
	}
	for _, pre := range meta.PreTokenBalances {
		idx := int(pre.AccountIndex)
		if idx >= len(accountKeys) {
			continue
		}
		account := accountKeys[idx]
		if tb, ok := tokenBalances[account]; ok {
			tb.PreBalance = parseUint64(pre.UITokenAmount.Amount)
			continue
		}
		mint, err := types.TryPubkeyFromBase58(pre.Mint)
		if err != nil {
			continue
		}
		owner, err := types.TryPubkeyFromBase58(pre.Owner)
		if err != nil {
			continue
		}
		// Pre-only：账户被销毁或清空
		tokenBalances[account] = &domain.TokenBalance{
			TokenAccount: account,
			Mint:         mint,
			Owner:        owner,
			Decimals:     pre.UITokenAmount.Decimals,
			PreBalance:   parseUint64(pre.UITokenAmount.Amount),
		}
	}

	signers := make([]types.Pubkey, 0, flags.numSigners)
	for i := 0; i < flags.numSigners && i < len(accountKeys); i++ {
		signers = append(signers, accountKeys[i])
	}

	lookupTables := make([]types.Pubkey, 0, len(msg.AddressLookupTables))
	for _, alt := range msg.AddressLookupTables {
		var p types.Pubkey
		copy(p[:], alt.AccountKey.Bytes())
		lookupTables = append(lookupTables, p)
	}

	blockhash, err := types.HashFromBase58(msg.RecentBlockHash)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: bad recent blockhash: %w", sig, err)
	}

	var blockTime int64
	if resp.BlockTime != nil {
		blockTime = *resp.BlockTime
	}
	var consumed uint64
	if meta.ComputeUnitsConsumed != nil {
		consumed = *meta.ComputeUnitsConsumed
	}

	return &domain.MasterTransaction{
		Signature:            sig,
		Slot:                 resp.Slot,
		BlockTime:            blockTime,
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

// accountFlags 还原 message header 语义下各账户位置的签名/可写标记。
type accountFlags struct {
	numSigners     int
	roSigned       int
	roUnsigned     int
	staticLen      int
	loadedWritable int
}

func (f accountFlags) isSigner(idx int) bool {
	return idx < f.numSigners
}

func (f accountFlags) isWritable(idx int) bool {
	if idx < f.staticLen {
		if idx < f.numSigners {
			return idx < f.numSigners-f.roSigned
		}
		return idx < f.staticLen-f.roUnsigned
	}
	// lookup table 加载部分：writable 段在前
	return idx-f.staticLen < f.loadedWritable
}

func adaptInstruction(
	ci sdktypes.CompiledInstruction,
	accountKeys []types.Pubkey,
	flags accountFlags,
	ixIndex, innerIndex uint16,
) (*domain.AdaptedInstruction, error) {
	if ci.ProgramIDIndex >= len(accountKeys) {
		return nil, fmt.Errorf("program id index %d out of range", ci.ProgramIDIndex)
	}
	accounts := make([]domain.AccountMeta, 0, len(ci.Accounts))
	for _, idx := range ci.Accounts {
		if idx >= len(accountKeys) {
			return nil, fmt.Errorf("account index %d out of range", idx)
		}
		accounts = append(accounts, domain.AccountMeta{
			Pubkey:     accountKeys[idx],
			IsSigner:   flags.isSigner(idx),
			IsWritable: flags.isWritable(idx),
		})
	}
	return &domain.AdaptedInstruction{
		IxIndex:    ixIndex,
		InnerIndex: innerIndex,
		ProgramID:  accountKeys[ci.ProgramIDIndex],
		Accounts:   accounts,
		Data:       ci.Data,
	}, nil
}

func parseUint64(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (g *RpcGateway) LatestBlockhash(ctx context.Context) (types.Hash, error) {
	resp, err := g.cli.GetLatestBlockhash(ctx)
	if err != nil {
		return types.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return types.HashFromBase58(resp.Blockhash)
}

// ResolveLookupTable 读取 lookup table 账户并解析地址表。
// 账户数据布局：56 字节元数据头 + 连续的 32 字节地址。
func (g *RpcGateway) ResolveLookupTable(ctx context.Context, table types.Pubkey) ([]types.Pubkey, error) {
	const headerLen = 56

	info, err := g.cli.GetAccountInfo(ctx, table.String())
	if err != nil {
		return nil, fmt.Errorf("get lookup table %s: %w", table, err)
	}
	data := info.Data
	if len(data) < headerLen {
		return nil, fmt.Errorf("lookup table %s: data too short (%d)", table, len(data))
	}

	body := data[headerLen:]
	addrs := make([]types.Pubkey, 0, len(body)/32)
	for off := 0; off+32 <= len(body); off += 32 {
		var p types.Pubkey
		copy(p[:], body[off:off+32])
		addrs = append(addrs, p)
	}
	return addrs, nil
}

func (g *RpcGateway) TokenBalance(ctx context.Context, owner, mint types.Pubkey) (uint64, error) {
	ata, err := protocol.DeriveAssociatedTokenAccount(owner, mint)
	if err != nil {
		return 0, err
	}
	balance, err := g.cli.GetTokenAccountBalance(ctx, ata.String())
	if err != nil {
		return 0, fmt.Errorf("get token balance owner=%s mint=%s: %w", owner, mint, err)
	}
	return balance.Amount, nil
}

// Submit 组装并提交一笔跟单交易：
// compute budget 前置 → durable nonce（如配置）→ lookup table 解析 → 签名 → 发送。
func (g *RpcGateway) Submit(ctx context.Context, req *SubmitRequest) (types.Signature, error) {
	feePayer := common.PublicKeyFromBytes(req.Signer.PublicKey().Bytes())

	instructions := make([]sdktypes.Instruction, 0, len(req.Instructions)+3)

	var recentBlockhash string
	if !req.NonceAccount.IsZero() {
		// durable nonce 基准：nonce 值当 blockhash 用，advance 指令必须是第一条
		nonce, err := g.cli.GetNonceFromNonceAccount(ctx, req.NonceAccount.String())
		if err != nil {
			return types.Signature{}, fmt.Errorf("get nonce from %s: %w", req.NonceAccount, err)
		}
		recentBlockhash = nonce
		instructions = append(instructions, system.AdvanceNonceAccount(system.AdvanceNonceAccountParam{
			Nonce: common.PublicKeyFromBytes(req.NonceAccount.Bytes()),
			Auth:  feePayer,
		}))
	} else {
		resp, err := g.cli.GetLatestBlockhash(ctx)
		if err != nil {
			return types.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
		}
		recentBlockhash = resp.Blockhash
	}

	if req.ComputeUnitLimit > 0 {
		instructions = append(instructions, computebudget.SetComputeUnitLimit(computebudget.SetComputeUnitLimitParam{
			Units: req.ComputeUnitLimit,
		}))
	}
	if req.ComputeUnitPriceMicro > 0 {
		instructions = append(instructions, computebudget.SetComputeUnitPrice(computebudget.SetComputeUnitPriceParam{
			MicroLamports: req.ComputeUnitPriceMicro,
		}))
	}

	for _, forged := range req.Instructions {
		accounts := make([]sdktypes.AccountMeta, 0, len(forged.Accounts))
		for _, meta := range forged.Accounts {
			accounts = append(accounts, sdktypes.AccountMeta{
				PubKey:     common.PublicKeyFromBytes(meta.Pubkey.Bytes()),
				IsSigner:   meta.IsSigner,
				IsWritable: meta.IsWritable,
			})
		}
		instructions = append(instructions, sdktypes.Instruction{
			ProgramID: common.PublicKeyFromBytes(forged.ProgramID.Bytes()),
			Accounts:  accounts,
			Data:      forged.Data,
		})
	}

	// lookup table 随交易携带（主交易账户数大时缺了会解析失败）
	tables := make([]sdktypes.AddressLookupTableAccount, 0, len(req.LookupTables))
	for _, table := range req.LookupTables {
		addrs, err := g.ResolveLookupTable(ctx, table)
		if err != nil {
			return types.Signature{}, err
		}
		sdkAddrs := make([]common.PublicKey, 0, len(addrs))
		for _, a := range addrs {
			sdkAddrs = append(sdkAddrs, common.PublicKeyFromBytes(a.Bytes()))
		}
		tables = append(tables, sdktypes.AddressLookupTableAccount{
			Key:       common.PublicKeyFromBytes(table.Bytes()),
			Addresses: sdkAddrs,
		})
	}

	message := sdktypes.NewMessage(sdktypes.NewMessageParam{
		FeePayer:                   feePayer,
		RecentBlockhash:            recentBlockhash,
		Instructions:               instructions,
		AddressLookupTableAccounts: tables,
	})

	msgBytes, err := message.Serialize()
	if err != nil {
		return types.Signature{}, fmt.Errorf("serialize message: %w", err)
	}
	sigBytes, err := req.Signer.Sign(msgBytes)
	if err != nil {
		return types.Signature{}, fmt.Errorf("sign message: %w", err)
	}

	tx := sdktypes.Transaction{
		Signatures: []sdktypes.Signature{sigBytes},
		Message:    message,
	}
	sent, err := g.cli.SendTransaction(ctx, tx)
	if err != nil {
		return types.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return types.TrySignatureFromBase58(sent)
}

// SubmitSerialized 对聚合器返回的序列化交易重签名并提交（卖出兜底路径）。
func (g *RpcGateway) SubmitSerialized(ctx context.Context, rawTx []byte, signer vault.SigningIdentity) (types.Signature, error) {
	tx, err := sdktypes.TransactionDeserialize(rawTx)
	if err != nil {
		return types.Signature{}, fmt.Errorf("deserialize swap transaction: %w", err)
	}

	msgBytes, err := tx.Message.Serialize()
	if err != nil {
		return types.Signature{}, fmt.Errorf("serialize swap message: %w", err)
	}
	sigBytes, err := signer.Sign(msgBytes)
	if err != nil {
		return types.Signature{}, fmt.Errorf("sign swap message: %w", err)
	}
	tx.Signatures = []sdktypes.Signature{sigBytes}

	sent, err := g.cli.SendTransaction(ctx, tx)
	if err != nil {
		return types.Signature{}, fmt.Errorf("send swap transaction: %w", err)
	}
	return types.TrySignatureFromBase58(sent)
}

// AwaitConfirmation 轮询签名状态直到 confirmed/finalized 或超时。
func (g *RpcGateway) AwaitConfirmation(ctx context.Context, sig types.Signature, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(g.confirmPollInterval)
	defer ticker.Stop()

	for {
		status, err := g.cli.GetSignatureStatus(ctx, sig.String())
		if err == nil && status != nil {
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, status.Err)
			}
			if status.ConfirmationStatus != nil &&
				(*status.ConfirmationStatus == "confirmed" || *status.ConfirmationStatus == "finalized") {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return ErrConfirmationTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
