package forger

import (
	"encoding/binary"
	"os"
	"testing"

	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	Init()
	os.Exit(m.Run())
}

func testPubkey(b byte) types.Pubkey {
	var p types.Pubkey
	p[0] = b
	return p
}

var (
	testMaster   = testPubkey(1)
	testFollower = testPubkey(2)
	testMint     = testPubkey(3)
	testPool     = testPubkey(4)
)

var (
	pumpFunBuyDisc  = []byte{0x66, 0x06, 0x3d, 0x12, 0x01, 0xda, 0xeb, 0xea}
	pumpFunSellDisc = []byte{0x33, 0xe6, 0x85, 0xa4, 0x01, 0x7f, 0x83, 0xad}
	clmmSwapDisc    = []byte{0xf8, 0xc6, 0x9e, 0x91, 0xe1, 0x75, 0x87, 0xc8}
)

// 主账户的 WSOL 关联账户：wrap SOL 注资转账的目标
var masterWSOLATA = mustDeriveATA(testMaster, consts.WSOLMint)

func mustDeriveATA(owner, mint types.Pubkey) types.Pubkey {
	ata, err := protocol.DeriveAssociatedTokenAccount(owner, mint)
	if err != nil {
		panic(err)
	}
	return ata
}

// coreAccounts 构造一条核心指令的账户列表：主钱包 + 池子侧账户
func coreAccounts(extra ...domain.AccountMeta) []domain.AccountMeta {
	accounts := []domain.AccountMeta{
		{Pubkey: testPool, IsWritable: true},
		{Pubkey: testMaster, IsSigner: true, IsWritable: true},
	}
	return append(accounts, extra...)
}

// buildIntent 构造一个带完整伴随指令的 TradeIntent：
// compute budget（应跳过）→ 建 ATA → wrap SOL 注资 → 核心指令
func buildIntent(tradeType domain.TradeType, program types.Pubkey, coreData []byte, accounts []domain.AccountMeta) *domain.TradeIntent {
	var sig types.Signature
	sig[0] = 9

	transferData := make([]byte, 12)
	binary.LittleEndian.PutUint32(transferData[:4], 2)
	binary.LittleEndian.PutUint64(transferData[4:12], 7_777_777_777) // 主账户自己的注资额

	coreIx := &domain.AdaptedInstruction{
		IxIndex: 3, ProgramID: program, Accounts: accounts, Data: coreData,
	}

	tx := &domain.MasterTransaction{
		Signature: sig,
		Signers:   []types.Pubkey{testMaster},
		Instructions: []*domain.AdaptedInstruction{
			{IxIndex: 0, ProgramID: consts.ComputeBudgetProgram,
				Accounts: []domain.AccountMeta{}, Data: []byte{2, 0, 0, 0, 0}},
			{IxIndex: 1, ProgramID: consts.AssociatedTokenProgram,
				Accounts: []domain.AccountMeta{
					{Pubkey: testMaster, IsSigner: true, IsWritable: true},
					{Pubkey: testMint},
				}, Data: []byte{1}},
			{IxIndex: 2, ProgramID: consts.SystemProgram,
				Accounts: []domain.AccountMeta{
					{Pubkey: testMaster, IsSigner: true, IsWritable: true},
					{Pubkey: masterWSOLATA, IsWritable: true},
				}, Data: transferData},
			coreIx,
		},
	}

	inputMint, outputMint := consts.NativeSOLMint, testMint
	inputRaw, outputRaw := uint64(2_000_000_000), uint64(10_000_000)
	if tradeType == domain.TradeSell {
		inputMint, outputMint = outputMint, inputMint
		inputRaw, outputRaw = outputRaw, inputRaw
	}

	return &domain.TradeIntent{
		Master:          testMaster,
		Signature:       sig,
		TradeType:       tradeType,
		InputMint:       inputMint,
		OutputMint:      outputMint,
		InputAmountRaw:  inputRaw,
		OutputAmountRaw: outputRaw,
		CloningTarget: &domain.CoreInstructionDescriptor{
			ProgramID:   program,
			Accounts:    accounts,
			Data:        coreData,
			SourceIndex: 3,
		},
		Tx: tx,
	}
}

func buyParams(spend uint64) *protocol.TradeParams {
	return &protocol.TradeParams{
		TradeType:       domain.TradeBuy,
		Master:          testMaster,
		Follower:        testFollower,
		InputMint:       consts.NativeSOLMint,
		OutputMint:      testMint,
		SpendLamports:   spend,
		SlippageBps:     100,
		MasterInputRaw:  2_000_000_000,
		MasterOutputRaw: 10_000_000,
	}
}

func TestBuildForFollower_PumpFunBuy(t *testing.T) {
	srcData := protocol.EmitTier1(pumpFunBuyDisc, 10_000_000, 2_020_000_000)
	intent := buildIntent(domain.TradeBuy, consts.PumpFunProgram, srcData, coreAccounts())
	params := buyParams(1_000_000_000)

	set, err := NewForger().BuildForFollower(intent, testFollower, params)
	require.NoError(t, err)
	require.GreaterOrEqual(t, set.CoreIndex, 0)

	core := set.Instructions[set.CoreIndex]
	assert.Equal(t, consts.PumpFunProgram, core.ProgramID)

	// Tier-1 全新编码：预期 token 量按比例推算，成本上界按滑点放宽
	require.Len(t, core.Data, 24)
	assert.Equal(t, pumpFunBuyDisc, core.Data[:8])
	assert.Equal(t, uint64(5_000_000), binary.LittleEndian.Uint64(core.Data[8:16]))     // 1 SOL × (10M/2SOL)
	assert.Equal(t, uint64(1_010_000_000), binary.LittleEndian.Uint64(core.Data[16:24])) // 1 SOL × 1.01

	// 主钱包被替换为跟单者，强制 signer + writable
	foundFollower := false
	for _, meta := range core.Accounts {
		assert.NotEqual(t, testMaster, meta.Pubkey, "master wallet must not survive substitution")
		if meta.Pubkey == testFollower {
			foundFollower = true
			assert.True(t, meta.IsSigner)
			assert.True(t, meta.IsWritable)
		}
	}
	assert.True(t, foundFollower)
}

func TestBuildForFollower_PumpFunSell(t *testing.T) {
	srcData := protocol.EmitTier1(pumpFunSellDisc, 10_000_000, 1_900_000_000)
	intent := buildIntent(domain.TradeSell, consts.PumpFunProgram, srcData, coreAccounts())
	params := &protocol.TradeParams{
		TradeType:       domain.TradeSell,
		Master:          testMaster,
		Follower:        testFollower,
		InputMint:       testMint,
		OutputMint:      consts.NativeSOLMint,
		SellAmountRaw:   4_000_000, // 跟单者的全量持仓
		SlippageBps:     200,
		MasterInputRaw:  10_000_000,
		MasterOutputRaw: 2_000_000_000,
	}

	set, err := NewForger().BuildForFollower(intent, testFollower, params)
	require.NoError(t, err)

	core := set.Instructions[set.CoreIndex]
	require.Len(t, core.Data, 24)
	assert.Equal(t, pumpFunSellDisc, core.Data[:8])
	// 卖出量 = 跟单者自己的全量持仓，而不是主账户的量
	assert.Equal(t, uint64(4_000_000), binary.LittleEndian.Uint64(core.Data[8:16]))
	// 最小所得 = 按比例预期 × (1 - 2%)
	expected := protocol.ApplySlippageDown(params.ExpectedOutput(4_000_000), 200)
	assert.Equal(t, expected, binary.LittleEndian.Uint64(core.Data[16:24]))
}

func TestBuildForFollower_Tier2PatchPreservesUnknownBytes(t *testing.T) {
	// CLMM swap：amount@8 + threshold@16 + 未建模的 sqrt_price_limit u128 @24 + is_base_input @40
	srcData := make([]byte, 41)
	copy(srcData, clmmSwapDisc)
	binary.LittleEndian.PutUint64(srcData[8:16], 2_000_000_000)
	binary.LittleEndian.PutUint64(srcData[16:24], 9_800_000)
	for i := 24; i < 41; i++ {
		srcData[i] = byte(i) // 未建模字段的哨兵字节
	}

	intent := buildIntent(domain.TradeBuy, consts.RaydiumCLMMProgram, srcData, coreAccounts())
	params := buyParams(500_000_000)

	set, err := NewForger().BuildForFollower(intent, testFollower, params)
	require.NoError(t, err)

	core := set.Instructions[set.CoreIndex]
	require.Len(t, core.Data, 41)
	assert.Equal(t, uint64(500_000_000), binary.LittleEndian.Uint64(core.Data[8:16]))
	expected := protocol.ApplySlippageDown(params.ExpectedOutput(500_000_000), 100)
	assert.Equal(t, expected, binary.LittleEndian.Uint64(core.Data[16:24]))
	// 补丁之外逐字节保留
	assert.Equal(t, srcData[24:], core.Data[24:])
	assert.Equal(t, srcData[:8], core.Data[:8])
}

func TestBuildForFollower_UnknownProgramHeuristic(t *testing.T) {
	unknownProgram := testPubkey(77)
	srcData := make([]byte, 24)
	binary.LittleEndian.PutUint64(srcData[8:16], 1_500_000_000) // 量级合理的金额槽位

	intent := buildIntent(domain.TradeBuy, unknownProgram, srcData, coreAccounts())
	params := buyParams(300_000_000)

	set, err := NewForger().BuildForFollower(intent, testFollower, params)
	require.NoError(t, err)

	core := set.Instructions[set.CoreIndex]
	assert.Equal(t, uint64(300_000_000), binary.LittleEndian.Uint64(core.Data[8:16]))
}

func TestBuildForFollower_CompanionsClonedInOrder(t *testing.T) {
	srcData := protocol.EmitTier1(pumpFunBuyDisc, 1, 1)
	intent := buildIntent(domain.TradeBuy, consts.PumpFunProgram, srcData, coreAccounts())
	params := buyParams(1_000_000_000)

	set, err := NewForger().BuildForFollower(intent, testFollower, params)
	require.NoError(t, err)

	// compute budget 被跳过：建 ATA、wrap 注资、核心指令共 3 条
	require.Len(t, set.Instructions, 3)
	assert.Equal(t, consts.AssociatedTokenProgram, set.Instructions[0].ProgramID)
	assert.Equal(t, consts.SystemProgram, set.Instructions[1].ProgramID)
	assert.Equal(t, 2, set.CoreIndex)

	// System transfer 的注资额改成跟单者自己的预算
	transfer := set.Instructions[1]
	require.Len(t, transfer.Data, 12)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(transfer.Data[:4]))
	assert.Equal(t, uint64(1_000_000_000), binary.LittleEndian.Uint64(transfer.Data[4:12]))

	// 伴随指令中的主钱包同样被替换
	for _, meta := range set.Instructions[0].Accounts {
		assert.NotEqual(t, testMaster, meta.Pubkey)
	}
}

func TestBuildForFollower_TipTransferNotRebased(t *testing.T) {
	srcData := protocol.EmitTier1(pumpFunBuyDisc, 1, 1)
	intent := buildIntent(domain.TradeBuy, consts.PumpFunProgram, srcData, coreAccounts())

	// 主交易附带一笔给第三方（验证者小费等）的 System transfer
	tipAccount := testPubkey(90)
	tipData := make([]byte, 12)
	binary.LittleEndian.PutUint32(tipData[:4], 2)
	binary.LittleEndian.PutUint64(tipData[4:12], 1_000_000)
	intent.Tx.Instructions = append(intent.Tx.Instructions, &domain.AdaptedInstruction{
		IxIndex: 4, ProgramID: consts.SystemProgram,
		Accounts: []domain.AccountMeta{
			{Pubkey: testMaster, IsSigner: true, IsWritable: true},
			{Pubkey: tipAccount, IsWritable: true},
		}, Data: tipData,
	})

	set, err := NewForger().BuildForFollower(intent, testFollower, buyParams(1_000_000_000))
	require.NoError(t, err)
	require.Len(t, set.Instructions, 4)

	// wrap 注资转账改成跟单者预算，第三方转账金额原样保留
	wrapTransfer := set.Instructions[1]
	assert.Equal(t, uint64(1_000_000_000), binary.LittleEndian.Uint64(wrapTransfer.Data[4:12]))

	tipTransfer := set.Instructions[3]
	assert.Equal(t, tipAccount, tipTransfer.Accounts[1].Pubkey)
	assert.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(tipTransfer.Data[4:12]))
}

func TestBuildForFollower_UserDerivedAccountRederived(t *testing.T) {
	masterAcc, err := protocol.DeriveProgramAddress(
		[][]byte{[]byte("user_volume_accumulator"), testMaster[:]}, consts.PumpFunProgram)
	require.NoError(t, err)
	followerAcc, err := protocol.DeriveProgramAddress(
		[][]byte{[]byte("user_volume_accumulator"), testFollower[:]}, consts.PumpFunProgram)
	require.NoError(t, err)

	srcData := protocol.EmitTier1(pumpFunBuyDisc, 1, 1)
	accounts := coreAccounts(domain.AccountMeta{Pubkey: masterAcc, IsWritable: true})
	intent := buildIntent(domain.TradeBuy, consts.PumpFunProgram, srcData, accounts)

	set, err := NewForger().BuildForFollower(intent, testFollower, buyParams(1_000_000_000))
	require.NoError(t, err)

	core := set.Instructions[set.CoreIndex]
	foundRederived := false
	for _, meta := range core.Accounts {
		assert.NotEqual(t, masterAcc, meta.Pubkey, "master-derived PDA must be rederived")
		if meta.Pubkey == followerAcc {
			foundRederived = true
		}
	}
	assert.True(t, foundRederived)
}

func TestBuildForgingMap(t *testing.T) {
	srcData := protocol.EmitTier1(pumpFunBuyDisc, 1, 1)
	intent := buildIntent(domain.TradeBuy, consts.PumpFunProgram, srcData, coreAccounts())

	// 主账户在交易中用了一个非 ATA 的临时 token 账户
	tempAccount := testPubkey(88)
	intent.Tx.TokenBalances = map[types.Pubkey]*domain.TokenBalance{
		tempAccount: {TokenAccount: tempAccount, Mint: testMint, Owner: testMaster},
	}

	fm, err := buildForgingMap(intent, testFollower)
	require.NoError(t, err)

	// 钱包映射
	assert.Equal(t, testFollower, fm.Resolve(testMaster))

	// ATA 映射：同一推导规则，仅 owner 不同
	masterATA, err := protocol.DeriveAssociatedTokenAccount(testMaster, testMint)
	require.NoError(t, err)
	followerATA, err := protocol.DeriveAssociatedTokenAccount(testFollower, testMint)
	require.NoError(t, err)
	assert.Equal(t, followerATA, fm.Resolve(masterATA))

	// 实际使用的非 ATA 账户归并到跟单者 ATA
	assert.Equal(t, followerATA, fm.Resolve(tempAccount))

	// 共享账户（池子等）原样放行
	assert.Equal(t, testPool, fm.Resolve(testPool))
}

func TestSubstituteAccounts_RoleRules(t *testing.T) {
	programSigner := testPubkey(60) // 程序侧签名者（PDA 签名），必须保留 signer 位
	fm := &ForgingMap{subs: map[types.Pubkey]types.Pubkey{testMaster: testFollower}}
	readOnly := map[types.Pubkey]struct{}{consts.TokenProgram: {}}

	accounts := []domain.AccountMeta{
		{Pubkey: testMaster, IsSigner: true, IsWritable: true},
		{Pubkey: programSigner, IsSigner: true, IsWritable: false},
		{Pubkey: consts.TokenProgram, IsSigner: false, IsWritable: true}, // 源标记错误
		{Pubkey: testPool, IsSigner: false, IsWritable: true},
	}
	substituteAccounts(accounts, fm, nil, readOnly, testFollower)

	// 跟单者强制 signer + writable
	assert.Equal(t, testFollower, accounts[0].Pubkey)
	assert.True(t, accounts[0].IsSigner)
	assert.True(t, accounts[0].IsWritable)

	// 程序侧签名者的 signer 位保留
	assert.Equal(t, programSigner, accounts[1].Pubkey)
	assert.True(t, accounts[1].IsSigner)

	// 强制只读集覆盖源指令的错误标记
	assert.False(t, accounts[2].IsWritable)

	// 普通池子账户原样
	assert.Equal(t, testPool, accounts[3].Pubkey)
	assert.True(t, accounts[3].IsWritable)
}
