package orchestrator

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"copy-trader-sol/internal/cache"
	"copy-trader-sol/internal/consts"
	"copy-trader-sol/internal/gateway"
	"copy-trader-sol/internal/logic/detective"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/logic/forger"
	"copy-trader-sol/internal/logic/forger/protocol"
	"copy-trader-sol/internal/notifier"
	"copy-trader-sol/internal/store"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	forger.Init()
	os.Exit(m.Run())
}

func testPubkey(b byte) types.Pubkey {
	var p types.Pubkey
	p[0] = b
	return p
}

func testSignature(b byte) types.Signature {
	var s types.Signature
	s[0] = b
	return s
}

var (
	masterWallet   = testPubkey(1)
	followerWallet = testPubkey(2)
	tradedMint     = testPubkey(3)
)

// ---- 测试替身 ----

type fakeGateway struct {
	mu sync.Mutex

	fetchTx    *domain.MasterTransaction
	fetchCalls int

	balances map[types.Pubkey]uint64 // mint -> 余额

	submitErr  error
	submitted  []*gateway.SubmitRequest
	confirmErr error

	serializedSubmits int
}

func (g *fakeGateway) RecentSignatures(context.Context, types.Pubkey, int) ([]types.Signature, error) {
	return nil, nil
}

func (g *fakeGateway) FetchTransaction(context.Context, types.Signature) (*domain.MasterTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	return g.fetchTx, nil
}

func (g *fakeGateway) LatestBlockhash(context.Context) (types.Hash, error) {
	return types.Hash{}, nil
}

func (g *fakeGateway) ResolveLookupTable(context.Context, types.Pubkey) ([]types.Pubkey, error) {
	return nil, nil
}

func (g *fakeGateway) TokenBalance(_ context.Context, _, mint types.Pubkey) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[mint], nil
}

func (g *fakeGateway) Submit(_ context.Context, req *gateway.SubmitRequest) (types.Signature, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return types.Signature{}, g.submitErr
	}
	g.submitted = append(g.submitted, req)
	return testSignature(200), nil
}

func (g *fakeGateway) AwaitConfirmation(context.Context, types.Signature, time.Duration) error {
	return g.confirmErr
}

func (g *fakeGateway) SubmitSerialized(context.Context, []byte, vault.SigningIdentity) (types.Signature, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.serializedSubmits++
	return testSignature(201), nil
}

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submitted)
}

type fakeRouter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeRouter) BuildSwap(_ context.Context, _ types.Pubkey, _, _ types.Pubkey, _ uint64, _ uint32) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte{1, 2, 3}, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	successes []*notifier.CopyResult
	failures  []*notifier.CopyResult
}

func (n *fakeNotifier) NotifyCopySuccess(_ context.Context, r *notifier.CopyResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, r)
}

func (n *fakeNotifier) NotifyCopyFailure(_ context.Context, r *notifier.CopyResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, r)
}

type fakeIdentity struct {
	pubkey types.Pubkey
}

func (id *fakeIdentity) PublicKey() types.Pubkey { return id.pubkey }
func (id *fakeIdentity) Label() string           { return "test-wallet" }
func (id *fakeIdentity) Sign([]byte) ([]byte, error) {
	return make([]byte, 64), nil
}

type fakeVault struct {
	identities map[int64]vault.SigningIdentity
}

func (v *fakeVault) GetSigningIdentity(followerID int64) (vault.SigningIdentity, error) {
	id, ok := v.identities[followerID]
	if !ok {
		return nil, vault.ErrWalletMissing
	}
	return id, nil
}

// ---- 测试装配 ----

type testHarness struct {
	orch     *Orchestrator
	gw       *fakeGateway
	router   *fakeRouter
	ledger   *store.MemoryLedgerStore
	notifier *fakeNotifier
	cache    *cache.BlockhashCache
	follower *domain.Follower
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	gw := &fakeGateway{balances: make(map[types.Pubkey]uint64)}
	router := &fakeRouter{}
	ledger := store.NewMemoryLedgerStore()
	n := &fakeNotifier{}
	bh := cache.NewBlockhashCache(func(context.Context) (types.Hash, error) {
		return types.Hash{}, nil
	}, time.Minute)

	follower := &domain.Follower{
		ID:     7,
		Wallet: followerWallet,
		Label:  "alpha",
		Settings: domain.FollowerSettings{
			FollowerID:        7,
			BuyAmountLamports: 1_000_000_000,
			SlippageBps:       100,
		},
	}
	ledger.AddFollowing(masterWallet, follower)

	v := &fakeVault{identities: map[int64]vault.SigningIdentity{
		follower.ID: &fakeIdentity{pubkey: followerWallet},
	}}

	orch := NewOrchestrator(
		detective.NewAnalyzer(0),
		forger.NewForger(),
		gw, router, ledger, v, n, bh,
		Config{ConfirmTimeout: time.Second},
	)
	return &testHarness{
		orch: orch, gw: gw, router: router, ledger: ledger,
		notifier: n, cache: bh, follower: follower,
	}
}

var pumpFunBuyDisc = []byte{0x66, 0x06, 0x3d, 0x12, 0x01, 0xda, 0xeb, 0xea}
var pumpFunSellDisc = []byte{0x33, 0xe6, 0x85, 0xa4, 0x01, 0x7f, 0x83, 0xad}

// testIntent 构造最小可克隆的 TradeIntent：单条 Pump.fun 核心指令。
func testIntent(tradeType domain.TradeType, sigByte byte) *domain.TradeIntent {
	disc := pumpFunBuyDisc
	inputMint, outputMint := consts.NativeSOLMint, tradedMint
	inputRaw, outputRaw := uint64(2_000_000_000), uint64(10_000_000)
	if tradeType == domain.TradeSell {
		disc = pumpFunSellDisc
		inputMint, outputMint = outputMint, inputMint
		inputRaw, outputRaw = outputRaw, inputRaw
	}

	accounts := []domain.AccountMeta{
		{Pubkey: testPubkey(40), IsWritable: true}, // bonding curve
		{Pubkey: masterWallet, IsSigner: true, IsWritable: true},
	}
	core := &domain.CoreInstructionDescriptor{
		ProgramID:   consts.PumpFunProgram,
		Accounts:    accounts,
		Data:        protocol.EmitTier1(disc, inputRaw, outputRaw),
		SourceIndex: 0,
	}

	sig := testSignature(sigByte)
	return &domain.TradeIntent{
		Master:          masterWallet,
		Signature:       sig,
		TradeType:       tradeType,
		InputMint:       inputMint,
		OutputMint:      outputMint,
		Platform:        consts.PlatformPumpFun,
		InputAmountRaw:  inputRaw,
		OutputAmountRaw: outputRaw,
		CloningTarget:   core,
		Tx: &domain.MasterTransaction{
			Signature:            sig,
			Signers:              []types.Pubkey{masterWallet},
			ComputeUnitsConsumed: 200_000,
			Instructions: []*domain.AdaptedInstruction{
				{IxIndex: 0, ProgramID: core.ProgramID, Accounts: accounts, Data: core.Data},
			},
		},
	}
}

// ---- 流程测试 ----

func TestExecuteIntent_BuyHappyPath(t *testing.T) {
	h := newHarness(t)
	h.gw.balances[tradedMint] = 4_800_000 // 确认后的链上到账量

	err := h.orch.ExecuteIntent(context.Background(), testIntent(domain.TradeBuy, 10))
	require.NoError(t, err)

	require.Equal(t, 1, h.gw.submitCount())
	req := h.gw.submitted[0]
	// 预算推导：主交易消耗 200k × 1.3
	assert.Equal(t, uint32(260_000), req.ComputeUnitLimit)
	assert.Equal(t, followerWallet, req.Signer.PublicKey())

	// 持仓按链上实际到账记录
	pos, err := h.ledger.GetPosition(context.Background(), h.follower.ID, tradedMint)
	require.NoError(t, err)
	assert.True(t, pos.Active)
	assert.Equal(t, uint64(4_800_000), pos.AmountRaw)
	assert.Equal(t, uint64(1_000_000_000), pos.SolSpent)

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	require.Len(t, h.notifier.successes, 1)
	assert.False(t, h.notifier.successes[0].ViaFallback)
	assert.Empty(t, h.notifier.failures)
}

func TestExecuteIntent_BuySkippedWhenPositionActive(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.SavePosition(context.Background(), &domain.Position{
		FollowerID: h.follower.ID, Mint: tradedMint, AmountRaw: 1, Active: true,
	}))

	err := h.orch.ExecuteIntent(context.Background(), testIntent(domain.TradeBuy, 11))
	require.NoError(t, err)

	// 已持仓不重复建仓：不提交、不通知
	assert.Equal(t, 0, h.gw.submitCount())
	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	assert.Empty(t, h.notifier.successes)
	assert.Empty(t, h.notifier.failures)
}

func TestExecuteIntent_BuySkippedWithoutBudget(t *testing.T) {
	h := newHarness(t)
	h.follower.Settings.BuyAmountLamports = 0

	err := h.orch.ExecuteIntent(context.Background(), testIntent(domain.TradeBuy, 12))
	require.NoError(t, err)
	assert.Equal(t, 0, h.gw.submitCount())
}

func TestExecuteIntent_SellUsesRecordedPosition(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.SavePosition(context.Background(), &domain.Position{
		FollowerID: h.follower.ID, Mint: tradedMint, AmountRaw: 5_000_000, Active: true,
	}))

	err := h.orch.ExecuteIntent(context.Background(), testIntent(domain.TradeSell, 13))
	require.NoError(t, err)

	require.Equal(t, 1, h.gw.submitCount())
	coreData := h.gw.submitted[0].Instructions[0].Data
	require.Len(t, coreData, 24)
	// 卖出量 = 台账全量持仓
	assert.Equal(t, uint64(5_000_000), binary.LittleEndian.Uint64(coreData[8:16]))

	// 确认后仓位关闭
	pos, err := h.ledger.GetPosition(context.Background(), h.follower.ID, tradedMint)
	require.NoError(t, err)
	assert.False(t, pos.Active)
}

func TestExecuteIntent_SellFallsBackToChainBalance(t *testing.T) {
	h := newHarness(t)
	// 台账数量为 0（历史数据缺失），回退链上余额
	require.NoError(t, h.ledger.SavePosition(context.Background(), &domain.Position{
		FollowerID: h.follower.ID, Mint: tradedMint, AmountRaw: 0, Active: true,
	}))
	h.gw.balances[tradedMint] = 7_000_000

	err := h.orch.ExecuteIntent(context.Background(), testIntent(domain.TradeSell, 14))
	require.NoError(t, err)

	require.Equal(t, 1, h.gw.submitCount())
	coreData := h.gw.submitted[0].Instructions[0].Data
	assert.Equal(t, uint64(7_000_000), binary.LittleEndian.Uint64(coreData[8:16]))
}

func TestExecuteIntent_SellWithoutRecordUsesChainBalance(t *testing.T) {
	h := newHarness(t)
	// 无台账记录（历史建仓未入账），但链上实际持有
	h.gw.balances[tradedMint] = 7_000_000

	err := h.orch.ExecuteIntent(context.Background(), testIntent(domain.TradeSell, 15))
	require.NoError(t, err)

	require.Equal(t, 1, h.gw.submitCount())
	coreData := h.gw.submitted[0].Instructions[0].Data
	assert.Equal(t, uint64(7_000_000), binary.LittleEndian.Uint64(coreData[8:16]))

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	require.Len(t, h.notifier.successes, 1)
}

func TestExecuteIntent_SellWithoutRecordOrBalanceSkipped(t *testing.T) {
	h := newHarness(t)

	err := h.orch.ExecuteIntent(context.Background(), testIntent(domain.TradeSell, 23))
	require.NoError(t, err)
	assert.Equal(t, 0, h.gw.submitCount())
	assert.Equal(t, 0, h.router.calls)
}

func TestExecuteIntent_SellInactivePositionSkipped(t *testing.T) {
	h := newHarness(t)
	// 已卖出过的仓位不再跟，即使链上还有余额
	require.NoError(t, h.ledger.SavePosition(context.Background(), &domain.Position{
		FollowerID: h.follower.ID, Mint: tradedMint, AmountRaw: 0, Active: false,
	}))
	h.gw.balances[tradedMint] = 7_000_000

	err := h.orch.ExecuteIntent(context.Background(), testIntent(domain.TradeSell, 24))
	require.NoError(t, err)
	assert.Equal(t, 0, h.gw.submitCount())
}

func TestExecuteIntent_BuyFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.gw.submitErr = errors.New("blockhash not found")
	intent := testIntent(domain.TradeBuy, 16)

	err := h.orch.ExecuteIntent(context.Background(), intent)
	require.NoError(t, err) // 单跟单者失败不向上冒泡

	// 买入失败不走兜底路由
	assert.Equal(t, 0, h.router.calls)
	assert.Equal(t, 0, h.gw.serializedSubmits)

	h.notifier.mu.Lock()
	require.Len(t, h.notifier.failures, 1)
	assert.Contains(t, h.notifier.failures[0].FailReason, "blockhash not found")
	h.notifier.mu.Unlock()

	// 失败记忆：同纪元内不再重试
	_, epoch := h.cache.Current()
	assert.True(t, h.orch.failures.Seen(epoch, h.follower.ID, intent.Signature))
}

func TestExecuteIntent_SellFailureUsesAggregatorFallback(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.SavePosition(context.Background(), &domain.Position{
		FollowerID: h.follower.ID, Mint: tradedMint, AmountRaw: 5_000_000, Active: true,
	}))
	h.gw.submitErr = errors.New("account in use")

	err := h.orch.ExecuteIntent(context.Background(), testIntent(domain.TradeSell, 17))
	require.NoError(t, err)

	// 直接克隆失败 → 聚合器构造 → 序列化提交
	assert.Equal(t, 1, h.router.calls)
	assert.Equal(t, 1, h.gw.serializedSubmits)

	pos, err := h.ledger.GetPosition(context.Background(), h.follower.ID, tradedMint)
	require.NoError(t, err)
	assert.False(t, pos.Active)

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	require.Len(t, h.notifier.successes, 1)
	assert.True(t, h.notifier.successes[0].ViaFallback)
	assert.Empty(t, h.notifier.failures)
}

func TestExecuteIntent_FailureMemorySkipsRetrySameEpoch(t *testing.T) {
	h := newHarness(t)
	intent := testIntent(domain.TradeBuy, 18)

	_, epoch := h.cache.Current()
	h.orch.failures.Remember(epoch, h.follower.ID, intent.Signature)

	require.NoError(t, h.orch.ExecuteIntent(context.Background(), intent))
	assert.Equal(t, 0, h.gw.submitCount())

	// blockhash 轮换后失败记忆清理，允许重试
	var rotated types.Hash
	rotated[0] = 1
	require.True(t, h.cache.Update(rotated))
	require.NoError(t, h.orch.ExecuteIntent(context.Background(), intent))
	assert.Equal(t, 1, h.gw.submitCount())
}

func TestExecuteIntent_BusyFollowerSkipped(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.orch.locks.Acquire(h.follower.ID))
	defer h.orch.locks.Release(h.follower.ID)

	require.NoError(t, h.orch.ExecuteIntent(context.Background(), testIntent(domain.TradeBuy, 19)))
	assert.Equal(t, 0, h.gw.submitCount())
}

func TestHandleSignature_DuplicateSignatureFetchedOnce(t *testing.T) {
	h := newHarness(t)
	sig := testSignature(20)
	// 链上失败交易：识别阶段拒绝，但签名仍标记已处理
	h.gw.fetchTx = &domain.MasterTransaction{Signature: sig, Failed: true}

	require.NoError(t, h.orch.HandleSignature(context.Background(), masterWallet, sig))
	require.NoError(t, h.orch.HandleSignature(context.Background(), masterWallet, sig))

	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	assert.Equal(t, 1, h.gw.fetchCalls)
}

// analyzableBuyTx 构造一笔识别阶段能通过的完整买入交易：
// Pump.fun 核心指令 + 主钱包 SOL 减少 + token 增加。
func analyzableBuyTx(sig types.Signature) *domain.MasterTransaction {
	masterToken := testPubkey(50)
	accounts := []domain.AccountMeta{
		{Pubkey: testPubkey(40), IsWritable: true},
		{Pubkey: masterWallet, IsSigner: true, IsWritable: true},
	}
	return &domain.MasterTransaction{
		Signature:            sig,
		Signers:              []types.Pubkey{masterWallet},
		ComputeUnitsConsumed: 200_000,
		Instructions: []*domain.AdaptedInstruction{
			{IxIndex: 0, ProgramID: consts.PumpFunProgram, Accounts: accounts,
				Data: protocol.EmitTier1(pumpFunBuyDisc, 10_000_000, 2_020_000_000)},
		},
		SolBalances: map[types.Pubkey]*domain.SolBalance{
			masterWallet: {Account: masterWallet, PreBalance: 3_000_000_000, PostBalance: 1_000_000_000},
		},
		TokenBalances: map[types.Pubkey]*domain.TokenBalance{
			masterToken: {TokenAccount: masterToken, Mint: tradedMint, Owner: masterWallet,
				PreBalance: 0, PostBalance: 10_000_000},
		},
	}
}

func TestHandleSignature_ConcurrentDuplicateSubmitsOnce(t *testing.T) {
	h := newHarness(t)
	sig := testSignature(22)
	h.gw.fetchTx = analyzableBuyTx(sig)

	// 同一签名并发到达（轮询 + geyser 双通道场景），只允许一次提交
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.orch.HandleSignature(context.Background(), masterWallet, sig))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.gw.submitCount())
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	assert.Equal(t, 1, h.gw.fetchCalls)
}

func TestHandleTransaction_SkipsRpcFetch(t *testing.T) {
	h := newHarness(t)
	sig := testSignature(21)
	tx := &domain.MasterTransaction{Signature: sig, Failed: true}

	require.NoError(t, h.orch.HandleTransaction(context.Background(), masterWallet, tx))

	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	assert.Equal(t, 0, h.gw.fetchCalls)
}

// ---- 组件测试 ----

func TestComputeUnitLimit(t *testing.T) {
	tests := []struct {
		name     string
		consumed uint64
		want     uint32
	}{
		{"未知消耗走静态上限", 0, 600_000},
		{"已知消耗乘安全系数", 1_000_000, 1_300_000},
		{"封顶链上硬上限", 1_200_000, 1_400_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, computeUnitLimit(tt.consumed))
		})
	}
}

func TestFollowerLocks_TTLForceRelease(t *testing.T) {
	locks := newFollowerLocks(20 * time.Millisecond)

	require.True(t, locks.Acquire(1))
	assert.False(t, locks.Acquire(1))

	// 超 TTL 视为泄漏，强制回收
	time.Sleep(30 * time.Millisecond)
	assert.True(t, locks.Acquire(1))
}

func TestInflightRegistry(t *testing.T) {
	reg := newInflightRegistry()
	sig := testSignature(30)

	require.True(t, reg.TryAcquire(sig))
	assert.False(t, reg.TryAcquire(sig))

	reg.Release(sig)
	assert.True(t, reg.TryAcquire(sig))
}

func TestFailureMemory_PruneKeepsCurrentEpoch(t *testing.T) {
	m := newFailureMemory()
	sig := testSignature(31)

	m.Remember(1, 7, sig)
	m.Remember(2, 8, sig)
	require.Equal(t, 2, m.Len())

	m.Prune(2)
	assert.False(t, m.Seen(2, 7, sig), "旧纪元记录应被清理")
	assert.True(t, m.Seen(2, 8, sig))
	assert.Equal(t, 1, m.Len())
}
