package watcher

import (
	"context"
	"testing"
	"time"

	"copy-trader-sol/internal/gateway"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/store"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

// sigGateway 只提供签名列表，其余接口不参与轮询测试。
type sigGateway struct {
	sigs []types.Signature
}

func (g *sigGateway) RecentSignatures(context.Context, types.Pubkey, int) ([]types.Signature, error) {
	return g.sigs, nil
}

func (g *sigGateway) FetchTransaction(context.Context, types.Signature) (*domain.MasterTransaction, error) {
	return nil, nil
}

func (g *sigGateway) LatestBlockhash(context.Context) (types.Hash, error) {
	return types.Hash{}, nil
}

func (g *sigGateway) ResolveLookupTable(context.Context, types.Pubkey) ([]types.Pubkey, error) {
	return nil, nil
}

func (g *sigGateway) TokenBalance(context.Context, types.Pubkey, types.Pubkey) (uint64, error) {
	return 0, nil
}

func (g *sigGateway) Submit(context.Context, *gateway.SubmitRequest) (types.Signature, error) {
	return types.Signature{}, nil
}

func (g *sigGateway) AwaitConfirmation(context.Context, types.Signature, time.Duration) error {
	return nil
}

func (g *sigGateway) SubmitSerialized(context.Context, []byte, vault.SigningIdentity) (types.Signature, error) {
	return types.Signature{}, nil
}

func newTestWatcher(gw *sigGateway, handler SignatureHandler) (*PollingWatcher, types.Pubkey) {
	master := testPubkey(1)
	ledger := store.NewMemoryLedgerStore()
	ledger.AddFollowing(master, &domain.Follower{ID: 1, Wallet: testPubkey(2)})
	return NewPollingWatcher(gw, ledger, handler, 1000, 20), master
}

func TestPollMaster_FirstPollOnlyEstablishesCursor(t *testing.T) {
	gw := &sigGateway{sigs: []types.Signature{testSignature(30), testSignature(29)}}

	var handled []types.Signature
	w, master := newTestWatcher(gw, func(_ context.Context, _ types.Pubkey, sig types.Signature) error {
		handled = append(handled, sig)
		return nil
	})

	// 首次轮询不回放历史，只记游标
	require.NoError(t, w.pollMaster(context.Background(), master))
	assert.Empty(t, handled)
	assert.Equal(t, testSignature(30), w.cursors[master])
}

func TestPollMaster_ReplaysFreshSignaturesOldestFirst(t *testing.T) {
	gw := &sigGateway{sigs: []types.Signature{testSignature(30)}}

	var handled []types.Signature
	w, master := newTestWatcher(gw, func(_ context.Context, _ types.Pubkey, sig types.Signature) error {
		handled = append(handled, sig)
		return nil
	})
	require.NoError(t, w.pollMaster(context.Background(), master))

	// 出现两笔新交易（RPC 按新→旧返回），应按旧→新回放
	gw.sigs = []types.Signature{testSignature(32), testSignature(31), testSignature(30)}
	require.NoError(t, w.pollMaster(context.Background(), master))

	require.Len(t, handled, 2)
	assert.Equal(t, testSignature(31), handled[0])
	assert.Equal(t, testSignature(32), handled[1])
	assert.Equal(t, testSignature(32), w.cursors[master])
}

func TestPollMaster_NoNewSignatures(t *testing.T) {
	gw := &sigGateway{sigs: []types.Signature{testSignature(30)}}

	var handled []types.Signature
	w, master := newTestWatcher(gw, func(_ context.Context, _ types.Pubkey, sig types.Signature) error {
		handled = append(handled, sig)
		return nil
	})
	require.NoError(t, w.pollMaster(context.Background(), master))
	require.NoError(t, w.pollMaster(context.Background(), master))
	assert.Empty(t, handled)
}

func TestBuildFullAccountKeys(t *testing.T) {
	k1, k2, k3 := testPubkey(1), testPubkey(2), testPubkey(3)

	keys, err := buildFullAccountKeys(
		[][]byte{k1[:]},
		[][]byte{k2[:]},
		[][]byte{k3[:]},
	)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, k1, keys[0])
	assert.Equal(t, k2, keys[1])
	assert.Equal(t, k3, keys[2])

	_, err = buildFullAccountKeys([][]byte{{1, 2, 3}}, nil, nil)
	assert.Error(t, err)
}

func TestStreamAccountFlags(t *testing.T) {
	// 静态表 5 个账户：3 签名者（末 1 个只读）+ 2 非签名（末 1 个只读），
	// lookup 扩展 2 writable + 1 readonly。
	flags := streamAccountFlags{
		numSigners:     3,
		roSigned:       1,
		roUnsigned:     1,
		staticLen:      5,
		loadedWritable: 2,
	}

	tests := []struct {
		idx      int
		signer   bool
		writable bool
	}{
		{0, true, true},
		{1, true, true},
		{2, true, false},  // 只读签名者
		{3, false, true},
		{4, false, false}, // 只读非签名
		{5, false, true},  // lookup writable
		{6, false, true},
		{7, false, false}, // lookup readonly
	}
	for _, tt := range tests {
		assert.Equal(t, tt.signer, flags.isSigner(tt.idx), "isSigner(%d)", tt.idx)
		assert.Equal(t, tt.writable, flags.isWritable(tt.idx), "isWritable(%d)", tt.idx)
	}
}

func TestFollowedSigner(t *testing.T) {
	master := testPubkey(1)
	feePayer := testPubkey(2)
	followed := map[types.Pubkey]struct{}{master: {}}

	// 主账户不一定是首位签名者（比如由第三方代付手续费）
	got, ok := followedSigner([]types.Pubkey{feePayer, master}, followed)
	require.True(t, ok)
	assert.Equal(t, master, got)

	got, ok = followedSigner([]types.Pubkey{master}, followed)
	require.True(t, ok)
	assert.Equal(t, master, got)

	// 所有签名者都不在名单内
	_, ok = followedSigner([]types.Pubkey{feePayer, testPubkey(3)}, followed)
	assert.False(t, ok)
}
