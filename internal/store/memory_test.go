package store

import (
	"context"
	"testing"

	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPubkey(b byte) types.Pubkey {
	var p types.Pubkey
	p[0] = b
	return p
}

func TestMemoryLedgerStore_Following(t *testing.T) {
	s := NewMemoryLedgerStore()
	master := testPubkey(1)
	s.AddFollowing(master, &domain.Follower{ID: 1, Wallet: testPubkey(2)})
	s.AddFollowing(master, &domain.Follower{ID: 2, Wallet: testPubkey(3)})

	masters, err := s.FollowedMasters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Pubkey{master}, masters)

	followers, err := s.FollowersOfMaster(context.Background(), master)
	require.NoError(t, err)
	assert.Len(t, followers, 2)

	followers, err = s.FollowersOfMaster(context.Background(), testPubkey(9))
	require.NoError(t, err)
	assert.Empty(t, followers)
}

func TestMemoryLedgerStore_PositionLifecycle(t *testing.T) {
	s := NewMemoryLedgerStore()
	ctx := context.Background()
	mint := testPubkey(5)

	_, err := s.GetPosition(ctx, 1, mint)
	assert.ErrorIs(t, err, ErrPositionNotFound)

	require.NoError(t, s.SavePosition(ctx, &domain.Position{
		FollowerID: 1, Mint: mint, AmountRaw: 100, SolSpent: 50, Active: true,
	}))

	pos, err := s.GetPosition(ctx, 1, mint)
	require.NoError(t, err)
	assert.True(t, pos.Active)
	assert.Equal(t, uint64(100), pos.AmountRaw)

	active, err := s.ActivePositions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, s.ClosePosition(ctx, 1, mint))
	pos, err = s.GetPosition(ctx, 1, mint)
	require.NoError(t, err)
	assert.False(t, pos.Active)
	assert.Zero(t, pos.AmountRaw)

	active, err = s.ActivePositions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, s.ClosePosition(ctx, 1, testPubkey(6)), ErrPositionNotFound)
}

func TestMemoryLedgerStore_GetPositionReturnsCopy(t *testing.T) {
	s := NewMemoryLedgerStore()
	ctx := context.Background()
	mint := testPubkey(5)
	require.NoError(t, s.SavePosition(ctx, &domain.Position{
		FollowerID: 1, Mint: mint, AmountRaw: 100, Active: true,
	}))

	pos, err := s.GetPosition(ctx, 1, mint)
	require.NoError(t, err)
	pos.AmountRaw = 0 // 修改副本不影响台账

	again, err := s.GetPosition(ctx, 1, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), again.AmountRaw)
}

func TestMemoryLedgerStore_MarkProcessed(t *testing.T) {
	s := NewMemoryLedgerStore()
	ctx := context.Background()
	var sig types.Signature
	sig[0] = 7

	first, err := s.MarkProcessed(ctx, sig)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = s.MarkProcessed(ctx, sig)
	require.NoError(t, err)
	assert.False(t, first)
}
