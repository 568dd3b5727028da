package cache

import (
	"context"
	"testing"
	"time"

	"copy-trader-sol/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHash(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestBlockhashCache_UpdateRotatesEpoch(t *testing.T) {
	c := NewBlockhashCache(nil, time.Minute)

	var rotations []uint64
	c.OnRotate(func(epoch uint64) {
		rotations = append(rotations, epoch)
	})

	require.True(t, c.Update(testHash(1)))
	h, epoch := c.Current()
	assert.Equal(t, testHash(1), h)
	assert.Equal(t, uint64(1), epoch)

	// 相同 blockhash 不轮换
	require.False(t, c.Update(testHash(1)))
	_, epoch = c.Current()
	assert.Equal(t, uint64(1), epoch)

	require.True(t, c.Update(testHash(2)))
	_, epoch = c.Current()
	assert.Equal(t, uint64(2), epoch)

	assert.Equal(t, []uint64{1, 2}, rotations)
}

func TestBlockhashCache_StartStopsOnStop(t *testing.T) {
	calls := make(chan struct{}, 16)
	c := NewBlockhashCache(func(context.Context) (types.Hash, error) {
		calls <- struct{}{}
		return testHash(1), nil
	}, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	// 启动即刷新一次
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("initial refresh not observed")
	}

	c.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
