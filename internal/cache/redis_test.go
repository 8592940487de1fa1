package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	c, err := NewClient("redis://localhost:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)
	_ = c.Close()

	_, err = NewClient("redis://%zz")
	assert.Error(t, err)
}

func TestInitRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	InitRedis(mr.Addr())
	require.NotNil(t, GetClient())
	_ = GetClient().Close()

	mr.Close()
	InitRedis(mr.Addr())
	assert.Nil(t, GetClient())
}

func TestJSONRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb, err := NewClient(mr.Addr())
	require.NoError(t, err)
	defer func() { _ = rdb.Close() }()
	ctx := context.Background()

	type entry struct {
		ID   uint   `json:"id"`
		Name string `json:"name"`
	}

	var got entry
	hit, err := GetJSON(ctx, rdb, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, SetJSON(ctx, rdb, "k", entry{ID: 4, Name: "alice"}, time.Minute))
	hit, err = GetJSON(ctx, rdb, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, entry{ID: 4, Name: "alice"}, got)

	mr.FastForward(2 * time.Minute)
	hit, err = GetJSON(ctx, rdb, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, mr.Set("bad", "{"))
	_, err = GetJSON(ctx, rdb, "bad", &got)
	assert.Error(t, err)

	Invalidate(ctx, rdb, "bad")
	assert.False(t, mr.Exists("bad"))

	hit, err = GetJSON(ctx, nil, "k", &got)
	assert.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, SetJSON(ctx, nil, "k", got, time.Minute))
}

func TestKeys(t *testing.T) {
	t.Parallel()

	k := IdentityKey("/CN=alice", "/CN=CA")
	assert.True(t, strings.HasPrefix(k, "identity:"))
	assert.Len(t, k, len("identity:")+64)
	assert.NotEqual(t, k, IdentityKey("/CN=alice", "/CN=Other CA"))
	assert.True(t, strings.HasPrefix(UserNameKey("bob"), "identity:name:"))
}
