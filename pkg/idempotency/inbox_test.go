package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupInbox(t *testing.T) (*miniredis.Miniredis, *Inbox) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewInbox(client, Config{TTL: time.Hour, ClaimTTL: time.Minute}, nil)
}

func TestProcessOnce(t *testing.T) {
	_, inbox := setupInbox(t)
	ctx := context.Background()

	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		return nil
	}

	require.NoError(t, inbox.Process(ctx, "ev-1", "records", fn))
	err := inbox.Process(ctx, "ev-1", "records", fn)
	assert.ErrorIs(t, err, ErrDuplicateMessage)
	assert.Equal(t, 1, calls)

	status, err := inbox.Status(ctx, "ev-1", "records")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, status)

	// another handler name is a separate key space
	require.NoError(t, inbox.Process(ctx, "ev-1", "other", fn))
	assert.Equal(t, 2, calls)
}

func TestProcessFailureReleasesKey(t *testing.T) {
	_, inbox := setupInbox(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := inbox.Process(ctx, "ev-2", "records", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	status, err := inbox.Status(ctx, "ev-2", "records")
	require.NoError(t, err)
	assert.Equal(t, Status(""), status)

	require.NoError(t, inbox.Process(ctx, "ev-2", "records", func(ctx context.Context) error { return nil }))
}

func TestProcessInProgress(t *testing.T) {
	mr, inbox := setupInbox(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("timeline:inbox:records:ev-3", string(StatusStarted)))

	err := inbox.Process(ctx, "ev-3", "records", func(ctx context.Context) error {
		t.Fatal("handler must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrMessageInProgress)
}

func TestFinishedKeyExpires(t *testing.T) {
	mr, inbox := setupInbox(t)
	ctx := context.Background()
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, inbox.Process(ctx, "ev-4", "records", noop))
	mr.FastForward(2 * time.Hour)
	assert.NoError(t, inbox.Process(ctx, "ev-4", "records", noop))
}

func TestProcessWithoutRedis(t *testing.T) {
	mr, inbox := setupInbox(t)
	mr.Close()

	calls := 0
	err := inbox.Process(context.Background(), "ev-5", "records", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "ev-1", KeyFor("ev-1", "p1", "medication"))

	a := KeyFor("", "p1", "medication", "2022-01-01T00:00:00Z")
	b := KeyFor("", "p1", "medication", "2022-01-01T00:00:00Z")
	c := KeyFor("", "p1", "imaging", "2022-01-01T00:00:00Z")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
