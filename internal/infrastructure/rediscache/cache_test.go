package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/loader"
)

type countingSource struct {
	calls int
	raws  []record.Raw
	err   error
}

func (c *countingSource) Fetch(ctx context.Context, patientID string, cat record.Category) ([]record.Raw, error) {
	c.calls++
	return c.raws, c.err
}

func setupCache(t *testing.T, next loader.Source) (*miniredis.Miniredis, *Source) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, New(client, next, Config{TTL: time.Minute}, nil)
}

func TestFetch_ReadThrough(t *testing.T) {
	next := &countingSource{raws: []record.Raw{{ID: "1", Title: "Lisinopril", StartDate: "2022-01-15"}}}
	mr, cache := setupCache(t, next)
	ctx := context.Background()

	first, err := cache.Fetch(ctx, "p1", record.CategoryMedication)
	require.NoError(t, err)
	second, err := cache.Fetch(ctx, "p1", record.CategoryMedication)
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists("timeline:records:p1:medication"))
	assert.Equal(t, time.Minute, mr.TTL("timeline:records:p1:medication"))
}

func TestFetch_ExpiryRefetches(t *testing.T) {
	next := &countingSource{}
	mr, cache := setupCache(t, next)
	ctx := context.Background()

	_, err := cache.Fetch(ctx, "p1", record.CategoryImaging)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cache.Fetch(ctx, "p1", record.CategoryImaging)
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
}

func TestFetch_CorruptEntryFallsThrough(t *testing.T) {
	next := &countingSource{raws: []record.Raw{{ID: "a"}}}
	mr, cache := setupCache(t, next)
	require.NoError(t, mr.Set("timeline:records:p1:appointment", "{not json"))

	got, err := cache.Fetch(context.Background(), "p1", record.CategoryAppointment)

	require.NoError(t, err)
	assert.Equal(t, []record.Raw{{ID: "a"}}, got)
	assert.Equal(t, 1, next.calls)
}

func TestFetch_RedisDownStillServes(t *testing.T) {
	next := &countingSource{raws: []record.Raw{{ID: "a"}}}
	mr, cache := setupCache(t, next)
	mr.Close()

	got, err := cache.Fetch(context.Background(), "p1", record.CategoryLifestyle)

	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFetch_SourceErrorIsNotCached(t *testing.T) {
	boom := errors.New("portal down")
	mr, cache := setupCache(t, &countingSource{err: boom})

	_, err := cache.Fetch(context.Background(), "p1", record.CategoryDiagnosis)

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("timeline:records:p1:diagnosis"))
}

func TestStoreAndInvalidate(t *testing.T) {
	next := &countingSource{}
	mr, cache := setupCache(t, next)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "p1", record.CategoryMedication, []record.Raw{{ID: "m"}}))
	got, err := cache.Fetch(ctx, "p1", record.CategoryMedication)
	require.NoError(t, err)
	assert.Equal(t, []record.Raw{{ID: "m"}}, got)
	assert.Zero(t, next.calls)

	require.NoError(t, cache.Invalidate(ctx, "p1"))
	assert.False(t, mr.Exists("timeline:records:p1:medication"))
	require.NoError(t, cache.Ping(ctx))
}
