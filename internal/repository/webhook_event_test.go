package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebhookEventRepo(t *testing.T, now *time.Time) *webhookEventRepoImpl {
	t.Helper()
	return &webhookEventRepoImpl{
		db:      newTestDB(t),
		nowFunc: func() time.Time { return *now },
	}
}

func TestClaimIsExclusive(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := newWebhookEventRepo(t, &now)
	ctx := context.Background()

	claimed, err := repo.Claim(ctx, "WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.Claim(ctx, "WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	processed, err := repo.IsProcessed(ctx, "WH-1")
	require.NoError(t, err)
	assert.False(t, processed, "a claim is not a processed record")
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := newWebhookEventRepo(t, &now)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.Claim(context.Background(), "WH-RACE", "PAYMENT.CAPTURE.COMPLETED", time.Minute)
			assert.NoError(t, err)
			if claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMarkProcessedBlocksClaimsUntilExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := newWebhookEventRepo(t, &now)
	ctx := context.Background()

	claimed, err := repo.Claim(ctx, "WH-2", "X", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.MarkProcessed(ctx, "WH-2", "X", 24*time.Hour))

	processed, err := repo.IsProcessed(ctx, "WH-2")
	require.NoError(t, err)
	assert.True(t, processed)

	// a processed record is never a stale claim
	now = now.Add(time.Hour)
	claimed, err = repo.Claim(ctx, "WH-2", "X", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	now = now.Add(24 * time.Hour)
	processed, err = repo.IsProcessed(ctx, "WH-2")
	require.NoError(t, err)
	assert.False(t, processed)

	purged, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestExpiredProcessedRecordCanBeClaimedAgain(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := newWebhookEventRepo(t, &now)
	ctx := context.Background()

	require.NoError(t, repo.MarkProcessed(ctx, "WH-3", "X", time.Hour))

	now = now.Add(2 * time.Hour)
	claimed, err := repo.Claim(ctx, "WH-3", "X", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestReleaseAndStaleClaimTakeover(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := newWebhookEventRepo(t, &now)
	ctx := context.Background()

	claimed, err := repo.Claim(ctx, "WH-4", "X", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.Release(ctx, "WH-4"))
	claimed, err = repo.Claim(ctx, "WH-4", "X", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "released claim is free again")

	now = now.Add(time.Minute)
	claimed, err = repo.Claim(ctx, "WH-4", "X", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "lease still held")

	now = now.Add(10 * time.Minute)
	claimed, err = repo.Claim(ctx, "WH-4", "X", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "stale lease taken over")
}

func TestReleaseKeepsProcessedRecord(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := newWebhookEventRepo(t, &now)
	ctx := context.Background()

	require.NoError(t, repo.MarkProcessed(ctx, "WH-5", "X", time.Hour))
	require.NoError(t, repo.Release(ctx, "WH-5"))

	processed, err := repo.IsProcessed(ctx, "WH-5")
	require.NoError(t, err)
	assert.True(t, processed)
}
