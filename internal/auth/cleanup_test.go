package auth_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/auth/authtest"
)

func seedSession(t *testing.T, store *authtest.Store, id string, expiresAt time.Time, revokedAt *time.Time) {
	t.Helper()
	sess := &auth.Session{
		ID:        id,
		TokenHash: auth.HashToken(id),
		Username:  "alice",
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: expiresAt,
		CreatedBy: auth.CreatedByLogin,
	}
	require.NoError(t, store.Create(context.Background(), sess))
	if revokedAt != nil {
		require.NoError(t, store.Revoke(context.Background(), id, *revokedAt))
	}
}

func TestCleanerSweepsExpiredAndOldRevoked(t *testing.T) {
	store := authtest.NewStore()
	now := time.Now().UTC()

	seedSession(t, store, "expired", now.Add(-time.Minute), nil)
	seedSession(t, store, "live", now.Add(time.Hour), nil)
	oldRevoke := now.Add(-40 * 24 * time.Hour)
	seedSession(t, store, "revoked-old", now.Add(time.Hour), &oldRevoke)
	recentRevoke := now.Add(-time.Hour)
	seedSession(t, store, "revoked-recent", now.Add(time.Hour), &recentRevoke)

	cleaner := auth.NewCleaner(store,
		auth.WithExpiredInterval(10*time.Millisecond),
		auth.WithRevokedInterval(10*time.Millisecond),
		auth.WithRevokedRetention(30*24*time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cleaner.Start(ctx)

	require.Eventually(t, func() bool {
		return store.Session("expired") == nil && store.Session("revoked-old") == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	cleaner.Wait()

	// Live and recently revoked sessions are never touched: only terminal
	// rows past their window are deleted.
	require.NotNil(t, store.Session("live"))
	require.NotNil(t, store.Session("revoked-recent"))
}

type flakyStore struct {
	*authtest.Store
	failures atomic.Int32
}

func (f *flakyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if f.failures.Add(-1) >= 0 {
		return 0, errors.New("connection reset")
	}
	return f.Store.DeleteExpired(ctx, now)
}

func TestCleanerSurvivesFailedRuns(t *testing.T) {
	store := &flakyStore{Store: authtest.NewStore()}
	store.failures.Store(2)

	now := time.Now().UTC()
	seedSession(t, store.Store, "expired", now.Add(-time.Minute), nil)

	cleaner := auth.NewCleaner(store,
		auth.WithExpiredInterval(10*time.Millisecond),
		auth.WithRevokedInterval(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cleaner.Start(ctx)

	// The first runs fail; later ticks still fire and eventually sweep.
	require.Eventually(t, func() bool {
		return store.Session("expired") == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	cleaner.Wait()
}

func TestDeleteExpiredBoundary(t *testing.T) {
	store := authtest.NewStore()
	now := time.Now().UTC()

	seedSession(t, store, "past", now.Add(-time.Second), nil)
	seedSession(t, store, "exact", now, nil)
	seedSession(t, store, "future", now.Add(time.Second), nil)

	n, err := store.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.NotNil(t, store.Session("future"))
}
