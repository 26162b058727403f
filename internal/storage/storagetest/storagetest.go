// Package storagetest holds behaviour checks every storage.Store must pass.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/BearBump/parcelwatch/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// Run executes the shared checks; newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("FindOrCreateIsIdempotent", func(t *testing.T) { findOrCreateIsIdempotent(t, newStore(t)) })
	t.Run("ConcurrentFindOrCreate", func(t *testing.T) { concurrentFindOrCreate(t, newStore(t)) })
	t.Run("UnknownCarrierNeverDue", func(t *testing.T) { unknownCarrierNeverDue(t, newStore(t)) })
	t.Run("Subscriptions", func(t *testing.T) { subscriptions(t, newStore(t)) })
	t.Run("UpdateTimeline", func(t *testing.T) { updateTimeline(t, newStore(t)) })
	t.Run("ClaimDueLeases", func(t *testing.T) { claimDueLeases(t, newStore(t)) })
	t.Run("ResetRefresh", func(t *testing.T) { resetRefresh(t, newStore(t)) })
}

func findOrCreateIsIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()

	p1, created, err := s.FindOrCreatePackage(ctx, "1Z999AA10123456784", models.CarrierUPS)
	require.NoError(t, err)
	require.True(t, created)
	require.NotZero(t, p1.ID)
	require.Equal(t, models.RefreshPending, p1.Refresh.Status)
	require.NotNil(t, p1.Refresh.NextRefreshAt)
	require.Empty(t, p1.Timeline)

	p2, created, err := s.FindOrCreatePackage(ctx, "1Z999AA10123456784", models.CarrierUPS)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, p1.ID, p2.ID)

	other, created, err := s.FindOrCreatePackage(ctx, "1Z999AA10123456784", models.CarrierUnknown)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, p1.ID, other.ID)
}

func concurrentFindOrCreate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const n = 16
	ids := make([]uint64, n)
	var createdCount int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, created, err := s.FindOrCreatePackage(ctx, "9400111899223100012348", models.CarrierUSPS)
			require.NoError(t, err)
			ids[i] = p.ID
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, createdCount)
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func unknownCarrierNeverDue(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p, _, err := s.FindOrCreatePackage(ctx, "NOT-A-CODE", models.CarrierUnknown)
	require.NoError(t, err)
	require.Nil(t, p.Refresh.NextRefreshAt)

	due, err := s.ClaimDuePackages(ctx, time.Now().Add(time.Hour), 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, due)
}

func subscriptions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p, _, err := s.FindOrCreatePackage(ctx, "986578788855", models.CarrierFedEx)
	require.NoError(t, err)

	out, err := s.AddSubscription(ctx, p.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionCreated, out)
	out, err = s.AddSubscription(ctx, p.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionAlreadyExists, out)
	out, err = s.AddSubscription(ctx, p.ID, 2)
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionCreated, out)

	_, err = s.AddSubscription(ctx, p.ID+1000, 1)
	require.True(t, errors.Is(err, storage.ErrNotFound))

	ok, err := s.IsSubscribed(ctx, p.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)

	users, err := s.ListSubscriberIDs(ctx, p.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 2}, users)

	list, err := s.ListPackagesForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, p.ID, list[0].Package.ID)
	require.Equal(t, int64(1), list[0].Subscription.UserID)

	got, err := s.GetPackageForUser(ctx, p.ID, 2)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)

	_, err = s.GetPackageForUser(ctx, p.ID, 3)
	require.True(t, errors.Is(err, storage.ErrNotFound))

	removed, err := s.RemoveSubscription(ctx, p.ID, 1)
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = s.RemoveSubscription(ctx, p.ID, 1)
	require.NoError(t, err)
	require.False(t, removed)

	list, err = s.ListPackagesForUser(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, list)

	// The package outlives its subscriptions.
	_, err = s.GetPackage(ctx, p.ID)
	require.NoError(t, err)
}

func updateTimeline(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p, _, err := s.FindOrCreatePackage(ctx, "1234567891", models.CarrierDHL)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Millisecond)
	next := now.Add(time.Hour)
	loc := "LEIPZIG"
	tl := models.Timeline{{At: &now, Location: &loc, Description: "Shipment picked up", Stage: models.StageCreated}}

	require.NoError(t, s.UpdateTimeline(ctx, models.PackageUpdate{
		PackageID: p.ID,
		Timeline:  tl,
		Refresh: models.RefreshState{
			Status:               models.RefreshOK,
			LastRefreshedAt:      &now,
			LastAttemptAt:        &now,
			LastRefreshSucceeded: true,
			NextRefreshAt:        &next,
		},
	}))

	got, err := s.GetPackage(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Timeline, 1)
	require.Equal(t, "LEIPZIG", *got.Timeline[0].Location)
	require.True(t, got.Timeline[0].At.Equal(now))
	require.Equal(t, models.RefreshOK, got.Refresh.Status)
	require.True(t, got.Refresh.LastRefreshSucceeded)
	require.True(t, got.Refresh.NextRefreshAt.Equal(next))

	// A nil timeline keeps the stored one.
	require.NoError(t, s.UpdateTimeline(ctx, models.PackageUpdate{
		PackageID: p.ID,
		Refresh: models.RefreshState{
			Status:          models.RefreshFailed,
			LastRefreshedAt: &now,
			LastAttemptAt:   &now,
			FailureKind:     models.FailureTimeout,
			FailCount:       1,
			NextRefreshAt:   &next,
		},
	}))
	got, err = s.GetPackage(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Timeline, 1)
	require.Equal(t, models.FailureTimeout, got.Refresh.FailureKind)
	require.Equal(t, int32(1), got.Refresh.FailCount)
	require.False(t, got.Refresh.LastRefreshSucceeded)

	err = s.UpdateTimeline(ctx, models.PackageUpdate{PackageID: p.ID + 1000})
	require.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = s.GetPackage(ctx, p.ID+1000)
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func claimDueLeases(t *testing.T, s storage.Store) {
	ctx := context.Background()
	due, _, err := s.FindOrCreatePackage(ctx, "1Z999AA10123456784", models.CarrierUPS)
	require.NoError(t, err)
	later, _, err := s.FindOrCreatePackage(ctx, "EA123456785US", models.CarrierUSPS)
	require.NoError(t, err)

	now := time.Now().UTC()
	future := now.Add(time.Hour)
	require.NoError(t, s.UpdateTimeline(ctx, models.PackageUpdate{
		PackageID: later.ID,
		Refresh:   models.RefreshState{Status: models.RefreshOK, NextRefreshAt: &future},
	}))

	picked, err := s.ClaimDuePackages(ctx, now.Add(time.Second), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	require.Equal(t, due.ID, picked[0].ID)

	again, err := s.ClaimDuePackages(ctx, now.Add(2*time.Second), 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, again, "leased package must not be claimed twice")

	expired, err := s.ClaimDuePackages(ctx, now.Add(2*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, expired, 1)
}

func resetRefresh(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p, _, err := s.FindOrCreatePackage(ctx, "961111111111119", models.CarrierFedEx)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, s.UpdateTimeline(ctx, models.PackageUpdate{
		PackageID: p.ID,
		Refresh: models.RefreshState{
			Status:        models.RefreshFailed,
			LastAttemptAt: &now,
			FailureKind:   models.FailureNotFound,
			FailCount:     1,
		},
	}))

	require.NoError(t, s.ResetRefresh(ctx, p.ID, now))
	got, err := s.GetPackage(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.RefreshPending, got.Refresh.Status)
	require.Equal(t, models.FailureNone, got.Refresh.FailureKind)
	require.Zero(t, got.Refresh.FailCount)
	require.NotNil(t, got.Refresh.NextRefreshAt)

	require.True(t, errors.Is(s.ResetRefresh(ctx, p.ID+1000, now), storage.ErrNotFound))
}
