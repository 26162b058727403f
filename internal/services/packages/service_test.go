package packages

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/parcelwatch/internal/integrations/carrier"
	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/BearBump/parcelwatch/internal/normalizer"
	"github.com/BearBump/parcelwatch/internal/services/refresh"
	"github.com/BearBump/parcelwatch/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

const upsPage = `<table class="ups-shipment-progress"><tbody>
<tr><td class="activity-date">01/02/2024 9:00 AM</td><td class="activity-location">Hub</td><td class="activity-description">In transit</td></tr>
<tr><td class="activity-date">01/01/2024 10:00 AM</td><td class="activity-location">Origin</td><td class="activity-description">Picked up</td></tr>
</tbody></table>`

type stubScraper struct {
	calls    atomic.Int64
	notFound atomic.Bool
}

func (s *stubScraper) FetchRaw(_ context.Context, code string, _ time.Duration) (carrier.RawResponse, error) {
	s.calls.Add(1)
	if s.notFound.Load() {
		return carrier.RawResponse{}, &carrier.ScrapeError{Kind: carrier.KindNotFound, Carrier: models.CarrierUPS}
	}
	return carrier.RawResponse{Carrier: models.CarrierUPS, TrackingCode: code, Body: upsPage}, nil
}

func newService(t *testing.T) (*Service, *stubScraper) {
	t.Helper()
	sc := &stubScraper{}
	st := memstore.New()
	coord := refresh.New(st, carrier.NewRegistry().Register(models.CarrierUPS, sc), normalizer.Default()).
		WithSettings(2*time.Second, 4)
	t.Cleanup(func() { _ = coord.Shutdown(context.Background()) })
	return New(st, coord, nil).WithSettings(5*time.Second, 0, 0, 0), sc
}

func TestAddPackage_FirstAddScrapesAndReturnsTimeline(t *testing.T) {
	svc, sc := newService(t)
	ctx := context.Background()

	res, err := svc.AddPackage(ctx, "1z999aa10123456784", 1)
	require.NoError(t, err)
	require.True(t, res.Added())
	require.Equal(t, models.CarrierUPS, res.Package.Carrier)
	require.Equal(t, "1Z999AA10123456784", res.Package.TrackingCode)

	tl := res.Package.Timeline
	require.Len(t, tl, 2)
	require.Equal(t, models.StageCreated, tl[0].Stage)
	require.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), *tl[0].At)
	require.Equal(t, models.StageInTransit, tl[1].Stage)
	require.EqualValues(t, 1, sc.calls.Load())

	d, ok, err := svc.GetPackageDetail(ctx, res.Package.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.StateFresh, d.State)
	require.EqualValues(t, 1, sc.calls.Load())
}

func TestAddPackage_TwiceIsAlreadyTracked(t *testing.T) {
	svc, sc := newService(t)
	ctx := context.Background()

	_, err := svc.AddPackage(ctx, "1Z999AA10123456784", 1)
	require.NoError(t, err)
	res, err := svc.AddPackage(ctx, "1Z 999AA1 0123456784", 1)
	require.NoError(t, err)
	require.Equal(t, models.AddOutcomeAlreadyTracked, res.Outcome)

	list, err := svc.ListPackages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.EqualValues(t, 1, sc.calls.Load())
}

func TestAddPackage_TwoUsersShareOnePackage(t *testing.T) {
	svc, sc := newService(t)
	ctx := context.Background()

	a, err := svc.AddPackage(ctx, "1Z999AA10123456784", 1)
	require.NoError(t, err)
	b, err := svc.AddPackage(ctx, "1Z999AA10123456784", 2)
	require.NoError(t, err)
	require.True(t, b.Added())
	require.Equal(t, a.Package.ID, b.Package.ID)
	require.EqualValues(t, 1, sc.calls.Load())

	d1, ok, err := svc.GetPackageDetail(ctx, a.Package.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	d2, ok, err := svc.GetPackageDetail(ctx, a.Package.ID, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, d1.Timeline(), d2.Timeline())

	removed, err := svc.RemovePackage(ctx, a.Package.ID, 1)
	require.NoError(t, err)
	require.True(t, removed)
	_, ok, err = svc.GetPackageDetail(ctx, a.Package.ID, 1)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = svc.GetPackageDetail(ctx, a.Package.ID, 2)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAddPackage_UnknownCarrierAcceptedNeverScraped(t *testing.T) {
	svc, sc := newService(t)
	ctx := context.Background()

	res, err := svc.AddPackage(ctx, "HELLO123", 1)
	require.NoError(t, err)
	require.True(t, res.Added())
	require.Equal(t, models.CarrierUnknown, res.Package.Carrier)
	require.Empty(t, res.Package.Timeline)

	d, ok, err := svc.GetPackageDetail(ctx, res.Package.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.StateFailed, d.State)
	require.Equal(t, models.FailureUnsupported, d.FailureKind)
	require.Zero(t, sc.calls.Load())
}

func TestAddPackage_ReAddAfterNotFoundRetries(t *testing.T) {
	svc, sc := newService(t)
	ctx := context.Background()
	sc.notFound.Store(true)

	res, err := svc.AddPackage(ctx, "1Z999AA10123456784", 1)
	require.NoError(t, err)
	require.True(t, res.Added())
	require.Equal(t, models.FailureNotFound, res.Package.Refresh.FailureKind)

	// terminal: viewing it doesn't scrape again
	d, _, err := svc.GetPackageDetail(ctx, res.Package.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.StateFailed, d.State)
	require.EqualValues(t, 1, sc.calls.Load())

	sc.notFound.Store(false)
	_, err = svc.RemovePackage(ctx, res.Package.ID, 1)
	require.NoError(t, err)
	again, err := svc.AddPackage(ctx, "1Z999AA10123456784", 1)
	require.NoError(t, err)
	require.True(t, again.Added())
	require.EqualValues(t, 2, sc.calls.Load())
	require.Len(t, again.Package.Timeline, 2)
	require.Equal(t, models.RefreshOK, again.Package.Refresh.Status)
}

func TestGetPackageDetail_NotSubscribed(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.AddPackage(ctx, "1Z999AA10123456784", 1)
	require.NoError(t, err)

	d, ok, err := svc.GetPackageDetail(ctx, res.Package.ID, 2)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, d)

	_, ok, err = svc.GetPackageDetail(ctx, 999, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListPackages_EmptyForNewUser(t *testing.T) {
	svc, _ := newService(t)

	list, err := svc.ListPackages(context.Background(), 42)
	require.NoError(t, err)
	require.Empty(t, list)
}

type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[key]
	return b, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.m, k)
	}
	return nil
}

// racingRepo runs afterRead once, right after the package is read for a user.
type racingRepo struct {
	*memstore.Store
	afterRead atomic.Pointer[func(p *models.Package)]
}

func (r *racingRepo) GetPackageForUser(ctx context.Context, packageID uint64, userID int64) (*models.Package, error) {
	p, err := r.Store.GetPackageForUser(ctx, packageID, userID)
	if f := r.afterRead.Swap(nil); f != nil && err == nil {
		(*f)(p)
	}
	return p, err
}

func TestGetPackageDetail_RefreshDuringReadDoesNotPinOldTimeline(t *testing.T) {
	ctx := context.Background()
	sc := &stubScraper{}
	repo := &racingRepo{Store: memstore.New()}
	mc := &mapCache{m: map[string][]byte{}}
	coord := refresh.New(repo, carrier.NewRegistry().Register(models.CarrierUPS, sc), normalizer.Default()).
		WithSettings(2*time.Second, 4).
		WithCache(mc)
	t.Cleanup(func() { _ = coord.Shutdown(context.Background()) })
	svc := New(repo, coord, mc).WithSettings(0, time.Second, 0, 5*time.Minute)

	p, _, err := repo.FindOrCreatePackage(ctx, "1Z999AA10123456784", models.CarrierUPS)
	require.NoError(t, err)
	_, err = repo.AddSubscription(ctx, p.ID, 1)
	require.NoError(t, err)

	// A worker refresh lands between the read and the cache fill.
	hook := func(old *models.Package) { _, _ = coord.RefreshNow(ctx, old) }
	repo.afterRead.Store(&hook)

	d, ok, err := svc.GetPackageDetail(ctx, p.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, d.Package.Timeline, 2)

	d, ok, err = svc.GetPackageDetail(ctx, p.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, d.Package.Timeline, 2)
	require.Equal(t, models.StateFresh, d.State)
	require.EqualValues(t, 1, sc.calls.Load())
}
