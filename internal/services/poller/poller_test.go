package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu    sync.Mutex
	calls int
	items []*models.Package
	err   error
	limit int
	lease time.Duration
}

func (r *fakeRepo) ClaimDuePackages(_ context.Context, _ time.Time, limit int, lease time.Duration) ([]*models.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.limit, r.lease = limit, lease
	items := r.items
	r.items = nil
	return items, r.err
}

func (r *fakeRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeRefresher struct {
	calls   atomic.Int64
	active  atomic.Int64
	maxSeen atomic.Int64
	delay   time.Duration
	fail    map[uint64]error
	status  models.RefreshStatus
}

func (f *fakeRefresher) RefreshNow(ctx context.Context, p *models.Package) (*models.Package, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.fail[p.ID]; err != nil {
		return p, err
	}
	out := p.Clone()
	out.Refresh.Status = f.status
	return out, nil
}

func packages(n int) []*models.Package {
	out := make([]*models.Package, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, &models.Package{ID: uint64(i), Carrier: models.CarrierUPS})
	}
	return out
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(nil, nil).WithSettings(5*time.Second, 7, 9, 11*time.Second)
	require.Equal(t, 5*time.Second, p.pollInterval)
	require.Equal(t, 7, p.batchSize)
	require.Equal(t, 9, p.concurrency)
	require.Equal(t, 11*time.Second, p.lease)

	p = New(nil, nil).WithSettings(0, 0, 0, 0)
	require.Equal(t, 10*time.Second, p.pollInterval)
	require.Equal(t, 50, p.batchSize)
}

func TestPoller_runOnce_RefreshesClaimed(t *testing.T) {
	repo := &fakeRepo{items: packages(5)}
	ref := &fakeRefresher{status: models.RefreshOK}
	p := New(repo, ref).WithSettings(time.Second, 20, 2, 30*time.Second)

	p.runOnce(context.Background())

	require.EqualValues(t, 5, ref.calls.Load())
	require.Equal(t, 20, repo.limit)
	require.Equal(t, 30*time.Second, repo.lease)
	st := p.Stats()
	require.EqualValues(t, 5, st.TotalClaimed)
	require.EqualValues(t, 5, st.TotalProcessed)
	require.Zero(t, st.TotalErrors)
	require.Zero(t, st.InFlight)
	require.NotNil(t, st.LastCycleAt)
}

func TestPoller_runOnce_BoundsConcurrency(t *testing.T) {
	repo := &fakeRepo{items: packages(12)}
	ref := &fakeRefresher{status: models.RefreshOK, delay: 10 * time.Millisecond}
	p := New(repo, ref).WithSettings(time.Second, 20, 3, time.Minute)

	p.runOnce(context.Background())

	require.EqualValues(t, 12, ref.calls.Load())
	require.LessOrEqual(t, ref.maxSeen.Load(), int64(3))
}

func TestPoller_runOnce_CountsFailuresAndErrors(t *testing.T) {
	repo := &fakeRepo{items: packages(3)}
	ref := &fakeRefresher{status: models.RefreshFailed, fail: map[uint64]error{2: errors.New("busy")}}
	p := New(repo, ref)

	p.runOnce(context.Background())

	st := p.Stats()
	require.EqualValues(t, 3, st.TotalProcessed)
	require.EqualValues(t, 1, st.TotalErrors)
	require.EqualValues(t, 2, st.TotalFailed)
	require.Contains(t, st.LastError, "refresh package 2")
}

func TestPoller_runOnce_ClaimError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	ref := &fakeRefresher{}
	p := New(repo, ref)

	p.runOnce(context.Background())

	require.Zero(t, ref.calls.Load())
	require.Equal(t, "db down", p.Stats().LastError)
}
