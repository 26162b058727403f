package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/parcelwatch/internal/integrations/carrier"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPool_LimitsConcurrentTabs(t *testing.T) {
	var cur, peak atomic.Int64
	p := newPool(2, func(ctx context.Context, req carrier.RenderRequest) (string, error) {
		n := cur.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return "<html></html>", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Render(context.Background(), carrier.RenderRequest{URL: "u"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int64(2))
	st := p.Stats()
	require.Equal(t, int64(8), st.Renders)
	require.Equal(t, int64(0), st.InUse)
}

func TestPool_WaitForSlotHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	p := newPool(1, func(ctx context.Context, req carrier.RenderRequest) (string, error) {
		<-release
		return "", nil
	})

	go func() { _, _ = p.Render(context.Background(), carrier.RenderRequest{}) }()
	require.Eventually(t, func() bool { return p.Stats().InUse == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Render(ctx, carrier.RenderRequest{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestPool_SlotReleasedOnError(t *testing.T) {
	p := newPool(1, func(ctx context.Context, req carrier.RenderRequest) (string, error) {
		return "", errors.New("tab crashed")
	})
	for i := 0; i < 3; i++ {
		_, err := p.Render(context.Background(), carrier.RenderRequest{})
		require.Error(t, err)
	}
	require.Equal(t, int64(3), p.Stats().Failures)
}
