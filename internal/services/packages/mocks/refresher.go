package mocks

import (
	"context"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRefresher is a testify mock of packages.Refresher.
type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) State(p *models.Package, now time.Time) (models.State, models.FailureKind) {
	args := m.Called(p, now)
	st, _ := args.Get(0).(models.State)
	kind, _ := args.Get(1).(models.FailureKind)
	return st, kind
}

func (m *MockRefresher) RefreshIfStale(ctx context.Context, p *models.Package, wait time.Duration) *models.Package {
	return pkg(m.Called(ctx, p, wait).Get(0))
}
