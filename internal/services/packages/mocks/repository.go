package mocks

import (
	"context"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a testify mock of packages.Repository.
type MockRepository struct {
	mock.Mock
}

func pkg(v any) *models.Package {
	if v == nil {
		return nil
	}
	return v.(*models.Package)
}

func (m *MockRepository) FindOrCreatePackage(ctx context.Context, code string, c models.Carrier) (*models.Package, bool, error) {
	args := m.Called(ctx, code, c)
	return pkg(args.Get(0)), args.Bool(1), args.Error(2)
}

func (m *MockRepository) AddSubscription(ctx context.Context, packageID uint64, userID int64) (models.SubscriptionOutcome, error) {
	args := m.Called(ctx, packageID, userID)
	out, _ := args.Get(0).(models.SubscriptionOutcome)
	return out, args.Error(1)
}

func (m *MockRepository) RemoveSubscription(ctx context.Context, packageID uint64, userID int64) (bool, error) {
	args := m.Called(ctx, packageID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) IsSubscribed(ctx context.Context, packageID uint64, userID int64) (bool, error) {
	args := m.Called(ctx, packageID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ListPackagesForUser(ctx context.Context, userID int64) ([]*models.SubscribedPackage, error) {
	args := m.Called(ctx, userID)
	out, _ := args.Get(0).([]*models.SubscribedPackage)
	return out, args.Error(1)
}

func (m *MockRepository) GetPackageForUser(ctx context.Context, packageID uint64, userID int64) (*models.Package, error) {
	args := m.Called(ctx, packageID, userID)
	return pkg(args.Get(0)), args.Error(1)
}

func (m *MockRepository) ResetRefresh(ctx context.Context, id uint64, now time.Time) error {
	return m.Called(ctx, id, now).Error(0)
}

func (m *MockRepository) ListSubscriberIDs(ctx context.Context, packageID uint64) ([]int64, error) {
	args := m.Called(ctx, packageID)
	out, _ := args.Get(0).([]int64)
	return out, args.Error(1)
}
