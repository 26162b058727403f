// Package storage defines the tracking store shared by every backend.
package storage

import (
	"context"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

// Store persists Packages and Subscriptions. Packages are unique by
// (tracking code, carrier); Subscriptions by (package, user).
type Store interface {
	// FindOrCreatePackage reports true when the package was created by this call.
	FindOrCreatePackage(ctx context.Context, code string, c models.Carrier) (*models.Package, bool, error)
	GetPackage(ctx context.Context, id uint64) (*models.Package, error)
	UpdateTimeline(ctx context.Context, u models.PackageUpdate) error
	// ResetRefresh makes a package due again with a clean failure history.
	ResetRefresh(ctx context.Context, id uint64, now time.Time) error
	// ClaimDuePackages leases up to limit packages with NextRefreshAt <= now so
	// no other worker claims them until the lease runs out or the package is updated.
	ClaimDuePackages(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Package, error)

	AddSubscription(ctx context.Context, packageID uint64, userID int64) (models.SubscriptionOutcome, error)
	RemoveSubscription(ctx context.Context, packageID uint64, userID int64) (bool, error)
	IsSubscribed(ctx context.Context, packageID uint64, userID int64) (bool, error)
	ListPackagesForUser(ctx context.Context, userID int64) ([]*models.SubscribedPackage, error)
	// GetPackageForUser returns ErrNotFound unless the user is subscribed.
	GetPackageForUser(ctx context.Context, packageID uint64, userID int64) (*models.Package, error)
	ListSubscriberIDs(ctx context.Context, packageID uint64) ([]int64, error)
}

// InitialNextRefresh is when a new package first becomes due. Packages of an
// unknown carrier are never due.
func InitialNextRefresh(c models.Carrier, now time.Time) *time.Time {
	if !c.Known() {
		return nil
	}
	t := now.UTC()
	return &t
}
