// Package packages is the entry point the outer application calls: add a
// tracking code for a user, list a user's packages, show one package.
package packages

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/parcelwatch/internal/broker/messages"
	"github.com/BearBump/parcelwatch/internal/cache"
	"github.com/BearBump/parcelwatch/internal/classifier"
	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/BearBump/parcelwatch/internal/storage"
	"github.com/pkg/errors"
)

var ErrInvalidInput = errors.New("invalid input")

type Repository interface {
	FindOrCreatePackage(ctx context.Context, code string, c models.Carrier) (*models.Package, bool, error)
	AddSubscription(ctx context.Context, packageID uint64, userID int64) (models.SubscriptionOutcome, error)
	RemoveSubscription(ctx context.Context, packageID uint64, userID int64) (bool, error)
	IsSubscribed(ctx context.Context, packageID uint64, userID int64) (bool, error)
	ListPackagesForUser(ctx context.Context, userID int64) ([]*models.SubscribedPackage, error)
	GetPackageForUser(ctx context.Context, packageID uint64, userID int64) (*models.Package, error)
	ResetRefresh(ctx context.Context, id uint64, now time.Time) error
	ListSubscriberIDs(ctx context.Context, packageID uint64) ([]int64, error)
}

type Refresher interface {
	State(p *models.Package, now time.Time) (models.State, models.FailureKind)
	RefreshIfStale(ctx context.Context, p *models.Package, wait time.Duration) *models.Package
}

type Service struct {
	repo      Repository
	refresher Refresher
	cache     cache.Cache

	listTTL     time.Duration
	currentTTL  time.Duration
	initialWait time.Duration
	detailWait  time.Duration

	now func() time.Time
}

func New(repo Repository, refresher Refresher, c cache.Cache) *Service {
	return &Service{
		repo:        repo,
		refresher:   refresher,
		cache:       c,
		listTTL:     time.Minute,
		currentTTL:  5 * time.Minute,
		initialWait: 20 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithSettings sets how long AddPackage waits for the first scrape and how
// long GetPackageDetail waits for a stale package; zero means don't wait.
// Cache TTLs of zero disable that cache.
func (s *Service) WithSettings(initialWait, detailWait, listTTL, currentTTL time.Duration) *Service {
	if initialWait >= 0 {
		s.initialWait = initialWait
	}
	if detailWait >= 0 {
		s.detailWait = detailWait
	}
	if listTTL >= 0 {
		s.listTTL = listTTL
	}
	if currentTTL >= 0 {
		s.currentTTL = currentTTL
	}
	return s
}

// AddPackage subscribes userID to code. Adding the same code twice reports
// AlreadyTracked; two users adding one code share one package.
func (s *Service) AddPackage(ctx context.Context, code string, userID int64) (models.AddResult, error) {
	if userID <= 0 {
		return models.AddResult{}, errors.Wrap(ErrInvalidInput, "user id must be positive")
	}
	canon := classifier.Canonicalize(code)
	if canon == "" {
		return models.AddResult{}, errors.Wrap(ErrInvalidInput, "tracking code is empty")
	}
	if len(canon) > 64 {
		return models.AddResult{}, errors.Wrap(ErrInvalidInput, "tracking code is too long")
	}

	c, matched := classifier.Explain(canon)
	if c == models.CarrierUnknown {
		slog.Info("tracking code not classified", "code", canon, "rules", strings.Join(matched, ","))
	}

	p, created, err := s.repo.FindOrCreatePackage(ctx, canon, c)
	if err != nil {
		return models.AddResult{}, errors.Wrap(err, "find or create package")
	}
	outcome, err := s.repo.AddSubscription(ctx, p.ID, userID)
	if err != nil {
		return models.AddResult{}, errors.Wrap(err, "add subscription")
	}
	if outcome == models.SubscriptionAlreadyExists {
		return models.AddResult{Outcome: models.AddOutcomeAlreadyTracked, Package: p}, nil
	}
	s.invalidate(ctx, cache.UserPackagesKey(userID))

	wait := time.Duration(0)
	switch {
	case created:
		wait = s.initialWait
	case p.Refresh.Status == models.RefreshFailed && p.Refresh.FailureKind == models.FailureNotFound:
		// Re-adding is how a user retries a code the carrier didn't know yet.
		if err := s.repo.ResetRefresh(ctx, p.ID, s.now()); err != nil {
			return models.AddResult{}, errors.Wrap(err, "reset refresh")
		}
		s.invalidate(ctx, cache.PackageKey(p.ID))
		p, err = s.repo.GetPackageForUser(ctx, p.ID, userID)
		if err != nil {
			return models.AddResult{}, errors.Wrap(err, "reload package")
		}
		wait = s.initialWait
	}
	p = s.refresher.RefreshIfStale(ctx, p, wait)

	return models.AddResult{Outcome: models.AddOutcomeAdded, Package: p}, nil
}

func (s *Service) ListPackages(ctx context.Context, userID int64) ([]models.PackageSummary, error) {
	if userID <= 0 {
		return nil, errors.Wrap(ErrInvalidInput, "user id must be positive")
	}

	key := cache.UserPackagesKey(userID)
	if s.cache != nil && s.listTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var out []models.PackageSummary
			if json.Unmarshal(b, &out) == nil {
				return out, nil
			}
		}
	}

	subs, err := s.repo.ListPackagesForUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list packages")
	}
	out := make([]models.PackageSummary, 0, len(subs))
	for _, sp := range subs {
		out = append(out, models.NewPackageSummary(sp))
	}

	if s.cache != nil && s.listTTL > 0 {
		if b, err := json.Marshal(out); err == nil {
			_ = s.cache.Set(ctx, key, b, s.listTTL)
		}
	}
	return out, nil
}

// GetPackageDetail returns ok=false when the package doesn't exist or the
// user isn't subscribed to it; the two cases are indistinguishable.
func (s *Service) GetPackageDetail(ctx context.Context, packageID uint64, userID int64) (*models.PackageDetail, bool, error) {
	if packageID == 0 || userID <= 0 {
		return nil, false, nil
	}

	p, err := s.loadForUser(ctx, packageID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	p = s.refresher.RefreshIfStale(ctx, p, s.detailWait)
	state, kind := s.refresher.State(p, s.now())
	return &models.PackageDetail{Package: p, State: state, FailureKind: kind}, true, nil
}

// RemovePackage drops the user's subscription. The package itself stays.
func (s *Service) RemovePackage(ctx context.Context, packageID uint64, userID int64) (bool, error) {
	if packageID == 0 || userID <= 0 {
		return false, nil
	}
	removed, err := s.repo.RemoveSubscription(ctx, packageID, userID)
	if err != nil {
		return false, errors.Wrap(err, "remove subscription")
	}
	if removed {
		s.invalidate(ctx, cache.UserPackagesKey(userID))
	}
	return removed, nil
}

// ApplyRefreshEvent drops cached views that a refresh made outdated.
func (s *Service) ApplyRefreshEvent(ctx context.Context, msg messages.PackageRefreshed) error {
	if msg.PackageID == 0 {
		return errors.New("package_id is required")
	}
	if s.cache == nil {
		return nil
	}
	users, err := s.repo.ListSubscriberIDs(ctx, msg.PackageID)
	if err != nil {
		return errors.Wrap(err, "list subscribers")
	}
	keys := make([]string, 0, len(users)+1)
	keys = append(keys, cache.PackageKey(msg.PackageID))
	for _, u := range users {
		keys = append(keys, cache.UserPackagesKey(u))
	}
	return s.cache.Delete(ctx, keys...)
}

func (s *Service) loadForUser(ctx context.Context, packageID uint64, userID int64) (*models.Package, error) {
	key := cache.PackageKey(packageID)
	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var p models.Package
			if json.Unmarshal(b, &p) == nil {
				subscribed, err := s.repo.IsSubscribed(ctx, packageID, userID)
				if err != nil {
					return nil, errors.Wrap(err, "check subscription")
				}
				if !subscribed {
					return nil, storage.ErrNotFound
				}
				return &p, nil
			}
		}
	}

	p, err := s.repo.GetPackageForUser(ctx, packageID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get package")
	}
	if s.cache != nil && s.currentTTL > 0 {
		if b, err := json.Marshal(p); err == nil {
			_ = s.cache.Set(ctx, key, b, s.currentTTL)
		}
	}
	return p, nil
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		slog.Warn("cache invalidate", "keys", strings.Join(keys, ","), "error", err.Error())
	}
}
