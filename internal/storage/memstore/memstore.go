// Package memstore is an in-process storage.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/BearBump/parcelwatch/internal/storage"
)

type key struct {
	code    string
	carrier models.Carrier
}

type record struct {
	pkg        *models.Package
	leaseUntil time.Time
}

type Store struct {
	mu     sync.RWMutex
	nextID uint64
	byID   map[uint64]*record
	byKey  map[key]uint64
	subs   map[uint64]map[int64]time.Time
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		byID:  make(map[uint64]*record),
		byKey: make(map[key]uint64),
		subs:  make(map[uint64]map[int64]time.Time),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) FindOrCreatePackage(_ context.Context, code string, c models.Carrier) (*models.Package, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{code: code, carrier: c}
	if id, ok := s.byKey[k]; ok {
		return s.byID[id].pkg.Clone(), false, nil
	}

	now := s.now()
	s.nextID++
	p := &models.Package{
		ID:           s.nextID,
		TrackingCode: code,
		Carrier:      c,
		Timeline:     models.Timeline{},
		Refresh: models.RefreshState{
			Status:        models.RefreshPending,
			NextRefreshAt: storage.InitialNextRefresh(c, now),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[p.ID] = &record{pkg: p}
	s.byKey[k] = p.ID
	return p.Clone(), true, nil
}

func (s *Store) GetPackage(_ context.Context, id uint64) (*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.pkg.Clone(), nil
}

func (s *Store) UpdateTimeline(_ context.Context, u models.PackageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[u.PackageID]
	if !ok {
		return storage.ErrNotFound
	}
	if u.Timeline != nil {
		r.pkg.Timeline = u.Timeline.Clone()
	}
	st := u.Refresh
	st.InFlight = false
	r.pkg.Refresh = st
	r.pkg.UpdatedAt = s.now()
	r.leaseUntil = time.Time{}
	return nil
}

func (s *Store) ResetRefresh(_ context.Context, id uint64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	prev := r.pkg.Refresh
	r.pkg.Refresh = models.RefreshState{
		Status:               models.RefreshPending,
		LastRefreshedAt:      prev.LastRefreshedAt,
		LastAttemptAt:        prev.LastAttemptAt,
		LastRefreshSucceeded: prev.LastRefreshSucceeded,
		NextRefreshAt:        storage.InitialNextRefresh(r.pkg.Carrier, now),
	}
	r.leaseUntil = time.Time{}
	r.pkg.UpdatedAt = s.now()
	return nil
}

func (s *Store) ClaimDuePackages(_ context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*record
	for _, r := range s.byID {
		next := r.pkg.Refresh.NextRefreshAt
		if next == nil || next.After(now) || !r.pkg.Carrier.Known() {
			continue
		}
		if r.leaseUntil.After(now) {
			continue
		}
		due = append(due, r)
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].pkg, due[j].pkg
		if !a.Refresh.NextRefreshAt.Equal(*b.Refresh.NextRefreshAt) {
			return a.Refresh.NextRefreshAt.Before(*b.Refresh.NextRefreshAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*models.Package, 0, len(due))
	for _, r := range due {
		r.leaseUntil = now.Add(lease)
		out = append(out, r.pkg.Clone())
	}
	return out, nil
}

func (s *Store) AddSubscription(_ context.Context, packageID uint64, userID int64) (models.SubscriptionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[packageID]; !ok {
		return "", storage.ErrNotFound
	}
	users, ok := s.subs[packageID]
	if !ok {
		users = make(map[int64]time.Time)
		s.subs[packageID] = users
	}
	if _, ok := users[userID]; ok {
		return models.SubscriptionAlreadyExists, nil
	}
	users[userID] = s.now()
	return models.SubscriptionCreated, nil
}

func (s *Store) RemoveSubscription(_ context.Context, packageID uint64, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.subs[packageID]
	if _, ok := users[userID]; !ok {
		return false, nil
	}
	delete(users, userID)
	return true, nil
}

func (s *Store) IsSubscribed(_ context.Context, packageID uint64, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subs[packageID][userID]
	return ok, nil
}

func (s *Store) ListPackagesForUser(_ context.Context, userID int64) ([]*models.SubscribedPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.SubscribedPackage, 0)
	for id, users := range s.subs {
		at, ok := users[userID]
		if !ok {
			continue
		}
		out = append(out, &models.SubscribedPackage{
			Package:      s.byID[id].pkg.Clone(),
			Subscription: models.Subscription{PackageID: id, UserID: userID, CreatedAt: at},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Subscription, out[j].Subscription
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.PackageID < b.PackageID
	})
	return out, nil
}

func (s *Store) GetPackageForUser(_ context.Context, packageID uint64, userID int64) (*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.subs[packageID][userID]; !ok {
		return nil, storage.ErrNotFound
	}
	return s.byID[packageID].pkg.Clone(), nil
}

func (s *Store) ListSubscriberIDs(_ context.Context, packageID uint64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.subs[packageID]))
	for u := range s.subs[packageID] {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
