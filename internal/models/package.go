package models

import "time"

// FailureKind explains why the last refresh attempt failed.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureTimeout            FailureKind = "TIMEOUT"
	FailureNotFound           FailureKind = "NOT_FOUND"
	FailureCarrierUnavailable FailureKind = "CARRIER_UNAVAILABLE"
	FailureParseTarget        FailureKind = "PARSE_TARGET"
	// FailureUnsupported is derived for packages with CarrierUnknown; it is never stored.
	FailureUnsupported FailureKind = "UNSUPPORTED"
)

// Transient failures are retried on the next staleness check.
func (k FailureKind) Transient() bool {
	return k == FailureTimeout || k == FailureCarrierUnavailable
}

type RefreshStatus string

const (
	RefreshPending RefreshStatus = "PENDING"
	RefreshOK      RefreshStatus = "OK"
	RefreshFailed  RefreshStatus = "FAILED"
)

type RefreshState struct {
	Status               RefreshStatus `json:"status"`
	LastRefreshedAt      *time.Time    `json:"last_refreshed_at,omitempty"`
	LastAttemptAt        *time.Time    `json:"last_attempt_at,omitempty"`
	LastRefreshSucceeded bool          `json:"last_refresh_succeeded"`
	FailureKind          FailureKind   `json:"failure_kind,omitempty"`
	FailCount            int32         `json:"fail_count"`
	// NextRefreshAt is nil when the package must not be scraped again.
	NextRefreshAt *time.Time `json:"next_refresh_at,omitempty"`
	// InFlight is runtime-only, set by the refresh coordinator.
	InFlight bool `json:"-"`
}

// Package is one physical tracking code, shared by every subscribed user.
type Package struct {
	ID           uint64       `json:"id"`
	TrackingCode string       `json:"tracking_code"`
	Carrier      Carrier      `json:"carrier"`
	Timeline     Timeline     `json:"timeline"`
	Refresh      RefreshState `json:"refresh"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (p *Package) Clone() *Package {
	if p == nil {
		return nil
	}
	c := *p
	c.Timeline = p.Timeline.Clone()
	return &c
}

type Subscription struct {
	PackageID uint64    `json:"package_id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type SubscribedPackage struct {
	Package      *Package
	Subscription Subscription
}

// PackageUpdate replaces the refresh state of a package. A nil Timeline
// keeps the stored one.
type PackageUpdate struct {
	PackageID uint64
	Timeline  Timeline
	Refresh   RefreshState
}

type SubscriptionOutcome string

const (
	SubscriptionCreated       SubscriptionOutcome = "CREATED"
	SubscriptionAlreadyExists SubscriptionOutcome = "ALREADY_EXISTS"
)
