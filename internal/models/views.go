package models

import "time"

type AddOutcome string

const (
	AddOutcomeAdded          AddOutcome = "ADDED"
	AddOutcomeAlreadyTracked AddOutcome = "ALREADY_TRACKED"
)

type AddResult struct {
	Outcome AddOutcome `json:"outcome"`
	Package *Package   `json:"package"`
}

// Added reports the boolean the outer application shows to the user.
func (r AddResult) Added() bool { return r.Outcome == AddOutcomeAdded }

type PackageSummary struct {
	PackageID       uint64     `json:"package_id"`
	TrackingCode    string     `json:"tracking_code"`
	Carrier         Carrier    `json:"carrier"`
	LatestStage     Stage      `json:"latest_stage"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	SubscribedAt    time.Time  `json:"subscribed_at"`
}

func NewPackageSummary(sp *SubscribedPackage) PackageSummary {
	return PackageSummary{
		PackageID:       sp.Package.ID,
		TrackingCode:    sp.Package.TrackingCode,
		Carrier:         sp.Package.Carrier,
		LatestStage:     sp.Package.Timeline.LatestStage(),
		LastRefreshedAt: sp.Package.Refresh.LastRefreshedAt,
		SubscribedAt:    sp.Subscription.CreatedAt,
	}
}

// State is the refresh coordinator's view of a package.
type State string

const (
	StateFresh      State = "FRESH"
	StateStale      State = "STALE"
	StateRefreshing State = "REFRESHING"
	StateFailed     State = "FAILED"
)

type PackageDetail struct {
	Package     *Package    `json:"package"`
	State       State       `json:"state"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
}

func (d *PackageDetail) Timeline() Timeline {
	if d == nil || d.Package == nil {
		return nil
	}
	return d.Package.Timeline
}
