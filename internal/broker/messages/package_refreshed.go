package messages

import "time"

// PackageRefreshed is published after every refresh attempt, successful or not.
type PackageRefreshed struct {
	PackageID    uint64    `json:"package_id"`
	TrackingCode string    `json:"tracking_code"`
	Carrier      string    `json:"carrier"`
	AttemptedAt  time.Time `json:"attempted_at"`

	Succeeded   bool   `json:"succeeded"`
	FailureKind string `json:"failure_kind,omitempty"`
	LatestStage string `json:"latest_stage,omitempty"`
	EventCount  int    `json:"event_count"`

	NextRefreshAt *time.Time `json:"next_refresh_at,omitempty"`
}
