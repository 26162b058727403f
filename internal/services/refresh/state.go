package refresh

import (
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
)

// stateOf is the stored view of a package, ignoring in-flight work.
//
// A failed package goes back to Stale once its retry time has passed;
// NotFound has no retry time, so it stays Failed until it is reset.
func stateOf(p *models.Package, now time.Time) (models.State, models.FailureKind) {
	if !p.Carrier.Known() {
		return models.StateFailed, models.FailureUnsupported
	}
	due := p.Refresh.NextRefreshAt != nil && !now.Before(*p.Refresh.NextRefreshAt)

	switch p.Refresh.Status {
	case models.RefreshFailed:
		if due {
			return models.StateStale, p.Refresh.FailureKind
		}
		return models.StateFailed, p.Refresh.FailureKind
	case models.RefreshOK:
		if due {
			return models.StateStale, models.FailureNone
		}
		return models.StateFresh, models.FailureNone
	default:
		return models.StateStale, models.FailureNone
	}
}
