package pgtracking

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/BearBump/parcelwatch/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const packageColumns = `id, tracking_code, carrier, timeline,
  refresh_state, last_refreshed_at, last_attempt_at, last_refresh_succeeded,
  failure_kind, fail_count, next_refresh_at,
  created_at, updated_at`

// qualified prefixes every package column with alias.
func qualified(alias string) string {
	cols := strings.Split(packageColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func scanPackage(row pgx.Row, extra ...any) (*models.Package, error) {
	var p models.Package
	var carrier, status, failure string
	var timeline []byte
	dest := []any{
		&p.ID, &p.TrackingCode, &carrier, &timeline,
		&status, &p.Refresh.LastRefreshedAt, &p.Refresh.LastAttemptAt, &p.Refresh.LastRefreshSucceeded,
		&failure, &p.Refresh.FailCount, &p.Refresh.NextRefreshAt,
		&p.CreatedAt, &p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.Carrier = models.ParseCarrier(carrier)
	p.Refresh.Status = models.RefreshStatus(status)
	p.Refresh.FailureKind = models.FailureKind(failure)
	p.Timeline = models.Timeline{}
	if len(timeline) > 0 {
		if err := json.Unmarshal(timeline, &p.Timeline); err != nil {
			return nil, errors.Wrap(err, "decode timeline")
		}
		if p.Timeline == nil {
			p.Timeline = models.Timeline{}
		}
	}
	return &p, nil
}

func (s *Storage) FindOrCreatePackage(ctx context.Context, code string, c models.Carrier) (*models.Package, bool, error) {
	now := time.Now().UTC()

	var created bool
	p, err := scanPackage(s.db.QueryRow(ctx, `
INSERT INTO packages (tracking_code, carrier, refresh_state, next_refresh_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (tracking_code, carrier)
DO UPDATE SET updated_at = packages.updated_at
RETURNING `+packageColumns+`, (xmax = 0)
`, code, string(c), string(models.RefreshPending), storage.InitialNextRefresh(c, now), now), &created)
	if err != nil {
		return nil, false, errors.Wrap(err, "insert package")
	}
	return p, created, nil
}

func (s *Storage) GetPackage(ctx context.Context, id uint64) (*models.Package, error) {
	p, err := scanPackage(s.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}
	return p, nil
}

func (s *Storage) UpdateTimeline(ctx context.Context, u models.PackageUpdate) error {
	var timeline []byte
	if u.Timeline != nil {
		b, err := json.Marshal(u.Timeline)
		if err != nil {
			return errors.Wrap(err, "encode timeline")
		}
		timeline = b
	}

	r := u.Refresh
	tag, err := s.db.Exec(ctx, `
UPDATE packages SET
  timeline = COALESCE($2::jsonb, timeline),
  refresh_state = $3,
  last_refreshed_at = $4,
  last_attempt_at = $5,
  last_refresh_succeeded = $6,
  failure_kind = $7,
  fail_count = $8,
  next_refresh_at = $9,
  lease_until = NULL,
  updated_at = now()
WHERE id = $1
`, u.PackageID, timeline, string(r.Status), r.LastRefreshedAt, r.LastAttemptAt,
		r.LastRefreshSucceeded, string(r.FailureKind), r.FailCount, r.NextRefreshAt)
	if err != nil {
		return errors.Wrap(err, "update package")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Storage) ResetRefresh(ctx context.Context, id uint64, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE packages SET
  refresh_state = $2,
  failure_kind = '',
  fail_count = 0,
  next_refresh_at = CASE WHEN carrier = $4 THEN NULL ELSE $3::timestamptz END,
  lease_until = NULL,
  updated_at = now()
WHERE id = $1
`, id, string(models.RefreshPending), now.UTC(), string(models.CarrierUnknown))
	if err != nil {
		return errors.Wrap(err, "reset package")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ClaimDuePackages selects due packages and leases them so they don't show up
// in another worker's batch while this one processes them.
// Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDuePackages(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Package, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+packageColumns+`
FROM packages
WHERE next_refresh_at IS NOT NULL
  AND next_refresh_at <= $1
  AND (lease_until IS NULL OR lease_until <= $1)
  AND carrier <> $2
ORDER BY next_refresh_at ASC, id ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), string(models.CarrierUnknown), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due packages")
	}

	var picked []*models.Package
	ids := make([]uint64, 0, limit)
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due package")
		}
		picked = append(picked, p)
		ids = append(ids, p.ID)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `UPDATE packages SET lease_until = $2 WHERE id = ANY($1)`, ids, now.UTC().Add(lease)); err != nil {
			return nil, errors.Wrap(err, "lease packages")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}
