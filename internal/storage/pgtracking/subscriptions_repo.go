package pgtracking

import (
	"context"
	"time"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/BearBump/parcelwatch/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const foreignKeyViolation = "23503"

func (s *Storage) AddSubscription(ctx context.Context, packageID uint64, userID int64) (models.SubscriptionOutcome, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO subscriptions (package_id, user_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (package_id, user_id) DO NOTHING
`, packageID, userID, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return "", storage.ErrNotFound
		}
		return "", errors.Wrap(err, "insert subscription")
	}
	if tag.RowsAffected() == 0 {
		return models.SubscriptionAlreadyExists, nil
	}
	return models.SubscriptionCreated, nil
}

func (s *Storage) RemoveSubscription(ctx context.Context, packageID uint64, userID int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM subscriptions WHERE package_id = $1 AND user_id = $2`, packageID, userID)
	if err != nil {
		return false, errors.Wrap(err, "delete subscription")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Storage) IsSubscribed(ctx context.Context, packageID uint64, userID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE package_id = $1 AND user_id = $2)`, packageID, userID).Scan(&ok)
	return ok, errors.Wrap(err, "select subscription")
}

func (s *Storage) ListPackagesForUser(ctx context.Context, userID int64) ([]*models.SubscribedPackage, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+qualified("p")+`, s.created_at
FROM subscriptions s
JOIN packages p ON p.id = s.package_id
WHERE s.user_id = $1
ORDER BY s.created_at ASC, p.id ASC
`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select user packages")
	}
	defer rows.Close()

	out := make([]*models.SubscribedPackage, 0)
	for rows.Next() {
		var subscribedAt time.Time
		p, err := scanPackage(rows, &subscribedAt)
		if err != nil {
			return nil, errors.Wrap(err, "scan user package")
		}
		out = append(out, &models.SubscribedPackage{
			Package:      p,
			Subscription: models.Subscription{PackageID: p.ID, UserID: userID, CreatedAt: subscribedAt},
		})
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetPackageForUser(ctx context.Context, packageID uint64, userID int64) (*models.Package, error) {
	p, err := scanPackage(s.db.QueryRow(ctx, `
SELECT `+qualified("p")+`
FROM packages p
JOIN subscriptions s ON s.package_id = p.id
WHERE p.id = $1 AND s.user_id = $2
`, packageID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user package")
	}
	return p, nil
}

func (s *Storage) ListSubscriberIDs(ctx context.Context, packageID uint64) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id FROM subscriptions WHERE package_id = $1 ORDER BY user_id`, packageID)
	if err != nil {
		return nil, errors.Wrap(err, "select subscribers")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, errors.Wrap(err, "scan subscribers")
	}
	return ids, nil
}
