package pgtracking

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS packages (
  id BIGSERIAL PRIMARY KEY,
  tracking_code TEXT NOT NULL,
  carrier TEXT NOT NULL,
  timeline JSONB NOT NULL DEFAULT '[]'::jsonb,
  refresh_state TEXT NOT NULL DEFAULT 'PENDING',
  last_refreshed_at TIMESTAMPTZ NULL,
  last_attempt_at TIMESTAMPTZ NULL,
  last_refresh_succeeded BOOLEAN NOT NULL DEFAULT FALSE,
  failure_kind TEXT NOT NULL DEFAULT '',
  fail_count INT NOT NULL DEFAULT 0,
  next_refresh_at TIMESTAMPTZ NULL,
  lease_until TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (tracking_code, carrier)
)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_next_refresh_at ON packages(next_refresh_at) WHERE next_refresh_at IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS subscriptions (
  package_id BIGINT NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
  user_id BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (package_id, user_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id, created_at)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
