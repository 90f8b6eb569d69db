package pgfleet

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS vehicle_status (
  asset_id BIGINT NOT NULL,
  name TEXT NOT NULL,
  plate_number TEXT NOT NULL,
  vin TEXT NOT NULL,
  position_description TEXT NOT NULL DEFAULT '',
  event_time TIMESTAMPTZ NOT NULL,
  latitude DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
  longitude DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
  status_text TEXT NOT NULL DEFAULT '',
  ingested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (asset_id, event_time)
) PARTITION BY RANGE (event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicle_status_event_time ON vehicle_status(event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicle_status_asset_id ON vehicle_status(asset_id)`,
		`
CREATE TABLE IF NOT EXISTS partition_management_log (
  id BIGSERIAL PRIMARY KEY,
  logged_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  action TEXT NOT NULL,
  partition_name TEXT NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

// initReadonlyRole creates the role if missing and resets its grants.
func (s *Storage) initReadonlyRole(ctx context.Context, user, password string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`, user).Scan(&exists); err != nil {
		return errors.Wrap(err, "lookup readonly role")
	}

	role := pgx.Identifier{user}.Sanitize()
	if !exists {
		// PASSWORD не принимает параметры, только литерал
		q := fmt.Sprintf(`CREATE ROLE %s LOGIN PASSWORD '%s'`, role, strings.ReplaceAll(password, "'", "''"))
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "create readonly role")
		}
	}

	var dbName string
	if err := s.db.QueryRow(ctx, `SELECT current_database()`).Scan(&dbName); err != nil {
		return errors.Wrap(err, "current database")
	}

	stmts := []string{
		fmt.Sprintf(`REVOKE ALL ON ALL TABLES IN SCHEMA public FROM %s`, role),
		fmt.Sprintf(`REVOKE ALL ON ALL SEQUENCES IN SCHEMA public FROM %s`, role),
		fmt.Sprintf(`GRANT CONNECT ON DATABASE %s TO %s`, pgx.Identifier{dbName}.Sanitize(), role),
		fmt.Sprintf(`GRANT USAGE ON SCHEMA public TO %s`, role),
		fmt.Sprintf(`GRANT SELECT ON %s TO %s`, pgx.Identifier{ParentTable}.Sanitize(), role),
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "grant readonly role")
		}
	}
	return nil
}
