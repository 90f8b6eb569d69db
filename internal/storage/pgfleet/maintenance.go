package pgfleet

import (
	"context"

	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/pkg/errors"
)

// Maintain runs VACUUM ANALYZE and REINDEX on vehicle_status. Neither may run
// inside a transaction, so both go straight through the pool.
func (s *Storage) Maintain(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `VACUUM ANALYZE vehicle_status`); err != nil {
		return errors.Wrap(err, "vacuum analyze")
	}
	if _, err := s.db.Exec(ctx, `REINDEX TABLE vehicle_status`); err != nil {
		return errors.Wrap(err, "reindex")
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO partition_management_log (action, partition_name) VALUES ('Maintenance', $1)`,
		ParentTable,
	); err != nil {
		return errors.Wrap(err, "log maintenance")
	}
	log.Info("maintenance completed", "table", ParentTable)
	return nil
}
