package pgfleet

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/BearBump/FleetBox/internal/pkg/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const actionCreatedPartition = "Created partition"

// EnsurePartition creates the monthly partition of vehicle_status if it does
// not exist. created is false when the partition was already there.
// Concurrent calls for one month, in-process or across processes, create it once.
func (s *Storage) EnsurePartition(ctx context.Context, month models.PartitionMonth) (bool, error) {
	if month.IsZero() {
		return false, errors.New("ensure partition: zero month")
	}
	name := month.TableName(ParentTable)

	v, err, _ := s.partitions.Do(name, func() (any, error) {
		return s.createPartition(ctx, month, name)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *Storage) createPartition(ctx context.Context, month models.PartitionMonth, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, classify(errors.Wrap(err, "begin tx"), models.RowKey{})
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
		return false, classify(errors.Wrap(err, "partition lock"), models.RowKey{})
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		return false, classify(errors.Wrap(err, "lookup partition"), models.RowKey{})
	}
	if exists {
		return false, nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		pgx.Identifier{name}.Sanitize(),
		pgx.Identifier{ParentTable}.Sanitize(),
		month.Start().Format(time.RFC3339),
		month.End().Format(time.RFC3339),
	)
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return false, classify(errors.Wrap(err, "create partition"), models.RowKey{})
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO partition_management_log (action, partition_name) VALUES ($1, $2)`,
		actionCreatedPartition, name,
	); err != nil {
		return false, classify(errors.Wrap(err, "log partition"), models.RowKey{})
	}

	if err := tx.Commit(ctx); err != nil {
		return false, classify(errors.Wrap(err, "commit tx"), models.RowKey{})
	}

	metrics.PartitionsCreatedTotal.Inc()
	log.Info("created partition", "partition", name, "from", month.Start(), "to", month.End())
	return true, nil
}

// EnsureFuturePartitions makes sure the partitions of the month containing
// now and of the following month exist. It returns the names it created.
func (s *Storage) EnsureFuturePartitions(ctx context.Context, now time.Time) ([]string, error) {
	current := models.PartitionMonthOf(now)
	var created []string
	for _, m := range []models.PartitionMonth{current, current.Next()} {
		ok, err := s.EnsurePartition(ctx, m)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, m.TableName(ParentTable))
		}
	}
	return created, nil
}

// ListPartitions returns the partition names of vehicle_status in name order.
func (s *Storage) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT c.relname
FROM pg_inherits i
JOIN pg_class c ON c.oid = i.inhrelid
JOIN pg_class p ON p.oid = i.inhparent
WHERE p.relname = $1
ORDER BY c.relname
`, ParentTable)
	if err != nil {
		return nil, errors.Wrap(err, "select partitions")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan partition")
		}
		out = append(out, name)
	}
	return out, errors.Wrap(rows.Err(), "iterate partitions")
}

// PartitionLogCount returns how many times a partition creation was logged.
func (s *Storage) PartitionLogCount(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM partition_management_log WHERE action = $1 AND partition_name = $2`,
		actionCreatedPartition, name,
	).Scan(&n)
	return n, errors.Wrap(err, "count partition log")
}
