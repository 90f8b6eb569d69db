package writer

import (
	"context"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/BearBump/FleetBox/internal/pkg/metrics"
	"github.com/pkg/errors"
)

//go:generate mockery --name Repository --output ./mocks --outpkg mocks --structname MockRepository

type Repository interface {
	UpsertBatch(ctx context.Context, rows []models.VehicleStatusRow) error
	UpsertRow(ctx context.Context, row models.VehicleStatusRow) error
	EnsurePartition(ctx context.Context, month models.PartitionMonth) (bool, error)
}

type state int

const (
	stateBatch state = iota
	stateRepair
	stateRowFallback
)

func (s state) String() string {
	switch s {
	case stateBatch:
		return "batch"
	case stateRepair:
		return "repair"
	case stateRowFallback:
		return "row_fallback"
	}
	return "unknown"
}

// Writer stores status rows into the partitioned table: one batch upsert,
// at most one partition repair per call, then per-row isolation.
type Writer struct {
	repo   Repository
	logger log.Logger
}

func New(repo Repository) *Writer {
	return &Writer{repo: repo, logger: log.WithName("writer")}
}

// Store upserts rows. A nil error with report.OK() == false means some rows
// were rejected; a non-nil error means the call failed as a whole.
func (w *Writer) Store(ctx context.Context, rows []models.VehicleStatusRow) (models.StoreReport, error) {
	rep, err := w.store(ctx, rows)
	metrics.RowsStoredTotal.Add(float64(rep.Stored))
	metrics.RowsFailedTotal.Add(float64(rep.Failed))
	return rep, err
}

func (w *Writer) store(ctx context.Context, rows []models.VehicleStatusRow) (models.StoreReport, error) {
	rows = Dedupe(rows)
	rep := models.StoreReport{Attempted: len(rows)}
	if len(rows) == 0 {
		return rep, nil
	}

	var (
		st       = stateBatch
		repaired bool
		missing  models.PartitionMonth
	)
	for {
		w.logger.Debug("writer state", "state", st, "rows", len(rows))
		switch st {
		case stateBatch:
			err := w.repo.UpsertBatch(ctx, rows)
			if err == nil {
				rep.Stored = len(rows)
				w.logger.Info("stored batch", "rows", len(rows))
				return rep, nil
			}

			var (
				pm *models.PartitionMissingError
				ce *models.ConnectionError
			)
			switch {
			case errors.As(err, &ce):
				rep.Failed = len(rows)
				return rep, err
			case errors.As(err, &pm):
				if repaired || pm.Month.IsZero() {
					rep.Failed = len(rows)
					return rep, err
				}
				missing = pm.Month
				st = stateRepair
			default:
				w.logger.Warn("batch upsert failed, falling back to row-by-row", "rows", len(rows), "error", err)
				metrics.RowFallbacksTotal.Inc()
				st = stateRowFallback
			}

		case stateRepair:
			created, err := w.repo.EnsurePartition(ctx, missing)
			if err != nil {
				rep.Failed = len(rows)
				return rep, errors.Wrap(err, "repair partition")
			}
			if created {
				rep.PartitionsCreated++
			}
			repaired = true
			st = stateBatch

		case stateRowFallback:
			return rep, w.storeRows(ctx, rows, &rep)
		}
	}
}

// storeRows upserts each row in its own transaction. Only a connection
// failure stops the loop; the rows not yet tried are counted as failed.
func (w *Writer) storeRows(ctx context.Context, rows []models.VehicleStatusRow, rep *models.StoreReport) error {
	for i, r := range rows {
		err := w.storeRow(ctx, r, rep)
		if err == nil {
			rep.Stored++
			continue
		}

		var ce *models.ConnectionError
		if errors.As(err, &ce) {
			rep.Failed += len(rows) - i
			for _, rest := range rows[i:] {
				rep.FailedKeys = append(rep.FailedKeys, rest.Key())
			}
			return err
		}

		rep.Failed++
		rep.FailedKeys = append(rep.FailedKeys, r.Key())
		w.logger.Error(err, "row rejected", "asset_id", r.AssetID, "event_time", r.EventTime, "row", i+1)
	}

	if rep.Failed > 0 {
		w.logger.Warn("rows failed", "failed", rep.Failed, "attempted", rep.Attempted)
	} else {
		w.logger.Info("stored rows individually", "rows", rep.Stored)
	}
	return nil
}

// storeRow repairs a missing partition once for the row, then retries it once.
func (w *Writer) storeRow(ctx context.Context, r models.VehicleStatusRow, rep *models.StoreReport) error {
	err := w.repo.UpsertRow(ctx, r)

	var pm *models.PartitionMissingError
	if err == nil || !errors.As(err, &pm) {
		return err
	}
	month := pm.Month
	if month.IsZero() {
		month = models.PartitionMonthOf(r.EventTime)
	}

	created, perr := w.repo.EnsurePartition(ctx, month)
	if perr != nil {
		return errors.Wrap(perr, "repair partition")
	}
	if created {
		rep.PartitionsCreated++
	}
	return w.repo.UpsertRow(ctx, r)
}

// Dedupe collapses rows sharing (asset_id, event_time). The last occurrence
// wins and keeps the position of the first one.
func Dedupe(rows []models.VehicleStatusRow) []models.VehicleStatusRow {
	if len(rows) < 2 {
		return rows
	}
	idx := make(map[models.RowKey]int, len(rows))
	out := make([]models.VehicleStatusRow, 0, len(rows))
	for _, r := range rows {
		k := r.Key()
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
