package pgfleet

import (
	"context"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const upsertConflict = `
ON CONFLICT (asset_id, event_time) DO UPDATE SET
  name = EXCLUDED.name,
  plate_number = EXCLUDED.plate_number,
  vin = EXCLUDED.vin,
  position_description = EXCLUDED.position_description,
  latitude = EXCLUDED.latitude,
  longitude = EXCLUDED.longitude,
  status_text = EXCLUDED.status_text,
  ingested_at = now()
`

// UpsertBatch writes all rows in one transaction. Rows must have distinct keys.
// Errors are classified into PartitionMissingError, RowConstraintError or ConnectionError.
func (s *Storage) UpsertBatch(ctx context.Context, rows []models.VehicleStatusRow) error {
	if len(rows) == 0 {
		return nil
	}

	var (
		assetIDs     = make([]int64, len(rows))
		names        = make([]string, len(rows))
		plates       = make([]string, len(rows))
		vins         = make([]string, len(rows))
		descriptions = make([]string, len(rows))
		eventTimes   = make([]time.Time, len(rows))
		lats         = make([]float64, len(rows))
		lons         = make([]float64, len(rows))
		statusTexts  = make([]string, len(rows))
	)
	for i, r := range rows {
		assetIDs[i] = r.AssetID
		names[i] = r.Name
		plates[i] = r.PlateNumber
		vins[i] = r.VIN
		descriptions[i] = r.PositionDescription
		eventTimes[i] = r.EventTime.UTC()
		lats[i] = r.Latitude
		lons[i] = r.Longitude
		statusTexts[i] = r.StatusText
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(errors.Wrap(err, "begin tx"), models.RowKey{})
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO vehicle_status (
  asset_id, name, plate_number, vin, position_description,
  event_time, latitude, longitude, status_text
)
SELECT * FROM unnest(
  $1::bigint[], $2::text[], $3::text[], $4::text[], $5::text[],
  $6::timestamptz[], $7::float8[], $8::float8[], $9::text[]
)`+upsertConflict,
		assetIDs, names, plates, vins, descriptions, eventTimes, lats, lons, statusTexts)
	if err != nil {
		return classify(errors.Wrap(err, "upsert batch"), models.RowKey{})
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit tx"), models.RowKey{})
	}
	return nil
}

// UpsertRow writes one row in its own transaction.
func (s *Storage) UpsertRow(ctx context.Context, r models.VehicleStatusRow) error {
	key := r.Key()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(errors.Wrap(err, "begin tx"), key)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO vehicle_status (
  asset_id, name, plate_number, vin, position_description,
  event_time, latitude, longitude, status_text
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`+upsertConflict,
		r.AssetID, r.Name, r.PlateNumber, r.VIN, r.PositionDescription,
		r.EventTime.UTC(), r.Latitude, r.Longitude, r.StatusText)
	if err != nil {
		return classify(errors.Wrap(err, "upsert row"), key)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit tx"), key)
	}
	return nil
}

// ListVehicleStatus returns the latest stored rows of one asset, newest first.
func (s *Storage) ListVehicleStatus(ctx context.Context, assetID int64, limit int) ([]models.VehicleStatusRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT
  asset_id, name, plate_number, vin, position_description,
  event_time, latitude, longitude, status_text
FROM vehicle_status
WHERE asset_id = $1
ORDER BY event_time DESC
LIMIT $2
`, assetID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select vehicle status")
	}
	defer rows.Close()

	out := make([]models.VehicleStatusRow, 0, limit)
	for rows.Next() {
		var r models.VehicleStatusRow
		if err := rows.Scan(
			&r.AssetID, &r.Name, &r.PlateNumber, &r.VIN, &r.PositionDescription,
			&r.EventTime, &r.Latitude, &r.Longitude, &r.StatusText,
		); err != nil {
			return nil, errors.Wrap(err, "scan vehicle status")
		}
		r.EventTime = r.EventTime.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate vehicle status")
	}
	return out, nil
}
