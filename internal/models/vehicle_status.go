package models

import (
	"fmt"
	"time"
)

// AssetSnapshot: сырой объект ассета в том виде, в каком его вернул API.
// Поля не типизируются заранее: трансформер сам проверяет наличие и типы.
type AssetSnapshot map[string]any

// Status entry kinds retained by the collector.
const (
	StatusKindCurrent  = 0
	StatusKindPrevious = 1
)

type Credentials struct {
	Username string
	Password string
}

type VehicleStatusRow struct {
	AssetID             int64
	Name                string
	PlateNumber         string
	VIN                 string
	PositionDescription string
	EventTime           time.Time
	Latitude            float64
	Longitude           float64
	StatusText          string
}

// RowKey is the storage primary key (asset_id, event_time).
type RowKey struct {
	AssetID   int64
	EventTime time.Time
}

func (r VehicleStatusRow) Key() RowKey {
	return RowKey{AssetID: r.AssetID, EventTime: r.EventTime.UTC().Round(0)}
}

func (k RowKey) String() string {
	return fmt.Sprintf("asset_id=%d event_time=%s", k.AssetID, k.EventTime.Format(time.RFC3339))
}

// PartitionMonth identifies one monthly range partition of the status table.
type PartitionMonth struct {
	Year  int
	Month time.Month
}

func PartitionMonthOf(t time.Time) PartitionMonth {
	u := t.UTC()
	return PartitionMonth{Year: u.Year(), Month: u.Month()}
}

func (p PartitionMonth) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (p PartitionMonth) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p PartitionMonth) Next() PartitionMonth {
	return PartitionMonthOf(p.End())
}

func (p PartitionMonth) IsZero() bool {
	return p.Year == 0
}

// TableName returns the deterministic partition name, e.g. vehicle_status_2025_04.
func (p PartitionMonth) TableName(parent string) string {
	return fmt.Sprintf("%s_%04d_%02d", parent, p.Year, int(p.Month))
}

func (p PartitionMonth) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// IngestionRunResult is the outcome of the latest ingestion cycle.
// It is overwritten every cycle.
type IngestionRunResult struct {
	RunID         string    `json:"run_id"`
	Success       bool      `json:"success"`
	Timestamp     time.Time `json:"timestamp"`
	RowsAttempted int       `json:"rows_attempted"`
	RowsFailed    int       `json:"rows_failed"`
	Snapshots     int       `json:"snapshots"`
	Attempts      int       `json:"attempts"`
	Error         string    `json:"error,omitempty"`
}

// StoreReport describes what one writer call did.
type StoreReport struct {
	Attempted         int
	Stored            int
	Failed            int
	PartitionsCreated int
	FailedKeys        []RowKey
}

// OK reports whether every attempted row is durably stored.
func (r StoreReport) OK() bool {
	return r.Failed == 0 && r.Stored == r.Attempted
}
