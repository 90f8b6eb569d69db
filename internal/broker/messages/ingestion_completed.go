package messages

import (
	"time"

	"github.com/BearBump/FleetBox/internal/models"
)

const IngestionCompletedTopic = "fleet.ingestion.completed"

// IngestionCompleted is emitted once per ingestion cycle, successful or not.
type IngestionCompleted struct {
	RunID     string    `json:"run_id"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`

	RowsAttempted int `json:"rows_attempted"`
	RowsFailed    int `json:"rows_failed"`
	Snapshots     int `json:"snapshots"`
	Attempts      int `json:"attempts"`

	Error *string `json:"error,omitempty"`
}

func NewIngestionCompleted(res models.IngestionRunResult) IngestionCompleted {
	msg := IngestionCompleted{
		RunID:         res.RunID,
		Success:       res.Success,
		Timestamp:     res.Timestamp,
		RowsAttempted: res.RowsAttempted,
		RowsFailed:    res.RowsFailed,
		Snapshots:     res.Snapshots,
		Attempts:      res.Attempts,
	}
	if res.Error != "" {
		e := res.Error
		msg.Error = &e
	}
	return msg
}
