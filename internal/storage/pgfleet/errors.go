package pgfleet

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// Detail of a routing failure looks like
// "Partition key of the failing row contains (event_time) = (2025-04-28 05:59:04+00)."
var partitionKeyRe = regexp.MustCompile(`event_time\) = \((\d{4})-(\d{2})-\d{2}`)

// classify maps a pgx error onto the storage error taxonomy. key is the
// affected row for single-row calls and zero for batches.
func classify(err error, key models.RowKey) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &models.ConnectionError{Err: err}
	}

	// 23514 используется и для CHECK, поэтому различаем по тексту.
	if strings.Contains(pgErr.Message, "no partition of relation") {
		month := monthFromDetail(pgErr.Detail)
		if month.IsZero() && !key.EventTime.IsZero() {
			month = models.PartitionMonthOf(key.EventTime)
		}
		return &models.PartitionMissingError{Month: month, Err: err}
	}

	switch class := sqlStateClass(pgErr.Code); class {
	case "22", "23":
		return &models.RowConstraintError{Key: key, Code: pgErr.Code, Err: err}
	case "08", "57":
		return &models.ConnectionError{Err: err}
	}
	return err
}

func sqlStateClass(code string) string {
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}

func monthFromDetail(detail string) models.PartitionMonth {
	m := partitionKeyRe.FindStringSubmatch(detail)
	if m == nil {
		return models.PartitionMonth{}
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return models.PartitionMonth{}
	}
	return models.PartitionMonth{Year: year, Month: time.Month(month)}
}
