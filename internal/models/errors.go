package models

import (
	"fmt"
	"strings"
)

// AuthError is returned when the login call fails or yields no token.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("auth failed: http %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError is returned when the asset snapshot cannot be retrieved or decoded.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch assets failed: http %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch assets failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type SkipReason string

const (
	SkipMissingFields     SkipReason = "missing_fields"
	SkipInvalidStatusList SkipReason = "invalid_status_list"
	SkipInvalidType       SkipReason = "invalid_type"
	SkipBadTimestamp      SkipReason = "bad_timestamp"
)

// TransformSkip is a per-record diagnostic. It never aborts a cycle.
type TransformSkip struct {
	AssetID string
	// StatusIndex is the position in statusList, -1 when the whole snapshot was skipped.
	StatusIndex int
	Reason      SkipReason
	Fields      []string
	Detail      string
}

func (s *TransformSkip) Error() string {
	scope := "snapshot"
	if s.StatusIndex >= 0 {
		scope = fmt.Sprintf("status[%d]", s.StatusIndex)
	}
	msg := fmt.Sprintf("skip %s of asset %s: %s", scope, s.AssetID, s.Reason)
	if len(s.Fields) > 0 {
		msg += " [" + strings.Join(s.Fields, ", ") + "]"
	}
	if s.Detail != "" {
		msg += ": " + s.Detail
	}
	return msg
}

// PartitionMissingError means the target range partition does not exist.
// Month is zero when it could not be recovered from the server error.
type PartitionMissingError struct {
	Month PartitionMonth
	Err   error
}

func (e *PartitionMissingError) Error() string {
	if e.Month.IsZero() {
		return fmt.Sprintf("partition missing: %v", e.Err)
	}
	return fmt.Sprintf("partition missing for %s: %v", e.Month, e.Err)
}

func (e *PartitionMissingError) Unwrap() error { return e.Err }

// RowConstraintError is a per-row data or integrity violation.
type RowConstraintError struct {
	Key  RowKey
	Code string
	Err  error
}

func (e *RowConstraintError) Error() string {
	return fmt.Sprintf("row %s rejected (sqlstate %s): %v", e.Key, e.Code, e.Err)
}

func (e *RowConstraintError) Unwrap() error { return e.Err }

// ConnectionError is fatal for the current store call.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
