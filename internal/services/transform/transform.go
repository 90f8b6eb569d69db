package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/BearBump/FleetBox/internal/pkg/metrics"
)

// TxDateTimeLayout is the position timestamp format sent by the API (no zone).
const TxDateTimeLayout = "2006-01-02T15:04:05"

var (
	snapshotFields    = []string{"id", "name", "plate_number", "vin", "statusList"}
	statusFields      = []string{"id", "position", "status_text"}
	positionFields    = []string{"txDateTime", "description", "coordinates"}
	coordinatesFields = []string{"latitude", "longitude"}
)

type Result struct {
	Rows      []models.VehicleStatusRow
	Skips     []*models.TransformSkip
	Snapshots int
}

// Transformer turns raw asset snapshots into status rows. It never fails:
// bad input is dropped per snapshot or per status entry and reported in Result.Skips.
type Transformer struct {
	loc    *time.Location
	logger log.Logger
}

func New(loc *time.Location) *Transformer {
	if loc == nil {
		loc = time.UTC
	}
	return &Transformer{loc: loc, logger: log.WithName("transform")}
}

func (t *Transformer) Transform(snapshots []models.AssetSnapshot) Result {
	res := Result{Snapshots: len(snapshots)}
	for _, s := range snapshots {
		rows, skips := t.snapshot(s)
		res.Rows = append(res.Rows, rows...)
		res.Skips = append(res.Skips, skips...)
	}

	for _, sk := range res.Skips {
		t.logger.Error(sk, "record skipped", "asset_id", sk.AssetID, "reason", string(sk.Reason))
		metrics.TransformSkipsTotal.WithLabelValues(string(sk.Reason)).Inc()
	}
	t.logger.Info("prepared records", "rows", len(res.Rows), "snapshots", res.Snapshots, "skipped", len(res.Skips))
	return res
}

func (t *Transformer) snapshot(s models.AssetSnapshot) ([]models.VehicleStatusRow, []*models.TransformSkip) {
	if s == nil {
		return nil, []*models.TransformSkip{{AssetID: "unknown", StatusIndex: -1, Reason: models.SkipInvalidType, Detail: "snapshot is not an object"}}
	}
	assetRef := describeID(s["id"])

	if missing := missingFields(s, snapshotFields); len(missing) > 0 {
		return nil, []*models.TransformSkip{{AssetID: assetRef, StatusIndex: -1, Reason: models.SkipMissingFields, Fields: missing}}
	}

	assetID, ok := toInt64(s["id"])
	if !ok {
		return nil, []*models.TransformSkip{typeSkip(assetRef, -1, "id", s["id"])}
	}
	base := models.VehicleStatusRow{AssetID: assetID}
	for _, f := range []struct {
		key string
		dst *string
	}{{"name", &base.Name}, {"plate_number", &base.PlateNumber}, {"vin", &base.VIN}} {
		v, ok := toText(s[f.key])
		if !ok {
			return nil, []*models.TransformSkip{typeSkip(assetRef, -1, f.key, s[f.key])}
		}
		*f.dst = v
	}

	list, ok := s["statusList"].([]any)
	if !ok {
		return nil, []*models.TransformSkip{{
			AssetID: assetRef, StatusIndex: -1, Reason: models.SkipInvalidStatusList,
			Detail: fmt.Sprintf("statusList is %T", s["statusList"]),
		}}
	}

	var (
		rows  []models.VehicleStatusRow
		skips []*models.TransformSkip
	)
	for i, raw := range list {
		st, ok := raw.(map[string]any)
		if !ok {
			skips = append(skips, typeSkip(assetRef, i, "statusList[]", raw))
			continue
		}
		kind, ok := toInt64(st["id"])
		if !ok || (kind != models.StatusKindCurrent && kind != models.StatusKindPrevious) {
			continue
		}
		row, skip := t.status(base, assetRef, i, st)
		if skip != nil {
			skips = append(skips, skip)
			continue
		}
		rows = append(rows, row)
	}
	return rows, skips
}

func (t *Transformer) status(base models.VehicleStatusRow, assetRef string, idx int, st map[string]any) (models.VehicleStatusRow, *models.TransformSkip) {
	if missing := missingFields(st, statusFields); len(missing) > 0 {
		return base, &models.TransformSkip{AssetID: assetRef, StatusIndex: idx, Reason: models.SkipMissingFields, Fields: missing}
	}
	pos, ok := st["position"].(map[string]any)
	if !ok {
		return base, typeSkip(assetRef, idx, "position", st["position"])
	}
	if missing := missingFields(pos, positionFields); len(missing) > 0 {
		return base, &models.TransformSkip{AssetID: assetRef, StatusIndex: idx, Reason: models.SkipMissingFields, Fields: prefixed("position.", missing)}
	}
	coords, ok := pos["coordinates"].(map[string]any)
	if !ok {
		return base, typeSkip(assetRef, idx, "position.coordinates", pos["coordinates"])
	}
	if missing := missingFields(coords, coordinatesFields); len(missing) > 0 {
		return base, &models.TransformSkip{AssetID: assetRef, StatusIndex: idx, Reason: models.SkipMissingFields, Fields: prefixed("position.coordinates.", missing)}
	}

	row := base
	txRaw, ok := pos["txDateTime"].(string)
	if !ok {
		return base, typeSkip(assetRef, idx, "position.txDateTime", pos["txDateTime"])
	}
	eventTime, err := time.ParseInLocation(TxDateTimeLayout, txRaw, t.loc)
	if err != nil {
		return base, &models.TransformSkip{
			AssetID: assetRef, StatusIndex: idx, Reason: models.SkipBadTimestamp,
			Fields: []string{"position.txDateTime"}, Detail: fmt.Sprintf("%q", txRaw),
		}
	}
	row.EventTime = eventTime.UTC()

	if row.Latitude, ok = toFloat(coords["latitude"]); !ok {
		return base, typeSkip(assetRef, idx, "position.coordinates.latitude", coords["latitude"])
	}
	if row.Longitude, ok = toFloat(coords["longitude"]); !ok {
		return base, typeSkip(assetRef, idx, "position.coordinates.longitude", coords["longitude"])
	}
	if row.PositionDescription, ok = toText(pos["description"]); !ok {
		return base, typeSkip(assetRef, idx, "position.description", pos["description"])
	}
	if row.StatusText, ok = toText(st["status_text"]); !ok {
		return base, typeSkip(assetRef, idx, "status_text", st["status_text"])
	}
	return row, nil
}

// missingFields lists keys that are absent or null, in the order given.
func missingFields(m map[string]any, keys []string) []string {
	var out []string
	for _, k := range keys {
		if v, ok := m[k]; !ok || v == nil {
			out = append(out, k)
		}
	}
	return out
}

func prefixed(prefix string, fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = prefix + f
	}
	return out
}

func typeSkip(assetRef string, idx int, field string, v any) *models.TransformSkip {
	return &models.TransformSkip{
		AssetID: assetRef, StatusIndex: idx, Reason: models.SkipInvalidType,
		Fields: []string{field}, Detail: fmt.Sprintf("unexpected %T", v),
	}
}

func describeID(v any) string {
	if v == nil {
		return "unknown"
	}
	if s, ok := toText(v); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toText(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	}
	return "", false
}
