package vehicles_api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/go-chi/chi/v5"
)

type StatusReader interface {
	ListVehicleStatus(ctx context.Context, assetID int64, limit int) ([]models.VehicleStatusRow, error)
}

// VehiclesAPI exposes stored vehicle positions over HTTP.
type VehiclesAPI struct {
	r StatusReader
}

func New(r StatusReader) *VehiclesAPI {
	return &VehiclesAPI{r: r}
}

func (a *VehiclesAPI) Mount(r chi.Router) {
	r.Get("/vehicles/{assetID}/statuses", a.ListVehicleStatuses)
}

type VehicleStatus struct {
	AssetID             int64     `json:"asset_id"`
	Name                string    `json:"name"`
	PlateNumber         string    `json:"plate_number"`
	VIN                 string    `json:"vin"`
	PositionDescription string    `json:"position_description"`
	EventTime           time.Time `json:"event_time"`
	Latitude            float64   `json:"latitude"`
	Longitude           float64   `json:"longitude"`
	StatusText          string    `json:"status_text"`
}

type ListVehicleStatusesResponse struct {
	Statuses []VehicleStatus `json:"statuses"`
}

// ListVehicleStatuses handles GET /vehicles/{assetID}/statuses?limit=N.
func (a *VehiclesAPI) ListVehicleStatuses(w http.ResponseWriter, r *http.Request) {
	assetID, err := strconv.ParseInt(chi.URLParam(r, "assetID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "assetID must be an integer"})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
	}

	rows, err := a.r.ListVehicleStatus(r.Context(), assetID, limit)
	if err != nil {
		log.Error(err, "list vehicle statuses", "asset_id", assetID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, ListVehicleStatusesResponse{Statuses: toVehicleStatuses(rows)})
}

func toVehicleStatuses(rows []models.VehicleStatusRow) []VehicleStatus {
	out := make([]VehicleStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, VehicleStatus{
			AssetID:             r.AssetID,
			Name:                r.Name,
			PlateNumber:         r.PlateNumber,
			VIN:                 r.VIN,
			PositionDescription: r.PositionDescription,
			EventTime:           r.EventTime.UTC(),
			Latitude:            r.Latitude,
			Longitude:           r.Longitude,
			StatusText:          r.StatusText,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
