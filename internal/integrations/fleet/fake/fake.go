package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/BearBump/FleetBox/internal/integrations/fleet"
	"github.com/BearBump/FleetBox/internal/models"
)

// FakeClient is an offline stand-in for the Winfleet API, used for local runs without credentials.
// Парк детерминированный: координаты и статусы зависят от (asset id, минута).
type FakeClient struct {
	fleetSize int
	gate      fleet.Gate
	now       func() time.Time
}

var _ fleet.Client = (*FakeClient)(nil)

func New(fleetSize int, gate fleet.Gate) *FakeClient {
	if fleetSize <= 0 {
		fleetSize = 5
	}
	if gate == nil {
		gate = fleet.NoGate
	}
	return &FakeClient{fleetSize: fleetSize, gate: gate, now: time.Now}
}

func (f *FakeClient) Authenticate(ctx context.Context, creds models.Credentials) (string, error) {
	if err := f.gate.Acquire(ctx); err != nil {
		return "", &models.AuthError{Err: err}
	}
	return "fake-token-" + creds.Username, nil
}

func (f *FakeClient) FetchAssets(ctx context.Context, token string) ([]models.AssetSnapshot, error) {
	if err := f.gate.Acquire(ctx); err != nil {
		return nil, &models.FetchError{Err: err}
	}
	now := f.now().UTC().Truncate(time.Minute)

	out := make([]models.AssetSnapshot, 0, f.fleetSize)
	for i := 1; i <= f.fleetSize; i++ {
		id := 1000 + i
		v := hash(id, now)

		// ~1/3 машин стоит
		text := "moving"
		if v%3 == 0 {
			text = "parked"
		}
		lat := 49.45 + float64(v%3000)/10000
		lon := 5.90 + float64((v/3000)%6000)/10000

		out = append(out, models.AssetSnapshot{
			"id":           json.Number(fmt.Sprint(id)),
			"name":         fmt.Sprintf("Vehicle %02d", i),
			"plate_number": fmt.Sprintf("FB-%04d", id),
			"vin":          fmt.Sprintf("WFAKE%012d", id),
			"statusList": []any{
				status(models.StatusKindCurrent, now, text, lat, lon),
				status(models.StatusKindPrevious, now.Add(-time.Minute), "moving", lat-0.001, lon-0.001),
			},
		})
	}
	return out, nil
}

func status(kind int, at time.Time, text string, lat, lon float64) map[string]any {
	return map[string]any{
		"id":          json.Number(fmt.Sprint(kind)),
		"status_text": text,
		"position": map[string]any{
			"txDateTime":  at.Format("2006-01-02T15:04:05"),
			"description": "Luxembourg",
			"coordinates": map[string]any{
				"latitude":  json.Number(fmt.Sprintf("%.6f", lat)),
				"longitude": json.Number(fmt.Sprintf("%.6f", lon)),
			},
		},
	}
}

func hash(id int, at time.Time) uint32 {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%d|%d", id, at.Unix())
	return h.Sum32()
}
