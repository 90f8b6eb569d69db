package fleet

import (
	"context"

	"github.com/BearBump/FleetBox/internal/models"
)

// Client is the remote fleet API: login plus the asset snapshot.
// Implementations consume the Gate before every network call and never retry.
type Client interface {
	Authenticate(ctx context.Context, creds models.Credentials) (string, error)
	FetchAssets(ctx context.Context, token string) ([]models.AssetSnapshot, error)
}

// Gate is the outbound request limiter.
type Gate interface {
	Acquire(ctx context.Context) error
}

type noGate struct{}

func (noGate) Acquire(context.Context) error { return nil }

// NoGate lets every request through.
var NoGate Gate = noGate{}
