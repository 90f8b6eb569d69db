package fake

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_Deterministic(t *testing.T) {
	c := New(3, nil)
	fixed := time.Date(2025, 4, 28, 5, 59, 4, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	tok, err := c.Authenticate(context.Background(), models.Credentials{Username: "demo"})
	require.NoError(t, err)
	require.Equal(t, "fake-token-demo", tok)

	a, err := c.FetchAssets(context.Background(), tok)
	require.NoError(t, err)
	b, err := c.FetchAssets(context.Background(), tok)
	require.NoError(t, err)

	require.Len(t, a, 3)
	require.Equal(t, a, b)

	statuses, ok := a[0]["statusList"].([]any)
	require.True(t, ok)
	require.Len(t, statuses, 2)
	pos := statuses[0].(map[string]any)["position"].(map[string]any)
	require.Equal(t, "2025-04-28T05:59:00", pos["txDateTime"])
}
