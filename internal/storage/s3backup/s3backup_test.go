package s3backup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Validates(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	u, err := New(Options{Endpoint: "localhost:9000", BucketName: "backups", Prefix: "fleetbox"})
	require.NoError(t, err)
	require.Equal(t, "fleetbox/daily/fleetbox_2025-04-28.sql", u.ObjectKey("/backups", "/backups/daily/fleetbox_2025-04-28.sql"))
}
