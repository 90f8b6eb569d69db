package pgfleet

import (
	"context"
	"net"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/BearBump/FleetBox/internal/services/writer"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	st, err := New(context.Background(), Options{ConnString: startPostgresDSN(t)("admin", "admin"), MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

// startPostgresDSN starts a container and returns a DSN builder for it.
func startPostgresDSN(t *testing.T) func(user, password string) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "fleetbox_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return func(user, password string) string {
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(user, password),
			Host:     net.JoinHostPort(host, port.Port()),
			Path:     "/fleetbox_test",
			RawQuery: "sslmode=disable",
		}
		return u.String()
	}
}

func row(assetID int64, at time.Time, lat float64, text string) models.VehicleStatusRow {
	return models.VehicleStatusRow{
		AssetID:             assetID,
		Name:                "Truck",
		PlateNumber:         "AB-123",
		VIN:                 "VIN",
		PositionDescription: "Luxembourg",
		EventTime:           at,
		Latitude:            lat,
		Longitude:           6.13,
		StatusText:          text,
	}
}

func TestPGFleet_RepoFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	april := time.Date(2025, 4, 28, 5, 59, 4, 0, time.UTC)

	// партиции ещё нет
	err := st.UpsertBatch(ctx, []models.VehicleStatusRow{row(1, april, 49.6, "moving")})
	var pm *models.PartitionMissingError
	require.ErrorAs(t, err, &pm)
	require.Equal(t, models.PartitionMonth{Year: 2025, Month: time.April}, pm.Month)

	created, err := st.EnsurePartition(ctx, pm.Month)
	require.NoError(t, err)
	require.True(t, created)

	created, err = st.EnsurePartition(ctx, pm.Month)
	require.NoError(t, err)
	require.False(t, created)

	require.NoError(t, st.UpsertBatch(ctx, []models.VehicleStatusRow{
		row(1, april, 49.6, "moving"),
		row(2, april, 49.7, "parked"),
	}))

	// last write wins
	require.NoError(t, st.UpsertBatch(ctx, []models.VehicleStatusRow{row(1, april, 49.9, "parked")}))
	got, err := st.ListVehicleStatus(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.InDelta(t, 49.9, got[0].Latitude, 1e-9)
	require.Equal(t, "parked", got[0].StatusText)
	require.True(t, april.Equal(got[0].EventTime))

	partitions, err := st.ListPartitions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"vehicle_status_2025_04"}, partitions)
}

func TestPGFleet_PoisonRow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	at := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	_, err := st.EnsurePartition(ctx, models.PartitionMonthOf(at))
	require.NoError(t, err)

	bad := row(3, at, 123, "moving")
	err = st.UpsertBatch(ctx, []models.VehicleStatusRow{row(4, at, 49.1, "moving"), bad})
	var rc *models.RowConstraintError
	require.ErrorAs(t, err, &rc)
	require.Equal(t, "23514", rc.Code)

	// батч откатился целиком
	got, err := st.ListVehicleStatus(ctx, 4, 10)
	require.NoError(t, err)
	require.Empty(t, got)

	err = st.UpsertRow(ctx, bad)
	require.ErrorAs(t, err, &rc)
	require.Equal(t, bad.Key(), rc.Key)

	require.NoError(t, st.UpsertRow(ctx, row(4, at, 49.1, "moving")))
	got, err = st.ListVehicleStatus(ctx, 4, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestPGFleet_UpsertRowPartitionMissing(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	at := time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
	err := st.UpsertRow(ctx, row(5, at, 49.1, "moving"))
	var pm *models.PartitionMissingError
	require.ErrorAs(t, err, &pm)
	require.Equal(t, models.PartitionMonth{Year: 2024, Month: time.December}, pm.Month)
}

func TestPGFleet_ConcurrentEnsurePartition(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	month := models.PartitionMonth{Year: 2025, Month: time.June}
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.EnsurePartition(ctx, month)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := st.PartitionLogCount(ctx, month.TableName(ParentTable))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPGFleet_FuturePartitionsAndMaintenance(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	now := time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)
	created, err := st.EnsureFuturePartitions(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []string{"vehicle_status_2025_12", "vehicle_status_2026_01"}, created)

	created, err = st.EnsureFuturePartitions(ctx, now)
	require.NoError(t, err)
	require.Empty(t, created)

	require.NoError(t, st.UpsertBatch(ctx, []models.VehicleStatusRow{row(1, now, 49.6, "moving")}))
	require.NoError(t, st.Maintain(ctx))
	require.NoError(t, st.Ping(ctx))
}

func TestPGFleet_WriterRepairsPartitionAndIsolatesBadRow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	at := time.Date(2025, 7, 3, 8, 30, 0, 0, time.UTC)
	bad := row(12, at, 123, "moving")
	rows := []models.VehicleStatusRow{
		row(11, at, 49.6, "moving"),
		bad,
		row(13, at.Add(time.Minute), 49.7, "parked"),
	}

	rep, err := writer.New(st).Store(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, 3, rep.Attempted)
	require.Equal(t, 2, rep.Stored)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, 1, rep.PartitionsCreated)
	require.Equal(t, []models.RowKey{bad.Key()}, rep.FailedKeys)

	n, err := st.PartitionLogCount(ctx, "vehicle_status_2025_07")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	for _, id := range []int64{11, 13} {
		got, err := st.ListVehicleStatus(ctx, id, 10)
		require.NoError(t, err)
		require.Len(t, got, 1, "asset %d", id)
	}
	got, err := st.ListVehicleStatus(ctx, 12, 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPGFleet_ReadonlyRole(t *testing.T) {
	dsn := startPostgresDSN(t)
	ctx := context.Background()
	password := "it's read only"

	opts := Options{ConnString: dsn("admin", "admin"), MaxConns: 2, ReadonlyUser: "fleet_reader", ReadonlyPassword: password}
	st, err := New(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	// повторный старт не падает на существующей роли
	again, err := New(ctx, opts)
	require.NoError(t, err)
	again.Close()

	at := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err = st.EnsurePartition(ctx, models.PartitionMonthOf(at))
	require.NoError(t, err)
	require.NoError(t, st.UpsertBatch(ctx, []models.VehicleStatusRow{row(21, at, 49.6, "moving")}))

	conn, err := pgx.Connect(ctx, dsn("fleet_reader", password))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(ctx) })

	var n int
	require.NoError(t, conn.QueryRow(ctx, `SELECT count(*) FROM vehicle_status`).Scan(&n))
	require.Equal(t, 1, n)

	_, err = conn.Exec(ctx, `DELETE FROM vehicle_status`)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "42501", pgErr.Code)

	err = conn.QueryRow(ctx, `SELECT count(*) FROM partition_management_log`).Scan(&n)
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "42501", pgErr.Code)
}
