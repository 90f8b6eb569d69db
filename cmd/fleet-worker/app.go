package main

import (
	"context"
	"time"

	"github.com/BearBump/FleetBox/config"
	"github.com/BearBump/FleetBox/internal/broker/kafka"
	"github.com/BearBump/FleetBox/internal/cache/rediscache"
	"github.com/BearBump/FleetBox/internal/integrations/fleet"
	"github.com/BearBump/FleetBox/internal/integrations/fleet/fake"
	"github.com/BearBump/FleetBox/internal/integrations/fleet/winfleet"
	"github.com/BearBump/FleetBox/internal/models"
	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/BearBump/FleetBox/internal/pkg/retry"
	"github.com/BearBump/FleetBox/internal/ratelimit"
	"github.com/BearBump/FleetBox/internal/services/backup"
	"github.com/BearBump/FleetBox/internal/services/health"
	"github.com/BearBump/FleetBox/internal/services/housekeeping"
	"github.com/BearBump/FleetBox/internal/services/ingest"
	"github.com/BearBump/FleetBox/internal/services/scheduler"
	"github.com/BearBump/FleetBox/internal/services/transform"
	"github.com/BearBump/FleetBox/internal/services/writer"
	"github.com/BearBump/FleetBox/internal/storage/pgfleet"
	"github.com/BearBump/FleetBox/internal/storage/s3backup"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	jobIngest      = "ingest"
	jobPartitions  = "partitions"
	jobMaintenance = "maintenance"
	jobLogCleanup  = "log-cleanup"
	jobBackup      = "backup"
)

// Storage is what the worker needs from the database layer.
type Storage interface {
	writer.Repository
	EnsureFuturePartitions(ctx context.Context, now time.Time) ([]string, error)
	Maintain(ctx context.Context) error
	Ping(ctx context.Context) error
	ListVehicleStatus(ctx context.Context, assetID int64, limit int) ([]models.VehicleStatusRow, error)
}

type workerFactories struct {
	newStorage     func(ctx context.Context, cfg *config.Config) (st Storage, closeFn func(), err error)
	newFleetClient func(cfg *config.Config, gate fleet.Gate) fleet.Client
	newSinks       func(cfg *config.Config) (sinks []ingest.Sink, closeFn func())
	newBackup      func(ctx context.Context, cfg *config.Config) (*backup.Manager, error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (Storage, func(), error) {
			st, err := connectStorage(ctx, cfg, nil)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newFleetClient: func(cfg *config.Config, gate fleet.Gate) fleet.Client {
			if cfg.FleetAPI.Mode == "fake" {
				return fake.New(cfg.FleetAPI.FakeFleetSize, gate)
			}
			return winfleet.New(winfleet.Options{
				BaseURL:   cfg.FleetAPI.BaseURL,
				UserAgent: cfg.FleetAPI.UserAgent,
				Timeout:   time.Duration(cfg.FleetAPI.RequestTimeoutSeconds) * time.Second,
				Gate:      gate,
			})
		},
		newSinks: func(cfg *config.Config) ([]ingest.Sink, func()) {
			var (
				sinks   []ingest.Sink
				closers []func() error
			)
			if addr := cfg.Redis.Addr(); addr != "" {
				rc := rediscache.New(addr, cfg.Redis.LastRunKey, time.Duration(cfg.Redis.LastRunTTLHours)*time.Hour)
				sinks = append(sinks, rc)
				closers = append(closers, rc.Close)
			}
			if brokers := cfg.Kafka.Brokers(); len(brokers) > 0 {
				p := kafka.NewProducer(brokers, cfg.Kafka.IngestionTopicName)
				sinks = append(sinks, p)
				closers = append(closers, p.Close)
			}
			return sinks, func() {
				for _, c := range closers {
					_ = c()
				}
			}
		},
		newBackup: newBackupManager,
	}
}

// startupSchedule waits min(2^attempt, 30) seconds between connection attempts.
func startupSchedule(attempts int) retry.Schedule {
	s := make(retry.Schedule, 0, attempts)
	for a := 1; a < attempts; a++ {
		d := 30 * time.Second
		if a < 5 {
			d = time.Duration(1<<a) * time.Second
		}
		s = append(s, d)
	}
	return s
}

// connectStorage retries until the database accepts connections.
// A nil schedule means startupSchedule(cfg.Database.StartupAttempts).
func connectStorage(ctx context.Context, cfg *config.Config, s retry.Schedule) (*pgfleet.Storage, error) {
	if s == nil {
		s = startupSchedule(cfg.Database.StartupAttempts)
	}
	var st *pgfleet.Storage
	_, err := retry.Do(ctx, s, func(attempt int) error {
		var err error
		st, err = pgfleet.New(ctx, pgfleet.Options{
			ConnString: cfg.Database.DSN(),
			MaxConns:   cfg.Database.MaxConns,
			MinConns:   cfg.Database.MinConns,

			ReadonlyUser:     cfg.Database.ReadonlyUser,
			ReadonlyPassword: cfg.Database.ReadonlyPassword,
		})
		return err
	}, func(err error, attempt int, wait time.Duration) {
		log.Warn("database not ready, retrying", "attempt", attempt, "max_attempts", s.Attempts(), "wait", wait, "error", err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect database")
	}
	log.Info("database connection established")
	return st, nil
}

func newBackupManager(ctx context.Context, cfg *config.Config) (*backup.Manager, error) {
	if !cfg.Backup.Enabled {
		return nil, nil
	}
	opts := backup.Options{
		Dir:         cfg.Backup.Dir,
		KeepDaily:   cfg.Backup.KeepDaily,
		KeepWeekly:  cfg.Backup.KeepWeekly,
		KeepMonthly: cfg.Backup.KeepMonthly,
	}
	if s3 := cfg.Backup.S3; s3.Endpoint != "" {
		up, err := s3backup.New(s3backup.Options{
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			UseSSL:          s3.UseSSL,
			BucketName:      s3.Bucket,
			Region:          s3.Region,
			Prefix:          s3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		if err := up.CheckBucket(ctx); err != nil {
			return nil, err
		}
		opts.Uploader = up
	}
	dumper := backup.PgDump{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DBName,
		Binary:   cfg.Backup.PgDumpBinary,
	}
	return backup.New(dumper, opts), nil
}

type workerRunOpts struct {
	swaggerPath string
	onListen    func(httpAddr string)
}

func RunFleetWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerRunOpts) error {
	loc, err := time.LoadLocation(cfg.FleetAPI.Timezone)
	if err != nil {
		return errors.Wrap(err, "load timezone")
	}

	st, closeFn, err := f.newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	limiter := ratelimit.New(ratelimit.Config{
		Window:  time.Minute,
		Ceiling: cfg.Worker.RateLimitPerMinute,
		MinGap:  time.Duration(cfg.Worker.MinRequestGapSeconds) * time.Second,
	})
	client := f.newFleetClient(cfg, limiter)

	sinks, closeSinks := f.newSinks(cfg)
	if closeSinks != nil {
		defer closeSinks()
	}

	state := health.NewRunState()
	restoreLastRun(ctx, sinks, state)
	orch := ingest.New(client, transform.New(loc), writer.New(st), ingest.Options{
		Credentials: models.Credentials{Username: cfg.FleetAPI.Username, Password: cfg.FleetAPI.Password},
		Schedule:    retry.Exponential(time.Duration(cfg.Worker.BackoffBaseSeconds)*time.Second, cfg.Worker.MaxAttempts),
		Results:     state,
		Sinks:       sinks,
	})

	backups, err := f.newBackup(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "init backups")
	}
	var probe health.BackupProbe
	if backups != nil {
		probe = backups
	}
	reporter := health.NewReporter(state, limiter, probe, orch, time.Duration(cfg.Backup.MaxAgeHours)*time.Hour)

	sched := newScheduler(cfg, st, orch, backups)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		err := runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:    cfg.Worker.HTTPAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			scheduler:   sched,
			reporter:    reporter,
			storage:     st,
			cfg:         cfg,
		})
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// lastRunStore is a sink that keeps the previous run across restarts.
type lastRunStore interface {
	LastRun(ctx context.Context) (models.IngestionRunResult, bool, error)
}

// restoreLastRun seeds state with the first run found in a sink store.
func restoreLastRun(ctx context.Context, sinks []ingest.Sink, state *health.RunState) {
	for _, s := range sinks {
		store, ok := s.(lastRunStore)
		if !ok {
			continue
		}
		res, ok, err := store.LastRun(ctx)
		if err != nil {
			log.Warn("restore last run", "error", err)
			continue
		}
		if ok {
			state.Publish(res)
			log.Info("restored last ingestion run", "run_id", res.RunID, "success", res.Success, "timestamp", res.Timestamp)
			return
		}
	}
}

func newScheduler(cfg *config.Config, st Storage, orch *ingest.Orchestrator, backups *backup.Manager) *scheduler.Scheduler {
	hours := func(h int) time.Duration { return time.Duration(h) * time.Hour }

	sched := scheduler.New().
		Add(scheduler.Job{
			Name:       jobIngest,
			Interval:   scheduler.FetchInterval(cfg.Worker.FetchIntervalSeconds),
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				if res := orch.RunCycle(ctx); !res.Success {
					return errors.Errorf("ingestion cycle failed: %s", res.Error)
				}
				return nil
			},
		}).
		Add(scheduler.Job{
			Name:       jobPartitions,
			Interval:   hours(cfg.Worker.PartitionIntervalHours),
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := st.EnsureFuturePartitions(ctx, time.Now())
				return err
			},
		}).
		Add(scheduler.Job{
			Name:     jobMaintenance,
			Interval: hours(cfg.Worker.MaintenanceIntervalHours),
			Run:      st.Maintain,
		})

	if cfg.Logging.Dir != "" {
		cleaner := housekeeping.NewLogCleaner(cfg.Logging.Dir, hours(24*cfg.Logging.RetentionDays))
		sched.Add(scheduler.Job{
			Name:       jobLogCleanup,
			Interval:   hours(cfg.Worker.LogCleanupIntervalHours),
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := cleaner.Clean()
				return err
			},
		})
	}
	if backups != nil {
		sched.Add(scheduler.Job{
			Name:     jobBackup,
			Interval: hours(cfg.Backup.IntervalHours),
			Run: func(ctx context.Context) error {
				_, err := backups.Run(ctx)
				return err
			},
		})
	}
	return sched
}
