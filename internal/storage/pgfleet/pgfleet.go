package pgfleet

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const (
	// ParentTable is the range-partitioned status table.
	ParentTable = "vehicle_status"

	defaultMaxConns = 10
)

type Options struct {
	ConnString string
	MaxConns   int32 // 1..10, default: 10
	MinConns   int32

	// ReadonlyUser, when set, is created as a login role with SELECT on vehicle_status only.
	ReadonlyUser     string
	ReadonlyPassword string
}

type Storage struct {
	db *pgxpool.Pool

	partitions singleflight.Group
}

func New(ctx context.Context, opts Options) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}
	if opts.MaxConns <= 0 || opts.MaxConns > defaultMaxConns {
		opts.MaxConns = defaultMaxConns
	}
	if opts.MinConns < 0 || opts.MinConns > opts.MaxConns {
		opts.MinConns = 1
	}
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	// Все timestamptz читаются и пишутся в UTC.
	cfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if opts.ReadonlyUser != "" {
		if err := s.initReadonlyRole(ctx, opts.ReadonlyUser, opts.ReadonlyPassword); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.Ping(ctx), "ping pg")
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
