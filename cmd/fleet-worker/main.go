package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FleetBox/config"
	"github.com/BearBump/FleetBox/internal/broker/kafka"
	"github.com/BearBump/FleetBox/internal/broker/messages"
	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath  string
	swaggerPath string
}

func (o *rootOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", os.Getenv("configPath"), "path to the YAML config file")
	fs.StringVar(&o.swaggerPath, "swagger", os.Getenv("swaggerPath"), "path to the worker swagger.json (docs are off when empty)")
}

// load reads .env (if any), the config file and sets up logging.
func (o *rootOptions) load() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфига, %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := log.Init(&log.Options{
		Name:       "fleet-worker",
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Dir:        cfg.Logging.Dir,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		CallerSkip: 2,
	}); err != nil {
		return nil, errors.Wrap(err, "init logger")
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "fleet-worker",
		Long:          "FleetBox worker collects vehicle positions from the fleet API and stores them in monthly partitions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = log.Sync()
		},
	}
	opts.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newRunCommand(opts),
		newPartitionsCommand(opts),
		newBackupCommand(opts),
		newEventsCommand(opts),
	)
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion scheduler and the health HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			err = RunFleetWorker(cmd.Context(), cfg, defaultWorkerFactories(), workerRunOpts{swaggerPath: opts.swaggerPath})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error(err, "fleet worker stopped")
				return err
			}
			log.Info("fleet worker stopped")
			return nil
		},
	}
}

func newPartitionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions",
		Short: "Create the current and next month partitions and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			st, err := connectStorage(cmd.Context(), cfg, nil)
			if err != nil {
				log.Error(err, "connect database")
				return err
			}
			defer st.Close()

			created, err := st.EnsureFuturePartitions(cmd.Context(), time.Now())
			if err != nil {
				log.Error(err, "ensure partitions")
				return err
			}
			log.Info("partitions ensured", "created", created)
			return nil
		},
	}
}

func newBackupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Take one database backup with rotation and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			cfg.Backup.Enabled = true
			m, err := newBackupManager(cmd.Context(), cfg)
			if err != nil {
				log.Error(err, "init backups")
				return err
			}
			paths, err := m.Run(cmd.Context())
			if err != nil {
				log.Error(err, "backup failed")
				return err
			}
			log.Info("backup written", "files", paths)
			return nil
		},
	}
}

func newEventsCommand(opts *rootOptions) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print ingestion completed events from Kafka as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			brokers := cfg.Kafka.Brokers()
			if len(brokers) == 0 {
				return errors.New("kafka.host is not configured")
			}
			c := kafka.NewConsumer(brokers, cfg.Kafka.IngestionTopicName, group)
			defer c.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			err = c.Consume(cmd.Context(), func(ctx context.Context, ev messages.IngestionCompleted) error {
				return enc.Encode(ev)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "consumer group id (empty reads partition 0 without committing offsets)")
	return cmd
}
