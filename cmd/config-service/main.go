package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "riskcfg/cmd/config-service/docs"
	"riskcfg/internal/broker"
	"riskcfg/internal/config"
	"riskcfg/internal/constants"
	"riskcfg/internal/logger"
	"riskcfg/pkg/bootstrap"
	"riskcfg/pkg/logging"
	"riskcfg/pkg/migrations"
	"riskcfg/pkg/models"
)

var (
	configFile string
)

// @title           Event Config Version Service API
// @version         1.0
// @description     Lifecycle, activation, rollback, comparison and audit of anti-fraud event configuration versions

// @contact.name   Risk Platform Team

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

func main() {
	rootCmd := &cobra.Command{
		Use:   "config-service",
		Short: "Event configuration version service",
		Long:  "Config Service owns the lifecycle of anti-fraud event configuration versions",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), eventsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves --config or CONFIG_FILE and builds the logger.
func loadConfig() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog(constants.ServiceName)

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the config service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Config Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(ctx)
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	var steps int

	withDB := func(run func(cmd *cobra.Command, cfg *config.Config, log logger.Logger, connector *bootstrap.DatabaseConnector) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()
			if cfg.Versioning.Storage != "postgres" {
				return fmt.Errorf("migrations need versioning.storage=postgres, got %q", cfg.Versioning.Storage)
			}
			return run(cmd, cfg, log, bootstrap.NewDatabaseConnector(cfg, log))
		}
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withDB(func(cmd *cobra.Command, cfg *config.Config, log logger.Logger, connector *bootstrap.DatabaseConnector) error {
			db, err := connector.InitPostgreSQL(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.UpPostgres(db); err != nil {
				return err
			}
			mc, err := connector.InitMongoDB(cmd.Context())
			if err != nil {
				return err
			}
			if mc != nil {
				defer mc.Disconnect(cmd.Context())
				if err := migrations.EnsureDictionaryIndexes(cmd.Context(), mc.Database(mongoDatabase(cfg))); err != nil {
					return err
				}
			}
			log.Info("Migrations applied")
			return nil
		}),
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations",
		RunE: withDB(func(cmd *cobra.Command, cfg *config.Config, log logger.Logger, connector *bootstrap.DatabaseConnector) error {
			db, err := connector.InitPostgreSQL(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.DownPostgres(db, steps); err != nil {
				return err
			}
			log.Infow("Migrations reverted", "steps", steps)
			return nil
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to revert")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withDB(func(cmd *cobra.Command, cfg *config.Config, log logger.Logger, connector *bootstrap.DatabaseConnector) error {
			db, err := connector.InitPostgreSQL(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := migrations.PostgresVersion(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		}),
	})

	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect version lifecycle notifications",
	}

	var topic, group string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print lifecycle notifications as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			// Tailing must not move the offsets of a real consumer group unless asked to.
			consumer, err := broker.NewConsumer(cfg.Broker, log, broker.WithGroupID(group))
			if err != nil {
				return err
			}
			defer consumer.Close()

			if topic == "" {
				topic = cfg.Broker.Kafka.EventsTopic
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			enc := json.NewEncoder(cmd.OutOrStdout())
			err = consumer.Consume(ctx, topic, func(_ context.Context, msg models.MessageEnvelope) error {
				return enc.Encode(msg)
			})
			if err != nil && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	tail.Flags().StringVar(&topic, "topic", "", "Topic to read (defaults to broker.kafka.events_topic)")
	tail.Flags().StringVar(&group, "group", "", "Consumer group to join; empty reads new messages without committing")
	cmd.AddCommand(tail)

	return cmd
}
