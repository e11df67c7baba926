package main

import (
	"context"
	"fmt"
	"io"
	"os"

	migrator "github.com/PrimeRin/schema-migrator"
	"github.com/PrimeRin/schema-migrator/db/migrate"
	"github.com/PrimeRin/schema-migrator/internal/config"
	"github.com/PrimeRin/schema-migrator/internal/database"
	"github.com/PrimeRin/schema-migrator/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// env carries what every subcommand needs once flags are parsed.
type env struct {
	ctx    context.Context
	v      *viper.Viper
	stderr io.Writer
}

// NewCommand builds the schema-migrator command tree.
func NewCommand(ctx context.Context) *cobra.Command {
	e := &env{ctx: ctx, v: config.NewViper(), stderr: os.Stderr}

	cmd := &cobra.Command{
		Use:   "schema-migrator",
		Short: "Apply and revert the application's database schema migrations",
		Long: `schema-migrator keeps the database schema in step with the migrations
compiled into it. Applied migrations are recorded in a ledger table.

Settings are read from flags, then SCHEMA_MIGRATOR_* environment variables,
then a .env file in the working directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			e.stderr = cmd.ErrOrStderr()
			return config.LoadDotEnv()
		},
	}
	config.BindFlags(e.v, cmd)

	cmd.AddCommand(
		newMigrateCommand(e),
		newRollbackCommand(e),
		newDownCommand(e),
		newStatusCommand(e),
		newCheckCommand(e),
		newPlanCommand(e),
		newSchemaCommand(e),
		newVersionCommand(e),
	)
	return cmd
}

// manager opens the configured database and registers every application
// migration. The returned close func releases the database.
func (e *env) manager() (*migrator.MigrationManager, func(), error) {
	cfg, err := config.Load(e.v)
	if err != nil {
		return nil, nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(e.stderr, level, cfg.LogFormat)

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	closeFn := func() {
		_ = logger.Sync()
		if err := sqlDB.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}

	opts := []migrator.ManagerOption{
		migrator.WithLogger(logger),
		migrator.WithLedgerTable(cfg.LedgerTable),
	}
	if !cfg.Lock {
		opts = append(opts, migrator.WithoutLock())
	}

	manager, err := migrator.NewMigrationsManager(db, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	manager.Register(migrate.All()...)
	return manager, closeFn, nil
}
