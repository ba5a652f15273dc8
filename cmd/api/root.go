package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bookshelf/api/internal/config"
	"bookshelf/api/internal/logging"
	"bookshelf/api/internal/store"
)

type rootOptions struct {
	envFiles []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	serve := newServeCmd(opts)
	cmd := &cobra.Command{
		Use:           "bookshelf",
		Short:         "Bookshelf wiki API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "env files to load before reading the environment")
	cmd.AddCommand(serve, newMigrateCmd(opts), newReindexCmd(opts), newRebuildPermissionsCmd(opts))
	return cmd
}

// env is the shared setup every command starts from.
type env struct {
	cfg    config.Config
	logger *logrus.Logger
	db     *sql.DB
}

func (o *rootOptions) open(ctx context.Context) (*env, error) {
	cfg, err := config.Load(o.envFiles...)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return &env{cfg: cfg, logger: logger, db: db}, nil
}

func (r *env) migrate(ctx context.Context) error {
	applied, err := store.ApplyMigrations(ctx, r.db, r.cfg.MigrationsDir, r.logger.WithField("component", "migrate"))
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	r.logger.WithField("applied", len(applied)).Info("migrations up to date")
	return nil
}

func (r *env) Close() error {
	return r.db.Close()
}
