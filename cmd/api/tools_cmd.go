package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookshelf/api/internal/permissions"
	"bookshelf/api/internal/store"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.migrate(cmd.Context())
		},
	}
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every book, chapter, page and shelf to Meilisearch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.cfg.MeiliURL == "" {
				return fmt.Errorf("MEILI_URL is not set")
			}
			searchService, closeSearch := newSearch(rt)
			defer closeSearch()

			count, err := searchService.ReindexAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			rt.logger.WithField("records", count).Info("reindex complete")
			return nil
		},
	}
}

func newRebuildPermissionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-permissions",
		Short: "Recompute joint permissions for every book",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			perms, err := permissions.NewService(store.NewPostgresStore(rt.db), rt.logger.WithField("component", "permissions"))
			if err != nil {
				return err
			}
			if err := perms.RebuildAll(cmd.Context()); err != nil {
				return fmt.Errorf("rebuild permissions: %w", err)
			}
			rt.logger.Info("joint permissions rebuilt")
			return nil
		},
	}
}
