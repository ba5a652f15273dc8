package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bookshelf/api/internal/activity"
	"bookshelf/api/internal/app"
	"bookshelf/api/internal/authpw"
	"bookshelf/api/internal/outline"
	"bookshelf/api/internal/permissions"
	"bookshelf/api/internal/reorder"
	"bookshelf/api/internal/search"
	"bookshelf/api/internal/session"
	"bookshelf/api/internal/store"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !skipMigrations {
				if err := rt.migrate(ctx); err != nil {
					return err
				}
			}
			return serve(ctx, rt)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	return cmd
}

func serve(ctx context.Context, rt *env) error {
	cfg := rt.cfg
	logger := rt.logger

	if err := os.MkdirAll(cfg.OutlineDir, 0o755); err != nil {
		return fmt.Errorf("create outline dir: %w", err)
	}

	pg := store.NewPostgresStore(rt.db)
	perms, err := permissions.NewService(pg, logger.WithField("component", "permissions"))
	if err != nil {
		return err
	}
	recorder := activity.NewRecorder(pg, logger.WithField("component", "activity"))

	searchService, closeSearch := newSearch(rt)
	defer closeSearch()

	deps := app.Deps{
		Store:       pg,
		Credentials: authpw.NewService(pg),
		Sorter: reorder.NewEngine(store.NewReorderStore(rt.db), perms,
			reorder.WithRebuilder(perms),
			reorder.WithAuditSink(recorder),
			reorder.WithLogger(logger.WithField("component", "reorder")),
		),
		Permissions: perms,
		Activity:    recorder,
		Outlines:    outline.New(cfg.OutlineDir),
		Search:      searchService,
		Logger:      logger.WithField("component", "app"),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		redisStore := session.NewRedisStore(client)
		defer redisStore.Close()
		deps.Refresh = redisStore
		deps.Views = session.NewViewTracker(client)
		logger.Info("using redis for refresh sessions and view tracking")
	} else {
		logger.Info("using postgres for refresh sessions and view tracking")
	}

	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		logger.WithError(err).Warn("bootstrap failed, will retry on next restart")
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("bookshelf api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	searchService.Wait()
	return nil
}

// newSearch builds the search facade. Meilisearch is used only when
// configured; Postgres full-text search always backs it.
func newSearch(rt *env) (*search.Service, func()) {
	var meili *search.Meili
	if strings.TrimSpace(rt.cfg.MeiliURL) != "" {
		meili = search.NewMeili(rt.cfg.MeiliURL, rt.cfg.MeiliMasterKey, rt.logger.WithField("component", "meili"))
	}
	service := search.NewService(meili, search.NewPgFTS(rt.db), rt.logger.WithField("component", "search"))
	return service, func() {
		if meili != nil {
			meili.Close()
		}
	}
}
