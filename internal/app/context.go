package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hourline/internal/config"
	"hourline/internal/db"
	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/migrate"
	"hourline/internal/repo"
)

// Bootstrap opens the workspace database, applies migrations, loads
// hourline.yml (falling back to defaults) and syncs the tier catalog into
// the database. Both the CLI and the server start here.
func Bootstrap(ctx context.Context, workspace string) (engine.Engine, *sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	if cfg == nil {
		cfg = config.Default("hourline")
	}
	e := engine.New(conn, cfg)
	if err := SyncTierCatalog(ctx, e.Repo, cfg); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("sync tier catalog: %w", err)
	}
	return e, conn, nil
}

// SyncTierCatalog upserts the configured package tiers so purchases can
// reference them by id. Tiers removed from config are kept; solicitations
// snapshot terms anyway.
func SyncTierCatalog(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	if cfg == nil || len(cfg.Packages.Catalog) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for id, tc := range cfg.Packages.Catalog {
		tier := domain.PackageTier{
			ID:          id,
			Name:        tc.Name,
			Hours:       tc.Hours,
			CostPerHour: tc.CostPerHour,
			Discount:    tc.Discount,
			CreatedAt:   now,
		}
		if existing, err := r.GetTier(ctx, id); err == nil {
			tier.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := r.UpsertTier(ctx, tier); err != nil {
			return fmt.Errorf("upsert tier %s: %w", id, err)
		}
	}
	return nil
}
