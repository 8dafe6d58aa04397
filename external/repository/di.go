package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/config"
	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

type modelNameSetter interface {
	SetModelName(ctx context.Context, modelName string) error
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()

		repo, err := openRepository(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if s, ok := repo.(modelNameSetter); ok {
			if err := s.SetModelName(ctx, cfg.ModelName()); err != nil {
				return nil, fmt.Errorf("failed to record model name: %w", err)
			}
		}
		return repo, nil
	})
}

func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL is empty; using in-memory repository")
		return NewMemoryRepository(), nil
	}
	p, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewPostgresRepository(p), nil
}
