package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"checkout-service/internal/util"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema files in name order. Every statement is
// idempotent, so running it on each start is safe.
func (s *Store) Migrate(ctx context.Context) error {
	logger := util.GetLogger()

	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		logger.Info("Applied migration", zap.String("file", name))
	}

	return nil
}
