package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	schema "github.com/hainguyen99-cdm/xscan-sub002/internal/store/sql"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

// ApplySchema executes the embedded schema files in lexical order. Every
// statement is idempotent (CREATE ... IF NOT EXISTS), so running it on each
// startup is safe.
func ApplySchema(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	entries, err := schema.Content.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("failed to read embedded schema: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := schema.Content.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("failed to read schema file %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("failed to apply schema file %s: %w", name, err)
		}
		logger.WithField("file", name).Debug("Applied schema file")
	}

	return nil
}
