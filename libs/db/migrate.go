package db

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
)

// Migrate runs every *.sql file in fsys in name order. Files must be
// idempotent since every start re-applies them.
func Migrate(ctx context.Context, pool *Pool, fsys fs.FS) error {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}
