package data

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed sql/schema/*.sql
var schemaFiles embed.FS

const migrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// SchemaManager applies the bundled schema files in name order. Each file
// runs once; applied names are kept in schema_migrations.
type SchemaManager struct {
	pool   *pgxpool.Pool
	files  fs.FS
	logger *zap.Logger
}

func NewSchemaManager(pool *pgxpool.Pool, logger *zap.Logger) *SchemaManager {
	sub, err := fs.Sub(schemaFiles, "sql/schema")
	if err != nil {
		panic(err)
	}
	return &SchemaManager{
		pool:   pool,
		files:  sub,
		logger: logger,
	}
}

// SchemaFiles lists the bundled schema file names in apply order
func SchemaFiles(files fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("reading schema directory: %w", err)
	}

	fileNames := make([]string, 0, len(entries))
	for _, f := range entries {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".sql") {
			fileNames = append(fileNames, f.Name())
		}
	}
	sort.Strings(fileNames)
	return fileNames, nil
}

func (sm *SchemaManager) InitializeSchema(ctx context.Context) error {
	fileNames, err := SchemaFiles(sm.files)
	if err != nil {
		return err
	}

	tx, err := sm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, migrationsTable); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, tx)
	if err != nil {
		return err
	}

	for _, fileName := range fileNames {
		if applied[fileName] {
			continue
		}

		content, err := fs.ReadFile(sm.files, fileName)
		if err != nil {
			return fmt.Errorf("reading schema file %s: %w", fileName, err)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("executing schema file %s: %w", fileName, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, fileName); err != nil {
			return fmt.Errorf("recording schema file %s: %w", fileName, err)
		}
		sm.logger.Info("Applied schema file", zap.String("file", fileName))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}

func appliedMigrations(ctx context.Context, tx pgx.Tx) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning applied migrations: %w", err)
	}

	applied := make(map[string]bool, len(names))
	for _, name := range names {
		applied[name] = true
	}
	return applied, nil
}
