package identity

import (
	"context"
	"database/sql"
	"io/fs"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/queue"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/schema"
)

// SetupPersistence opens the persistence client, registers this module's
// models and migrations, and runs them. Callers hand the resulting client's
// DB to NewRepositoryManager and queue.NewBunStore.
func SetupPersistence(ctx context.Context, cfg persistence.Config, db *sql.DB, dialect schema.Dialect) (*persistence.Client, error) {
	persistence.RegisterModel((*User)(nil))
	persistence.RegisterModel((*Token)(nil))
	persistence.RegisterModel((*queue.Job)(nil))

	client, err := persistence.New(cfg, db, dialect)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create persistence client")
	}

	migrations, err := fs.Sub(GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to scope migrations")
	}

	client.RegisterDialectMigrations(
		migrations,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)

	if err := client.ValidateDialects(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "migration dialect validation failed")
	}

	if err := client.Migrate(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "migrations failed")
	}

	return client, nil
}
