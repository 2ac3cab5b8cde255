package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // registers the postgres:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Direction selects which way migrations run.
type Direction string

// Migration directions.
const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migrate applies the migrations in fsys to the database at url.
// It reports success when there is nothing to apply.
func Migrate(fsys fs.FS, url string, direction Direction) error {
	source, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			slog.Warn("failed to close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	version, dirty, verr := m.Version()
	switch {
	case errors.Is(verr, migrate.ErrNilVersion):
		slog.Info("migrations applied", "direction", direction, "version", "none")
	case verr != nil:
		slog.Warn("failed to read migration version", "error", verr)
	default:
		slog.Info("migrations applied", "direction", direction, "version", version, "dirty", dirty)
	}
	return nil
}
