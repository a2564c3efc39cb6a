package storage

import (
	"github.com/pkg/errors"
)

// InitStore opens the store for the configured driver.
func InitStore(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case PostgresDriver:
		return NewPostgresStore(dsn)
	case SQLiteDriver, "":
		return NewSQLiteStore(dsn)
	}
	return nil, errors.Errorf("unsupported database driver %q", driver)
}
