package relica

import (
	"database/sql"

	"github.com/coregx/dispatch"
)

// Repositories holds all repository implementations.
type Repositories struct {
	Alert     dispatch.AlertRepository
	ReviewJob dispatch.ReviewJobRepository
	Catalog   dispatch.CatalogRepository
}

// NewRepositories creates all repository implementations using Relica.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL, or SQLite.
// The driverName should be "mysql", "postgres", or "sqlite3".
// The table prefix defaults to "dispatch_".
func NewRepositories(db *sql.DB, driverName string) *Repositories {
	return NewRepositoriesWithPrefix(db, driverName, defaultTablePrefix)
}

// NewRepositoriesWithPrefix creates all repository implementations with a custom table prefix.
// Alert claims join the alert and product state tables, so all repositories
// share the prefix.
func NewRepositoriesWithPrefix(db *sql.DB, driverName, prefix string) *Repositories {
	return &Repositories{
		Alert:     NewAlertRepositoryWithPrefix(db, driverName, prefix),
		ReviewJob: NewReviewJobRepositoryWithPrefix(db, driverName, prefix),
		Catalog:   NewCatalogRepositoryWithPrefix(db, driverName, prefix),
	}
}
