// Package relica provides repository implementations using Relica query builder.
//
// Relica (github.com/coregx/relica) is a lightweight, type-safe database query builder
// for Go with zero production dependencies.
//
// This package implements the dispatch repository interfaces:
//   - AlertRepository
//   - ReviewJobRepository
//   - CatalogRepository
//
// Claims are single conditional UPDATE statements; the affected row count
// decides the winner. Product state upserts use the dialect's native upsert.
//
// Example usage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/dispatch"
//	    "github.com/coregx/dispatch/adapters/relica"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	db, err := sql.Open("mysql", "user:pass@tcp(localhost:3306)/shop?parseTime=true")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	repos := relica.NewRepositories(db, "mysql")
//
//	coordinator, err := dispatch.NewCoordinator(
//	    dispatch.WithAlertRepositories(repos.Alert, repos.Catalog),
//	    dispatch.WithReviewRepository(repos.ReviewJob),
//	    dispatch.WithNotifier(mailer),
//	    dispatch.WithLogger(logger),
//	)
package relica
