package relica

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/coregx/relica"
)

// defaultTablePrefix matches the TableName methods of the model package.
const defaultTablePrefix = "dispatch_"

// maxSelect caps selections issued without an explicit limit.
const maxSelect = 10000

// store bundles the query builder with the raw handle. Relica serves reads
// and CRUD; conditional writes that need RowsAffected and upserts go through
// the raw handle.
type store struct {
	db          *relica.DB
	sqlDB       *sql.DB
	driverName  string
	tablePrefix string
}

func newStore(sqlDB *sql.DB, driverName, prefix string) store {
	return store{
		db:          relica.WrapDB(sqlDB, driverName),
		sqlDB:       sqlDB,
		driverName:  driverName,
		tablePrefix: prefix,
	}
}

func (s store) table(name string) string {
	return s.tablePrefix + name
}

func (s store) isPostgres() bool {
	return s.driverName == "postgres" || s.driverName == "pgx"
}

func (s store) isMySQL() bool {
	return s.driverName == "mysql"
}

// exec runs a raw statement and returns the number of affected rows.
func (s store) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s store) rebind(query string) string {
	if !s.isPostgres() {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func selectLimit(limit int) int64 {
	if limit <= 0 {
		return maxSelect
	}
	return int64(limit)
}
