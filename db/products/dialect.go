// Package products persists scraped products in a relational table keyed by
// product hash. Postgres (lib/pq or pgx) and SQLite are supported.
package products

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Name       string
	DriverName string

	// jsonType is the column type for attributes and prices.
	jsonType string
	// numbered placeholders are $1, $2... otherwise ?.
	numbered bool
	// jsonCast is appended to JSON placeholders, e.g. "::jsonb".
	jsonCast string
	// singleConn limits the pool to one connection (in-memory SQLite).
	singleConn bool
	// maxParams is the bind parameter limit of a single statement.
	maxParams int
}

var (
	Postgres = Dialect{Name: "postgres", DriverName: "postgres", jsonType: "JSONB", numbered: true, jsonCast: "::jsonb", maxParams: 65535}
	PGX      = Dialect{Name: "pgx", DriverName: "pgx", jsonType: "JSONB", numbered: true, jsonCast: "::jsonb", maxParams: 65535}
	SQLite   = Dialect{Name: "sqlite", DriverName: "sqlite", jsonType: "TEXT", singleConn: true, maxParams: 32766}
)

// DialectFor resolves a --db-driver value.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "pgx":
		return PGX, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
}

// maxBatchSize is the most product rows one upsert statement can bind.
func (d Dialect) maxBatchSize() int {
	if d.maxParams <= 0 {
		return DefaultBatchSize
	}
	return d.maxParams / len(productColumns)
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) jsonPlaceholder(n int) string {
	return d.placeholder(n) + d.jsonCast
}

func (d Dialect) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS products (
	"productHash" TEXT NOT NULL UNIQUE,
	sku TEXT NOT NULL,
	"vendorName" TEXT NOT NULL,
	region TEXT NOT NULL DEFAULT '',
	service TEXT NOT NULL DEFAULT '',
	"productFamily" TEXT NOT NULL DEFAULT '',
	attributes %[1]s NOT NULL DEFAULT '{}',
	prices %[1]s NOT NULL DEFAULT '{}'
)`, d.jsonType),
		`CREATE INDEX IF NOT EXISTS products_vendor_service_idx ON products ("vendorName", service, "productFamily")`,
		`CREATE INDEX IF NOT EXISTS products_vendor_region_idx ON products ("vendorName", region)`,
	}
}
