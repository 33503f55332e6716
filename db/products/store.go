package products

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"cloud-pricing/internal/pricing"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ErrProductNotFound is returned by GetProduct for an unknown hash.
var ErrProductNotFound = errors.New("product not found")

// Store is the relational product table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  zerolog.Logger
}

// Open connects with the named dialect and verifies the connection.
func Open(ctx context.Context, driver, dsn string, logger zerolog.Logger) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}
	if dialect.singleConn {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect.Name, err)
	}
	return NewStore(db, dialect, logger), nil
}

// NewStore wraps an already opened database.
func NewStore(db *sql.DB, dialect Dialect, logger zerolog.Logger) *Store {
	return &Store{db: db, dialect: dialect, logger: logger}
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the products table and its lookup indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate products table: %w", err)
		}
	}
	s.logger.Info().Str("dialect", s.dialect.Name).Msg("products schema ready")
	return nil
}

// Upserter returns a batch writer bound to this store.
func (s *Store) Upserter(batchSize int) *Upserter {
	return NewUpserter(s.db, s.dialect, batchSize, s.logger)
}

// =============================================================================
// READ QUERIES
// =============================================================================

const selectProducts = `SELECT "productHash", sku, "vendorName", region, service, "productFamily", attributes, prices FROM products`

// Filter narrows FindProducts. Empty fields match everything.
type Filter struct {
	Vendor  string
	Service string
	Family  string
	Region  string
	Limit   int
}

// GetProduct loads one product by hash.
func (s *Store) GetProduct(ctx context.Context, hash string) (*pricing.Product, error) {
	row := s.db.QueryRowContext(ctx, selectProducts+` WHERE "productHash" = `+s.dialect.placeholder(1), hash)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", hash, err)
	}
	return p, nil
}

// FindProducts lists products ordered by hash.
func (s *Store) FindProducts(ctx context.Context, f Filter) ([]pricing.Product, error) {
	where, args := s.where(f)

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := selectProducts + where + ` ORDER BY "productHash" LIMIT ` + strconv.Itoa(limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []pricing.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CountProducts counts stored products, optionally for one vendor.
func (s *Store) CountProducts(ctx context.Context, vendor string) (int, error) {
	where, args := s.where(Filter{Vendor: vendor})
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

func (s *Store) where(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, col+" = "+s.dialect.placeholder(len(args)))
	}
	add(`"vendorName"`, f.Vendor)
	add(`service`, f.Service)
	add(`"productFamily"`, f.Family)
	add(`region`, f.Region)

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*pricing.Product, error) {
	var (
		p             pricing.Product
		attrs, prices string
	)
	if err := row.Scan(&p.ProductHash, &p.SKU, &p.VendorName, &p.Region, &p.Service, &p.ProductFamily, &attrs, &prices); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &p.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	var grouped map[string][]pricing.Price
	if err := json.Unmarshal([]byte(prices), &grouped); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	p.Prices = flattenPrices(grouped)
	return &p, nil
}

// flattenPrices undoes groupPrices with keys in sorted order.
func flattenPrices(grouped map[string][]pricing.Price) []pricing.Price {
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []pricing.Price
	for _, k := range keys {
		out = append(out, grouped[k]...)
	}
	return out
}
