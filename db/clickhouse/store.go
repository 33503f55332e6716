// Package clickhouse records an append-only price history of each scrape run
// in ClickHouse. Optimized for columnar analytics over high-cardinality SKUs.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cloud-pricing/internal/pricing"
)

// RunSnapshot is one scrape run.
type RunSnapshot struct {
	ID           uuid.UUID `ch:"id"`
	VendorName   string    `ch:"vendor_name"`
	StartedAt    time.Time `ch:"started_at"`
	FinishedAt   time.Time `ch:"finished_at"`
	ProductCount uint32    `ch:"product_count"`
	PriceCount   uint32    `ch:"price_count"`
	ErrorCount   uint32    `ch:"error_count"`
}

// PriceRow is one price tier as seen by one run. EndUsage is nil for an
// unbounded tier.
type PriceRow struct {
	SnapshotID     uuid.UUID        `ch:"snapshot_id"`
	ProductHash    string           `ch:"product_hash"`
	PriceHash      string           `ch:"price_hash"`
	SKU            string           `ch:"sku"`
	VendorName     string           `ch:"vendor_name"`
	Region         string           `ch:"region"`
	Service        string           `ch:"service"`
	ProductFamily  string           `ch:"product_family"`
	MetricID       string           `ch:"metric_id"`
	Unit           string           `ch:"unit"`
	TierModel      string           `ch:"tier_model"`
	Country        string           `ch:"country"`
	Currency       string           `ch:"currency"`
	Amount         decimal.Decimal  `ch:"amount"`
	StartUsage     decimal.Decimal  `ch:"start_usage"`
	EndUsage       *decimal.Decimal `ch:"end_usage"`
	EffectiveStart *time.Time       `ch:"effective_start"`
	EffectiveEnd   *time.Time       `ch:"effective_end"`
	FetchedAt      time.Time        `ch:"fetched_at"`
}

// Config holds ClickHouse connection configuration
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default development configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:     "localhost:9000",
		Database: "pricing",
		Username: "default",
	}
}

// Store writes run snapshots and price rows.
type Store struct {
	conn clickhouse.Conn
	cfg  *Config
}

// NewStore opens a ClickHouse connection. The driver connects lazily; use
// Ping to verify it.
func NewStore(cfg *Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	return &Store{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// =============================================================================
// SCHEMA
// =============================================================================

var schema = []string{
	`CREATE TABLE IF NOT EXISTS price_snapshots (
		id UUID,
		vendor_name LowCardinality(String),
		started_at DateTime64(3),
		finished_at DateTime64(3),
		product_count UInt32,
		price_count UInt32,
		error_count UInt32
	) ENGINE = MergeTree ORDER BY (vendor_name, started_at)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		snapshot_id UUID,
		product_hash String,
		price_hash String,
		sku String,
		vendor_name LowCardinality(String),
		region LowCardinality(String),
		service LowCardinality(String),
		product_family LowCardinality(String),
		metric_id String,
		unit LowCardinality(String),
		tier_model LowCardinality(String),
		country LowCardinality(String),
		currency LowCardinality(String),
		amount Decimal(38, 12),
		start_usage Decimal(38, 12),
		end_usage Nullable(Decimal(38, 12)),
		effective_start Nullable(DateTime64(3)),
		effective_end Nullable(DateTime64(3)),
		fetched_at DateTime64(3)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(fetched_at)
	ORDER BY (vendor_name, product_hash, price_hash, fetched_at)`,
}

// Migrate creates the history tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate price history: %w", err)
		}
	}
	return nil
}

// =============================================================================
// RUN RECORDING
// =============================================================================

// RecordRun appends the snapshot row and every price of products.
func (s *Store) RecordRun(ctx context.Context, snap RunSnapshot, products []pricing.Product) error {
	rows, err := FlattenPrices(snap.ID, snap.FinishedAt, products)
	if err != nil {
		return err
	}

	if err := s.conn.Exec(ctx, `
		INSERT INTO price_snapshots (
			id, vendor_name, started_at, finished_at, product_count, price_count, error_count
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		snap.ID, snap.VendorName, snap.StartedAt, snap.FinishedAt,
		snap.ProductCount, snap.PriceCount, snap.ErrorCount,
	); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return s.bulkInsertPrices(ctx, rows)
}

func (s *Store) bulkInsertPrices(ctx context.Context, rows []PriceRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO price_history`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	return batch.Send()
}

// FlattenPrices turns products into one history row per reachable price.
func FlattenPrices(snapshotID uuid.UUID, fetchedAt time.Time, products []pricing.Product) ([]PriceRow, error) {
	var rows []PriceRow
	for _, p := range products {
		for _, pr := range p.Prices {
			// A tier that starts past an unbounded one can never apply.
			if pr.StartUsageAmount == pricing.InfiniteUsage {
				continue
			}
			row := PriceRow{
				SnapshotID:    snapshotID,
				ProductHash:   p.ProductHash,
				PriceHash:     pr.PriceHash,
				SKU:           p.SKU,
				VendorName:    p.VendorName,
				Region:        p.Region,
				Service:       p.Service,
				ProductFamily: p.ProductFamily,
				MetricID:      pr.MetricID,
				Unit:          pr.Unit,
				TierModel:     string(pr.TierModel),
				Country:       pr.Country,
				Currency:      pr.Currency,
				FetchedAt:     fetchedAt,
			}

			var err error
			if row.Amount, err = decimal.NewFromString(pr.USDAmount); err != nil {
				return nil, fmt.Errorf("price %s: invalid amount %q: %w", pr.PriceHash, pr.USDAmount, err)
			}
			if row.StartUsage, err = decimal.NewFromString(pr.StartUsageAmount); err != nil {
				return nil, fmt.Errorf("price %s: invalid start usage %q: %w", pr.PriceHash, pr.StartUsageAmount, err)
			}
			if pr.EndUsageAmount != pricing.InfiniteUsage {
				end, err := decimal.NewFromString(pr.EndUsageAmount)
				if err != nil {
					return nil, fmt.Errorf("price %s: invalid end usage %q: %w", pr.PriceHash, pr.EndUsageAmount, err)
				}
				row.EndUsage = &end
			}
			row.EffectiveStart = parseEffective(pr.EffectiveDateStart)
			row.EffectiveEnd = parseEffective(pr.EffectiveDateEnd)

			rows = append(rows, row)
		}
	}
	return rows, nil
}

// parseEffective returns nil for empty or unparseable catalog timestamps.
func parseEffective(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
