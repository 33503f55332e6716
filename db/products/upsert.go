package products

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"cloud-pricing/internal/pricing"
	perrors "cloud-pricing/pkg/errors"
)

// DefaultBatchSize bounds the rows in a single upsert statement.
const DefaultBatchSize = 1000

var productColumns = []string{
	`"productHash"`, `sku`, `"vendorName"`, `region`, `service`, `"productFamily"`, `attributes`, `prices`,
}

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertStats reports what UpsertProducts wrote.
type UpsertStats struct {
	Products int
	Batches  int
}

// Upserter writes products in bounded, hash-unique batches.
type Upserter struct {
	exec      Execer
	dialect   Dialect
	batchSize int
	logger    zerolog.Logger
}

// NewUpserter clamps batchSize to what one statement can bind in dialect.
func NewUpserter(exec Execer, dialect Dialect, batchSize int, logger zerolog.Logger) *Upserter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if limit := dialect.maxBatchSize(); batchSize > limit {
		logger.Warn().Int("batch_size", batchSize).Int("max_batch_size", limit).Msg("batch size exceeds bind parameter limit, clamping")
		batchSize = limit
	}
	return &Upserter{exec: exec, dialect: dialect, batchSize: batchSize, logger: logger}
}

// UpsertProducts writes products in input order. A batch is flushed early
// when the next product's hash is already in it, so a single statement never
// touches the same row twice. Batches already flushed stay written if a later
// one fails.
func (u *Upserter) UpsertProducts(ctx context.Context, products []pricing.Product) (UpsertStats, error) {
	var (
		stats  UpsertStats
		batch  = make([]pricing.Product, 0, u.batchSize)
		hashes = make(map[string]bool, u.batchSize)
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := u.flush(ctx, batch); err != nil {
			return err
		}
		stats.Products += len(batch)
		stats.Batches++
		batch = batch[:0]
		hashes = make(map[string]bool, u.batchSize)
		return nil
	}

	for _, p := range products {
		if hashes[p.ProductHash] || len(batch) >= u.batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
		batch = append(batch, p)
		hashes[p.ProductHash] = true
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (u *Upserter) flush(ctx context.Context, batch []pricing.Product) error {
	query, args, err := u.statement(batch)
	if err != nil {
		return perrors.NewStoreWriteError(err)
	}
	if _, err := u.exec.ExecContext(ctx, query, args...); err != nil {
		return perrors.NewStoreWriteError(fmt.Errorf("upsert %d products: %w", len(batch), err))
	}
	u.logger.Debug().Int("rows", len(batch)).Msg("flushed product batch")
	return nil
}

// statement builds one multi-row INSERT ... ON CONFLICT for the batch.
func (u *Upserter) statement(batch []pricing.Product) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO products (")
	sb.WriteString(strings.Join(productColumns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(batch)*len(productColumns))
	for i, p := range batch {
		attrs, prices, err := encodeProduct(p)
		if err != nil {
			return "", nil, fmt.Errorf("encode product %s: %w", p.ProductHash, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "(%s, %s, %s, %s, %s, %s, %s, %s)",
			u.dialect.placeholder(n+1),
			u.dialect.placeholder(n+2),
			u.dialect.placeholder(n+3),
			u.dialect.placeholder(n+4),
			u.dialect.placeholder(n+5),
			u.dialect.placeholder(n+6),
			u.dialect.jsonPlaceholder(n+7),
			u.dialect.jsonPlaceholder(n+8),
		)
		args = append(args, p.ProductHash, p.SKU, p.VendorName, p.Region, p.Service, p.ProductFamily, attrs, prices)
	}

	sb.WriteString(` ON CONFLICT ("productHash") DO UPDATE SET `)
	for i, col := range productColumns[1:] {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = excluded.%s", col, col)
	}
	return sb.String(), args, nil
}

// encodeProduct renders the JSON columns. Map keys marshal in sorted order,
// so identical products always encode identically.
func encodeProduct(p pricing.Product) (attrs string, prices string, err error) {
	a := p.Attributes
	if a == nil {
		a = map[string]string{}
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return "", "", err
	}
	pb, err := json.Marshal(groupPrices(p.Prices))
	if err != nil {
		return "", "", err
	}
	return string(ab), string(pb), nil
}

// groupPrices keys prices by price hash, keeping input order within a key.
func groupPrices(prices []pricing.Price) map[string][]pricing.Price {
	out := make(map[string][]pricing.Price, len(prices))
	for _, p := range prices {
		out[p.PriceHash] = append(out[p.PriceHash], p)
	}
	return out
}
