// Package ingestion runs the scrape pipeline: catalog roots are walked,
// mapped to hashed products, upserted into the product store and optionally
// appended to the price history.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cloud-pricing/db/clickhouse"
	"cloud-pricing/db/products"
	"cloud-pricing/internal/catalog"
	"cloud-pricing/internal/pricing"
	perrors "cloud-pricing/pkg/errors"
)

// Catalog is the remote side of a scrape.
type Catalog interface {
	catalog.Fetcher
	ListRoots(ctx context.Context, query string) ([]*catalog.Node, error)
	GetNode(ctx context.Context, nodeID string, depth int) (*catalog.Node, error)
}

// ProductWriter persists products. *products.Upserter implements it.
type ProductWriter interface {
	UpsertProducts(ctx context.Context, products []pricing.Product) (products.UpsertStats, error)
}

// HistorySink records each run. *clickhouse.Store implements it.
type HistorySink interface {
	RecordRun(ctx context.Context, snap clickhouse.RunSnapshot, products []pricing.Product) error
}

// Config selects what one run scrapes.
type Config struct {
	// RootQuery is passed to ListRoots when RootIDs is empty.
	RootQuery string
	// RootIDs seeds the walk from specific catalog entries.
	RootIDs    []string
	VendorName string
	Geos       []pricing.Geo
	ChunkSize  int
}

// Summary describes a finished run.
type Summary struct {
	RunID        uuid.UUID
	ProductCount int
	PriceCount   int
	ErrorCount   int
	Duration     time.Duration
}

// Pipeline wires catalog, mapper and store for ScrapeAndStore.
type Pipeline struct {
	cfg     Config
	catalog Catalog
	writer  ProductWriter
	history HistorySink
	walker  *catalog.Walker
	mapper  *pricing.Mapper
	logger  zerolog.Logger
}

func New(cfg Config, cat Catalog, writer ProductWriter, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		catalog: cat,
		writer:  writer,
		walker:  catalog.NewWalker(cat, cfg.ChunkSize, logger),
		mapper:  pricing.NewMapper(cfg.VendorName, cfg.Geos, logger),
		logger:  logger,
	}
}

// WithHistory enables the price-history sink.
func (p *Pipeline) WithHistory(sink HistorySink) *Pipeline {
	p.history = sink
	return p
}

// ScrapeAndStore walks every root and upserts its products. Node and leaf
// failures are counted in the summary; only store write failures and
// cancellation abort the run. Products of roots finished before an abort
// stay written.
func (p *Pipeline) ScrapeAndStore(ctx context.Context) (Summary, error) {
	startTime := time.Now()
	summary := Summary{RunID: uuid.New()}
	logger := p.logger.With().Str("run_id", summary.RunID.String()).Logger()

	roots, rootErrors, err := p.roots(ctx)
	summary.ErrorCount += rootErrors
	if err != nil {
		summary.Duration = time.Since(startTime)
		return summary, err
	}
	logger.Info().Int("roots", len(roots)).Msg("starting scrape")

	var written []pricing.Product
	for _, root := range roots {
		_, walkStats, err := p.walker.BuildTree(ctx, root)
		summary.ErrorCount += walkStats.Failures
		if err != nil {
			summary.Duration = time.Since(startTime)
			return summary, err
		}

		prods, mapStats := p.mapper.Products(root)
		summary.ErrorCount += mapStats.MalformedLeaves

		if len(prods) > 0 {
			if _, err := p.writer.UpsertProducts(ctx, prods); err != nil {
				summary.Duration = time.Since(startTime)
				logger.Error().Err(err).Str("root_id", root.ID).Msg("store write failed, aborting run")
				return summary, err
			}
		}
		summary.ProductCount += mapStats.Products
		summary.PriceCount += mapStats.Prices
		if p.history != nil {
			written = append(written, prods...)
		}

		logger.Info().
			Str("root_id", root.ID).
			Str("name", root.Name).
			Int("products", mapStats.Products).
			Int("prices", mapStats.Prices).
			Int("failures", walkStats.Failures+mapStats.MalformedLeaves).
			Msg("root stored")
	}

	if p.history != nil {
		snap := clickhouse.RunSnapshot{
			ID:           summary.RunID,
			VendorName:   p.mapper.VendorName(),
			StartedAt:    startTime,
			FinishedAt:   time.Now(),
			ProductCount: uint32(summary.ProductCount),
			PriceCount:   uint32(summary.PriceCount),
			ErrorCount:   uint32(summary.ErrorCount),
		}
		if err := p.history.RecordRun(ctx, snap, written); err != nil {
			summary.ErrorCount++
			logger.Warn().Err(err).Msg("failed to record price history")
		}
	}

	summary.Duration = time.Since(startTime)
	logger.Info().
		Int("products", summary.ProductCount).
		Int("prices", summary.PriceCount).
		Int("errors", summary.ErrorCount).
		Dur("duration", summary.Duration).
		Msg("scrape finished")
	return summary, nil
}

// roots resolves the walk's starting nodes. An unreachable configured root
// is counted and skipped; a failed root listing fails the run.
func (p *Pipeline) roots(ctx context.Context) ([]*catalog.Node, int, error) {
	if len(p.cfg.RootIDs) == 0 {
		roots, err := p.catalog.ListRoots(ctx, p.cfg.RootQuery)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list catalog roots: %w", err)
		}
		return roots, 0, nil
	}

	var (
		roots    []*catalog.Node
		failures int
	)
	for _, id := range p.cfg.RootIDs {
		node, err := p.catalog.GetNode(ctx, id, 0)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, failures, ctxErr
			}
			failures++
			level := p.logger.Warn()
			if errors.Is(err, perrors.ErrNotFound) {
				level = p.logger.Info()
			}
			level.Err(err).Str("root_id", id).Msg("skipping catalog root")
			continue
		}
		roots = append(roots, node)
	}
	return roots, failures, nil
}
