package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"cloud-pricing/db/products"
	"cloud-pricing/internal/catalog"
	"cloud-pricing/internal/ingestion"
	"cloud-pricing/internal/pricing"
	"cloud-pricing/pkg/platform"
)

func scrapeCommand() *cli.Command {
	def := catalog.DefaultConfig()
	return &cli.Command{
		Name:  "scrape",
		Usage: "Walk the catalog and upsert every priced product",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "catalog-url",
				Value:   def.BaseURL,
				Usage:   "Catalog API base URL",
				EnvVars: []string{"PRICING_CATALOG_URL"},
			},
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Value:   "kind:service active:true",
				Usage:   "Catalog search query selecting the roots",
				EnvVars: []string{"PRICING_QUERY"},
			},
			&cli.StringSliceFlag{
				Name:  "root-id",
				Usage: "Walk only these catalog entries (repeatable, overrides --query)",
			},
			&cli.IntFlag{
				Name:  "page-size",
				Value: def.PageSize,
				Usage: "Entries per catalog page",
			},
			&cli.IntFlag{
				Name:    "chunk-size",
				Value:   catalog.DefaultChunkSize,
				Usage:   "Catalog requests in flight at once",
				EnvVars: []string{"PRICING_CHUNK_SIZE"},
			},
			&cli.IntFlag{
				Name:  "max-attempts",
				Value: def.MaxAttempts,
				Usage: "Attempts per request while rate limited",
			},
			&cli.DurationFlag{
				Name:  "rate-limit-backoff",
				Value: def.RateLimitBackoff,
				Usage: "Wait after a 429 before retrying",
			},
			&cli.DurationFlag{
				Name:  "http-timeout",
				Value: def.Timeout,
				Usage: "Per-request timeout",
			},
			&cli.StringFlag{
				Name:  "vendor",
				Value: pricing.DefaultVendorName,
				Usage: "Vendor name stored on every product",
			},
			&cli.StringSliceFlag{
				Name:  "geo",
				Value: cli.NewStringSlice("USA:USD"),
				Usage: "COUNTRY:CURRENCY price bucket to extract (repeatable)",
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Value:   products.DefaultBatchSize,
				Usage:   "Products per upsert statement (clamped to the driver's bind parameter limit)",
				EnvVars: []string{"PRICING_BATCH_SIZE"},
			},
			&cli.BoolFlag{
				Name:  "migrate",
				Value: true,
				Usage: "Create missing tables before scraping",
			},
		},
		Action: runScrape,
	}
}

func runScrape(c *cli.Context) error {
	logger := platform.Logger()

	geos, err := parseGeos(c.StringSlice("geo"))
	if err != nil {
		return err
	}

	client, err := catalog.NewClient(catalog.Config{
		BaseURL:          c.String("catalog-url"),
		PageSize:         c.Int("page-size"),
		MaxAttempts:      c.Int("max-attempts"),
		RateLimitBackoff: c.Duration("rate-limit-backoff"),
		Timeout:          c.Duration("http-timeout"),
	}, logger)
	if err != nil {
		return err
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := openHistory(c)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	if c.Bool("migrate") {
		if err := store.Migrate(c.Context); err != nil {
			return err
		}
		if history != nil {
			if err := history.Migrate(c.Context); err != nil {
				logger.Warn().Err(err).Msg("price history unavailable, continuing without it")
				history = nil
			}
		}
	}

	pipeline := ingestion.New(ingestion.Config{
		RootQuery:  c.String("query"),
		RootIDs:    c.StringSlice("root-id"),
		VendorName: c.String("vendor"),
		Geos:       geos,
		ChunkSize:  c.Int("chunk-size"),
	}, client, store.Upserter(c.Int("batch-size")), logger)
	if history != nil {
		pipeline.WithHistory(history)
	}

	summary, err := pipeline.ScrapeAndStore(c.Context)
	if err != nil {
		return fmt.Errorf("scrape run %s aborted after %d products: %w", summary.RunID, summary.ProductCount, err)
	}

	fmt.Fprintf(c.App.Writer, "run %s: %d products, %d prices, %d errors in %s\n",
		summary.RunID, summary.ProductCount, summary.PriceCount, summary.ErrorCount,
		summary.Duration.Round(time.Millisecond))
	return nil
}

func parseGeos(values []string) ([]pricing.Geo, error) {
	geos := make([]pricing.Geo, 0, len(values))
	for _, v := range values {
		g, err := pricing.ParseGeo(v)
		if err != nil {
			return nil, err
		}
		geos = append(geos, g)
	}
	return geos, nil
}
