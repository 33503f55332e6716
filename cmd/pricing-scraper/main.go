// pricing-scraper walks the cloud pricing catalog and keeps a product store
// in sync with it.
//
// Usage:
//
//	pricing-scraper migrate
//	pricing-scraper scrape --query "kind:service active:true" --geo USA:USD
//	pricing-scraper product list --service cloudant
//	pricing-scraper serve --port 8080
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"cloud-pricing/db/clickhouse"
	"cloud-pricing/db/products"
	"cloud-pricing/pkg/platform"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	app := &cli.App{
		Name:    "pricing-scraper",
		Usage:   "Scrape the cloud pricing catalog into a product store",
		Version: version + " (" + commit + ")",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"PRICING_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "log-console",
				Usage:   "Human-readable logs on stderr instead of JSON",
				EnvVars: []string{"PRICING_LOG_CONSOLE"},
			},
			&cli.StringFlag{
				Name:    "db-driver",
				Value:   "postgres",
				Usage:   "Product store driver (postgres, pgx, sqlite)",
				EnvVars: []string{"PRICING_DB_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "db-dsn",
				Value:   "postgres://localhost:5432/pricing?sslmode=disable",
				Usage:   "Product store DSN",
				EnvVars: []string{"PRICING_DB_DSN", "DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-addr",
				Usage:   "ClickHouse host:port for price history (disabled when empty)",
				EnvVars: []string{"CLICKHOUSE_ADDR"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-database",
				Value:   "pricing",
				Usage:   "ClickHouse database",
				EnvVars: []string{"CLICKHOUSE_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-user",
				Value:   "default",
				Usage:   "ClickHouse user",
				EnvVars: []string{"CLICKHOUSE_USER"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-password",
				Usage:   "ClickHouse password",
				EnvVars: []string{"CLICKHOUSE_PASSWORD"},
			},
		},
		Before: func(c *cli.Context) error {
			platform.InitLogger(c.String("log-level"), c.Bool("log-console"))
			return nil
		},
		Commands: []*cli.Command{
			scrapeCommand(),
			migrateCommand(),
			productCommand(),
			serveCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		platform.LogFatal(platform.Logger(), "pricing-scraper failed", err)
	}
}

// openStore connects to the product store named by the global flags.
func openStore(c *cli.Context) (*products.Store, error) {
	return products.Open(c.Context, c.String("db-driver"), c.String("db-dsn"), platform.Logger())
}

// openHistory returns nil when no ClickHouse address is configured.
func openHistory(c *cli.Context) (*clickhouse.Store, error) {
	addr := c.String("clickhouse-addr")
	if addr == "" {
		return nil, nil
	}
	return clickhouse.NewStore(&clickhouse.Config{
		Addr:     addr,
		Database: c.String("clickhouse-database"),
		Username: c.String("clickhouse-user"),
		Password: c.String("clickhouse-password"),
	})
}

// =============================================================================
// MIGRATE COMMAND
// =============================================================================

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the product table and, if configured, the price history tables",
		Action: func(c *cli.Context) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(c.Context); err != nil {
				return err
			}

			history, err := openHistory(c)
			if err != nil || history == nil {
				return err
			}
			defer history.Close()
			return history.Migrate(c.Context)
		},
	}
}
