package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"cloud-pricing/api"
	"cloud-pricing/db/products"
	"cloud-pricing/internal/pricing"
	"cloud-pricing/pkg/platform"
)

func productCommand() *cli.Command {
	formatFlag := &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "table",
		Usage:   "Output format (table, json)",
	}
	return &cli.Command{
		Name:  "product",
		Usage: "Look up stored products",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Show one product and its prices",
				ArgsUsage: "<product-hash>",
				Flags:     []cli.Flag{formatFlag},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected exactly one product hash")
					}
					store, err := openStore(c)
					if err != nil {
						return err
					}
					defer store.Close()

					p, err := store.GetProduct(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					if c.String("format") == "json" {
						return writeJSON(c.App.Writer, p)
					}
					writeProductDetail(c.App.Writer, *p)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List products matching a filter",
				Flags: []cli.Flag{
					formatFlag,
					&cli.StringFlag{Name: "vendor", Usage: "Vendor name"},
					&cli.StringFlag{Name: "service", Usage: "Service name"},
					&cli.StringFlag{Name: "family", Usage: "Product family (service, iaas)"},
					&cli.StringFlag{Name: "region", Usage: "Region"},
					&cli.IntFlag{Name: "limit", Value: products.DefaultListLimit, Usage: "Maximum rows"},
				},
				Action: func(c *cli.Context) error {
					store, err := openStore(c)
					if err != nil {
						return err
					}
					defer store.Close()

					found, err := store.FindProducts(c.Context, products.Filter{
						Vendor:  c.String("vendor"),
						Service: c.String("service"),
						Family:  c.String("family"),
						Region:  c.String("region"),
						Limit:   c.Int("limit"),
					})
					if err != nil {
						return err
					}
					if c.String("format") == "json" {
						return writeJSON(c.App.Writer, found)
					}
					writeProductTable(c.App.Writer, found)
					return nil
				},
			},
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve product lookups over HTTP",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "HTTP port",
				EnvVars: []string{"PORT"},
			},
		},
		Action: func(c *cli.Context) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			cfg := api.DefaultConfig()
			cfg.Port = c.Int("port")
			return api.NewServer(store, cfg, platform.Logger()).StartWithGracefulShutdown()
		},
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeProductTable(w io.Writer, list []pricing.Product) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Hash", "SKU", "Service", "Family", "Region", "Prices"})
	for _, p := range list {
		table.Append([]string{shortHash(p.ProductHash), p.SKU, p.Service, p.ProductFamily, p.Region, fmt.Sprint(len(p.Prices))})
	}
	table.Render()
}

func writeProductDetail(w io.Writer, p pricing.Product) {
	fmt.Fprintf(w, "Product %s\n", p.ProductHash)
	fmt.Fprintf(w, "  sku:     %s\n  vendor:  %s\n  service: %s (%s)\n  region:  %s\n",
		p.SKU, p.VendorName, p.Service, p.ProductFamily, p.Region)

	keys := make([]string, 0, len(p.Attributes))
	for k := range p.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]string, len(keys))
	for i, k := range keys {
		attrs[i] = k + "=" + p.Attributes[k]
	}
	fmt.Fprintf(w, "  attrs:   %s\n\n", strings.Join(attrs, " "))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Geo", "Tier", "From", "To", "Amount", "Unit"})
	for _, pr := range p.Prices {
		table.Append([]string{
			pr.MetricID,
			pr.Country + "/" + pr.Currency,
			string(pr.TierModel),
			pr.StartUsageAmount,
			pr.EndUsageAmount,
			pr.USDAmount,
			pr.Unit,
		})
	}
	table.Render()
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
