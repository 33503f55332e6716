package pricing

import (
	"errors"

	"github.com/rs/zerolog"

	"cloud-pricing/internal/catalog"
	perrors "cloud-pricing/pkg/errors"
)

const (
	DefaultVendorName = "ibm"
	globalRegion      = "global"
)

// MapStats counts what Mapper.Products produced and skipped.
type MapStats struct {
	Products        int
	Prices          int
	MalformedLeaves int
}

// Mapper converts walked catalog trees into hashed products.
type Mapper struct {
	vendorName string
	geos       []Geo
	logger     zerolog.Logger
}

func NewMapper(vendorName string, geos []Geo, logger zerolog.Logger) *Mapper {
	if vendorName == "" {
		vendorName = DefaultVendorName
	}
	if len(geos) == 0 {
		geos = DefaultGeos
	}
	return &Mapper{vendorName: vendorName, geos: geos, logger: logger}
}

func (m *Mapper) VendorName() string { return m.vendorName }

// Products emits one product per priced plan or deployment under root.
// Nodes whose pricing yields no prices for any configured geo are dropped.
func (m *Mapper) Products(root *catalog.Node) ([]Product, MapStats) {
	var (
		products []Product
		stats    MapStats
	)
	root.Walk(func(node *catalog.Node, ancestors []*catalog.Node) {
		if len(node.PricingLeaves) == 0 || !node.Pricable() {
			return
		}

		var prices []Price
		region := ""
		for _, leaf := range node.PricingLeaves {
			leafPrices, err := m.leafPrices(leaf)
			if err != nil {
				stats.MalformedLeaves++
				m.logger.Warn().Err(err).Str("node_id", node.ID).Msg("skipping malformed pricing leaf")
				continue
			}
			if region == "" {
				region = leaf.Region
			}
			prices = append(prices, leafPrices...)
		}
		if len(prices) == 0 {
			return
		}

		p := m.product(node, ancestors, region)
		p.Prices = prices
		Stamp(&p)

		products = append(products, p)
		stats.Products++
		stats.Prices += len(prices)
	})
	return products, stats
}

func (m *Mapper) leafPrices(leaf *catalog.PricingLeaf) ([]Price, error) {
	var out []Price
	for _, g := range m.geos {
		prices, err := ExtractPrices(leaf, g.Country, g.Currency)
		if err != nil {
			if !errors.Is(err, perrors.ErrMalformedPricing) {
				err = perrors.NewMalformedPricingError(leaf.NodeID, err.Error())
			}
			return nil, err
		}
		out = append(out, prices...)
	}
	return out, nil
}

func (m *Mapper) product(node *catalog.Node, ancestors []*catalog.Node, region string) Product {
	if region == "" {
		region = node.Location
	}
	if region == "" {
		region = globalRegion
	}

	attrs := map[string]string{
		"kind": string(node.Kind),
	}

	plan := node
	if node.Kind == catalog.KindDeployment {
		attrs["deploymentId"] = node.ID
		attrs["deploymentName"] = node.Name
		if node.Location != "" {
			attrs["deploymentLocation"] = node.Location
		}
		if len(ancestors) > 0 && ancestors[len(ancestors)-1].Kind == catalog.KindPlan {
			plan = ancestors[len(ancestors)-1]
		}
	}
	if plan.Kind == catalog.KindPlan {
		attrs["planId"] = plan.ID
		attrs["planName"] = plan.Name
	}

	service := owningService(ancestors)
	serviceName, family := "", ""
	if service != nil {
		serviceName, family = service.Name, string(service.Kind)
		attrs["serviceId"] = service.ID
		attrs["serviceName"] = service.Name
	}
	if len(node.PricingLeaves) > 0 && node.PricingLeaves[0].Type != "" {
		attrs["pricingType"] = node.PricingLeaves[0].Type
	}

	return Product{
		SKU:           node.ID,
		VendorName:    m.vendorName,
		Region:        region,
		Service:       serviceName,
		ProductFamily: family,
		Attributes:    attrs,
	}
}

// owningService is the nearest non-group service or iaas ancestor.
func owningService(ancestors []*catalog.Node) *catalog.Node {
	for i := len(ancestors) - 1; i >= 0; i-- {
		a := ancestors[i]
		if a.IsGroup {
			continue
		}
		if a.Kind == catalog.KindService || a.Kind == catalog.KindIaaS {
			return a
		}
	}
	return nil
}
