package pricing

import (
	"testing"

	"github.com/rs/zerolog"

	"cloud-pricing/internal/catalog"
)

func serviceTree() *catalog.Node {
	dep := &catalog.Node{ID: "dep-1", Name: "us-south", Kind: catalog.KindDeployment, Location: "us-south",
		PricingLeaves: []*catalog.PricingLeaf{stepLeaf()}}
	plan := &catalog.Node{ID: "plan-1", Name: "standard", Kind: catalog.KindPlan, Children: []*catalog.Node{dep}}
	return &catalog.Node{ID: "svc-1", Name: "cloudant", Kind: catalog.KindService, Children: []*catalog.Node{plan}}
}

func TestMapperServicePlanDeployment(t *testing.T) {
	m := NewMapper("", nil, zerolog.Nop())
	products, stats := m.Products(serviceTree())

	if len(products) != 1 || stats.Products != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	p := products[0]
	if p.VendorName != "ibm" || p.Region != "us-south" || p.SKU != "dep-1" {
		t.Fatalf("unexpected identity %s/%s/%s", p.VendorName, p.Region, p.SKU)
	}
	if p.Service != "cloudant" || p.ProductFamily != "service" {
		t.Fatalf("unexpected service %q family %q", p.Service, p.ProductFamily)
	}
	if p.Attributes["planId"] != "plan-1" || p.Attributes["serviceId"] != "svc-1" || p.Attributes["deploymentId"] != "dep-1" {
		t.Fatalf("unexpected attributes %v", p.Attributes)
	}
	if p.ProductHash != ProductHash("ibm", "us-south", "dep-1") {
		t.Fatalf("product not stamped")
	}
	if len(p.Prices) != 2 || stats.Prices != 2 {
		t.Fatalf("expected 2 prices, got %d", len(p.Prices))
	}
	for _, pr := range p.Prices {
		if pr.PriceHash == "" {
			t.Fatalf("price not stamped: %+v", pr)
		}
	}
}

func TestMapperMultipleGeos(t *testing.T) {
	m := NewMapper("ibm", []Geo{{"USA", "USD"}, {"DEU", "EUR"}}, zerolog.Nop())
	products, _ := m.Products(serviceTree())
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	if got := len(products[0].Prices); got != 3 {
		t.Fatalf("expected 3 prices across geos, got %d", got)
	}
	hashes := map[string]bool{}
	for _, pr := range products[0].Prices {
		hashes[pr.PriceHash] = true
	}
	if len(hashes) != 3 {
		t.Fatalf("geos must produce distinct price hashes")
	}
}

func TestMapperSkipsUnpricedAndMalformed(t *testing.T) {
	bad := &catalog.PricingLeaf{NodeID: "dep-bad", Metrics: []catalog.Metric{{
		Amounts: []catalog.Amount{{Country: "USA", Currency: "USD", Prices: []catalog.TierPoint{point("1", "1")}}},
	}}}
	noGeo := &catalog.PricingLeaf{NodeID: "dep-jp", Metrics: []catalog.Metric{{
		MetricID: "m",
		Amounts:  []catalog.Amount{{Country: "JPN", Currency: "JPY", Prices: []catalog.TierPoint{point("1", "1")}}},
	}}}
	plan := &catalog.Node{ID: "plan-1", Kind: catalog.KindPlan, Children: []*catalog.Node{
		{ID: "dep-bad", Kind: catalog.KindDeployment, PricingLeaves: []*catalog.PricingLeaf{bad}},
		{ID: "dep-jp", Kind: catalog.KindDeployment, PricingLeaves: []*catalog.PricingLeaf{noGeo}},
		{ID: "dep-none", Kind: catalog.KindDeployment},
	}}
	root := &catalog.Node{ID: "svc", Kind: catalog.KindService, Children: []*catalog.Node{plan}}

	products, stats := NewMapper("ibm", nil, zerolog.Nop()).Products(root)
	if len(products) != 0 {
		t.Fatalf("expected no products, got %d", len(products))
	}
	if stats.MalformedLeaves != 1 {
		t.Fatalf("expected 1 malformed leaf, got %d", stats.MalformedLeaves)
	}
}

func TestMapperPlanLevelPricingInGroupedIaaS(t *testing.T) {
	leaf := &catalog.PricingLeaf{Type: "paid", Metrics: []catalog.Metric{{
		MetricID: "m",
		Amounts:  []catalog.Amount{{Country: "USA", Currency: "USD", Prices: []catalog.TierPoint{point("2", "999999999")}}},
	}}}
	plan := &catalog.Node{ID: "plan-vsi", Name: "vsi", Kind: catalog.KindPlan, PricingLeaves: []*catalog.PricingLeaf{leaf}}
	inner := &catalog.Node{ID: "iaas-vsi", Name: "virtual-server", Kind: catalog.KindIaaS, Children: []*catalog.Node{plan}}
	group := &catalog.Node{ID: "iaas-group", Name: "compute", Kind: catalog.KindIaaS, IsGroup: true, Children: []*catalog.Node{inner}}

	products, _ := NewMapper("ibm", nil, zerolog.Nop()).Products(group)
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	p := products[0]
	if p.Region != "global" || p.SKU != "plan-vsi" {
		t.Fatalf("unexpected identity %s/%s", p.Region, p.SKU)
	}
	if p.Service != "virtual-server" || p.ProductFamily != "iaas" {
		t.Fatalf("group nodes must not be the owning service, got %q/%q", p.Service, p.ProductFamily)
	}
	if p.Attributes["pricingType"] != "paid" {
		t.Fatalf("unexpected attributes %v", p.Attributes)
	}
}

func TestMapperIsDeterministic(t *testing.T) {
	m := NewMapper("ibm", nil, zerolog.Nop())
	a, _ := m.Products(serviceTree())
	b, _ := m.Products(serviceTree())
	if len(a) != len(b) {
		t.Fatalf("product counts differ")
	}
	for i := range a {
		if a[i].ProductHash != b[i].ProductHash {
			t.Fatalf("product hash differs between runs")
		}
		for j := range a[i].Prices {
			if a[i].Prices[j].PriceHash != b[i].Prices[j].PriceHash {
				t.Fatalf("price hash differs between runs")
			}
		}
	}
}

func TestParseGeo(t *testing.T) {
	g, err := ParseGeo(" deu:eur ")
	if err != nil || g != (Geo{Country: "DEU", Currency: "EUR"}) {
		t.Fatalf("ParseGeo = %+v, %v", g, err)
	}
	for _, bad := range []string{"", "USA", ":USD", "USA:"} {
		if _, err := ParseGeo(bad); err == nil {
			t.Fatalf("expected an error for %q", bad)
		}
	}
}
