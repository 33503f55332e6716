package pricing

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// ProductHash identifies a product across scrapes.
func ProductHash(vendorName, region, sku string) string {
	return digest(vendorName, region, sku)
}

// PriceHash identifies a price tier within its product. Only identity fields
// take part: the amount and dates may change between scrapes.
func PriceHash(product Product, price Price) string {
	return digest(product.ProductHash, price.MetricID, price.Country, price.Currency, price.EndUsageAmount)
}

// Stamp sets the product hash and every price hash on p.
func Stamp(p *Product) {
	p.ProductHash = ProductHash(p.VendorName, p.Region, p.SKU)
	for i := range p.Prices {
		p.Prices[i].PriceHash = PriceHash(*p, p.Prices[i])
	}
}

// digest hashes the length-prefixed fields ("3:ibm|8:us-south|...") so no
// two distinct field lists share a canonical form.
func digest(fields ...string) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(strconv.Itoa(len(f)))
		sb.WriteByte(':')
		sb.WriteString(f)
	}
	h := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(h[:])
}
