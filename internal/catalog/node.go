// Package catalog fetches and walks the remote pricing catalog hierarchy.
package catalog

import (
	"encoding/json"
	"fmt"
)

// Kind tags a catalog node. The hierarchy is service → plan → deployment,
// with iaas chains of arbitrary depth and group nodes that only recurse.
type Kind string

const (
	KindService    Kind = "service"
	KindPlan       Kind = "plan"
	KindDeployment Kind = "deployment"
	KindIaaS       Kind = "iaas"
	KindGroup      Kind = "group"
)

// ParseKind validates a kind string from the remote API.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindService, KindPlan, KindDeployment, KindIaaS, KindGroup:
		return k, nil
	default:
		return "", fmt.Errorf("unknown catalog kind %q", s)
	}
}

// ChildKinds returns the kinds to fetch beneath a node of kind k. Grouping
// nodes contain entries of their own kind rather than the next level down.
func (k Kind) ChildKinds(isGroup bool) []Kind {
	switch k {
	case KindGroup:
		return []Kind{KindService, KindIaaS}
	case KindService:
		if isGroup {
			return []Kind{KindService}
		}
		return []Kind{KindPlan}
	case KindIaaS:
		if isGroup {
			return []Kind{KindIaaS}
		}
		return []Kind{KindIaaS, KindPlan}
	case KindPlan:
		return []Kind{KindDeployment}
	case KindDeployment:
		return nil
	default:
		return nil
	}
}

// Node is one entry of the catalog hierarchy.
type Node struct {
	ID       string
	Name     string
	Kind     Kind
	IsGroup  bool
	Location string // deployment location, empty for non-deployments

	Children      []*Node
	PricingLeaves []*PricingLeaf
}

// Pricable reports whether pricing may be attached to the node.
func (n *Node) Pricable() bool {
	if n.IsGroup {
		return false
	}
	return n.Kind == KindPlan || n.Kind == KindDeployment
}

// PricingLeaf is the raw pricing payload attached to a plan or deployment.
type PricingLeaf struct {
	NodeID  string   `json:"deployment_id"`
	Type    string   `json:"type"`
	Region  string   `json:"deployment_location"`
	Origin  string   `json:"origin"`
	Metrics []Metric `json:"metrics"`
}

// Metric is one billable dimension of a pricing leaf.
type Metric struct {
	PartRef            string      `json:"part_ref"`
	MetricID           string      `json:"metric_id"`
	TierModel          string      `json:"tier_model"`
	ChargeUnit         string      `json:"charge_unit"`
	ChargeUnitName     string      `json:"charge_unit_name"`
	ChargeUnitQuantity json.Number `json:"charge_unit_quantity"`
	EffectiveFrom      string      `json:"effective_from"`
	EffectiveUntil     string      `json:"effective_until"`
	Amounts            []Amount    `json:"amounts"`
}

// Amount holds the ordered tier points for one country/currency pair.
type Amount struct {
	Country  string      `json:"country"`
	Currency string      `json:"currency"`
	Prices   []TierPoint `json:"prices"`
}

// TierPoint is a price that applies up to QuantityTier units.
type TierPoint struct {
	Price        json.Number `json:"price"`
	QuantityTier json.Number `json:"quantity_tier"`
}

// Amount returns the bucket for a country and currency.
func (m Metric) Amount(country, currency string) (Amount, bool) {
	for _, a := range m.Amounts {
		if a.Country == country && a.Currency == currency {
			return a, true
		}
	}
	return Amount{}, false
}

// Walk visits n and its descendants depth-first in child order.
func (n *Node) Walk(fn func(node *Node, ancestors []*Node)) {
	type frame struct {
		node      *Node
		ancestors []*Node
	}
	stack := []frame{{node: n}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(f.node, f.ancestors)

		path := append(f.ancestors[:len(f.ancestors):len(f.ancestors)], f.node)
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Children[i], ancestors: path})
		}
	}
}
