package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	perrors "cloud-pricing/pkg/errors"
)

type stubEntry struct {
	id, name string
	kind     Kind
	group    bool
}

// memoryCatalog is an in-memory Fetcher that records peak concurrency.
type memoryCatalog struct {
	children map[string][]stubEntry // "<id>/<kind>"
	pricing  map[string]*PricingLeaf
	failures map[string]error // "children:<id>" or "pricing:<id>"
	delay    time.Duration

	mu          sync.Mutex
	inflight    int
	maxInflight int
	calls       []string
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		children: map[string][]stubEntry{},
		pricing:  map[string]*PricingLeaf{},
		failures: map[string]error{},
	}
}

func (m *memoryCatalog) add(parent string, kind Kind, entries ...stubEntry) {
	key := parent + "/" + string(kind)
	m.children[key] = append(m.children[key], entries...)
}

func (m *memoryCatalog) enter(call string) {
	m.mu.Lock()
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
}

func (m *memoryCatalog) leave() {
	m.mu.Lock()
	m.inflight--
	m.mu.Unlock()
}

func (m *memoryCatalog) GetChildren(ctx context.Context, nodeID string, kind Kind) ([]*Node, error) {
	m.enter("children:" + nodeID + "/" + string(kind))
	defer m.leave()
	if err := m.failures["children:"+nodeID]; err != nil {
		return nil, err
	}
	var out []*Node
	for _, e := range m.children[nodeID+"/"+string(kind)] {
		out = append(out, &Node{ID: e.id, Name: e.name, Kind: e.kind, IsGroup: e.group})
	}
	return out, nil
}

func (m *memoryCatalog) GetPricing(ctx context.Context, nodeID string) (*PricingLeaf, error) {
	m.enter("pricing:" + nodeID)
	defer m.leave()
	if err := m.failures["pricing:"+nodeID]; err != nil {
		return nil, err
	}
	return m.pricing[nodeID], nil
}

func (m *memoryCatalog) called(call string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == call {
			return true
		}
	}
	return false
}

func findNode(root *Node, id string) *Node {
	var found *Node
	root.Walk(func(n *Node, _ []*Node) {
		if n.ID == id && found == nil {
			found = n
		}
	})
	return found
}

func TestBuildTreeServicePlanDeployment(t *testing.T) {
	cat := newMemoryCatalog()
	cat.add("svc-1", KindPlan, stubEntry{id: "plan-1", kind: KindPlan})
	cat.add("plan-1", KindDeployment, stubEntry{id: "dep-1", kind: KindDeployment})
	cat.pricing["dep-1"] = &PricingLeaf{NodeID: "dep-1", Region: "us-south"}

	root := &Node{ID: "svc-1", Kind: KindService}
	_, stats, err := NewWalker(cat, 5, zerolog.Nop()).BuildTree(context.Background(), root)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}

	dep := findNode(root, "dep-1")
	if dep == nil || len(dep.PricingLeaves) != 1 {
		t.Fatalf("deployment pricing not attached: %+v", dep)
	}
	if plan := findNode(root, "plan-1"); len(plan.PricingLeaves) != 0 {
		t.Fatalf("plan has no pricing of its own")
	}
	if !cat.called("pricing:plan-1") {
		t.Fatalf("plan-level pricing must be checked too")
	}
	if stats.PricingLeaves != 1 || stats.Failures != 0 || stats.NodesExpanded != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestBuildTreePlanLevelPricing(t *testing.T) {
	cat := newMemoryCatalog()
	cat.add("svc-1", KindPlan, stubEntry{id: "plan-1", kind: KindPlan})
	cat.pricing["plan-1"] = &PricingLeaf{NodeID: "plan-1"}

	root := &Node{ID: "svc-1", Kind: KindService}
	NewWalker(cat, 5, zerolog.Nop()).BuildTree(context.Background(), root)

	if plan := findNode(root, "plan-1"); len(plan.PricingLeaves) != 1 {
		t.Fatalf("plan pricing not attached")
	}
}

func TestBuildTreeIsolatesFailures(t *testing.T) {
	cat := newMemoryCatalog()
	cat.add("svc-1", KindPlan, stubEntry{id: "plan-1", kind: KindPlan}, stubEntry{id: "plan-2", kind: KindPlan})
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("dep-%d", i)
		cat.add("plan-1", KindDeployment, stubEntry{id: id, kind: KindDeployment})
		cat.pricing[id] = &PricingLeaf{NodeID: id}
	}
	cat.failures["pricing:dep-3"] = perrors.NewUnexpectedStatusError("dep-3", 500)
	cat.failures["children:plan-2"] = perrors.NewRateLimitedError("plan-2", 3)

	root := &Node{ID: "svc-1", Kind: KindService}
	_, stats, err := NewWalker(cat, 2, zerolog.Nop()).BuildTree(context.Background(), root)
	if err != nil {
		t.Fatalf("node failures must not fail the walk: %v", err)
	}
	if stats.PricingLeaves != 4 {
		t.Fatalf("expected 4 priced deployments, got %d", stats.PricingLeaves)
	}
	if stats.Failures != 2 {
		t.Fatalf("expected 2 failures, got %d", stats.Failures)
	}
	if len(findNode(root, "dep-3").PricingLeaves) != 0 {
		t.Fatalf("failed deployment must have no pricing")
	}
}

func TestBuildTreeBoundsConcurrency(t *testing.T) {
	cat := newMemoryCatalog()
	cat.delay = 5 * time.Millisecond
	cat.add("svc-1", KindPlan, stubEntry{id: "plan-1", kind: KindPlan})
	for i := 0; i < 20; i++ {
		cat.add("plan-1", KindDeployment, stubEntry{id: fmt.Sprintf("dep-%d", i), kind: KindDeployment})
	}

	root := &Node{ID: "svc-1", Kind: KindService}
	NewWalker(cat, 4, zerolog.Nop()).BuildTree(context.Background(), root)

	if cat.maxInflight > 4 {
		t.Fatalf("expected at most 4 concurrent fetches, saw %d", cat.maxInflight)
	}
	if cat.maxInflight < 2 {
		t.Fatalf("expected fetches within a chunk to overlap, saw %d", cat.maxInflight)
	}
	if got := len(findNode(root, "plan-1").Children); got != 20 {
		t.Fatalf("expected 20 deployments, got %d", got)
	}
}

func TestBuildTreeGroupsAndIaaSChains(t *testing.T) {
	cat := newMemoryCatalog()
	// group → service → plan, plus a group iaas → iaas → iaas → plan chain.
	cat.add("grp", KindService, stubEntry{id: "svc-a", kind: KindService})
	cat.add("grp", KindIaaS, stubEntry{id: "iaas-grp", kind: KindIaaS, group: true})
	cat.add("svc-a", KindPlan, stubEntry{id: "plan-a", kind: KindPlan})
	cat.add("iaas-grp", KindIaaS, stubEntry{id: "iaas-1", kind: KindIaaS})
	cat.add("iaas-1", KindIaaS, stubEntry{id: "iaas-2", kind: KindIaaS})
	cat.add("iaas-2", KindPlan, stubEntry{id: "plan-b", kind: KindPlan})
	cat.pricing["plan-a"] = &PricingLeaf{NodeID: "plan-a"}
	cat.pricing["plan-b"] = &PricingLeaf{NodeID: "plan-b"}
	cat.pricing["iaas-grp"] = &PricingLeaf{NodeID: "iaas-grp"}

	root := &Node{ID: "grp", Kind: KindGroup}
	_, stats, _ := NewWalker(cat, 3, zerolog.Nop()).BuildTree(context.Background(), root)

	if stats.PricingLeaves != 2 {
		t.Fatalf("expected plan-a and plan-b priced, got %d", stats.PricingLeaves)
	}
	if findNode(root, "plan-b") == nil {
		t.Fatalf("deep iaas chain not walked")
	}
	if cat.called("pricing:iaas-grp") || cat.called("pricing:grp") {
		t.Fatalf("group nodes must never be priced")
	}
	if cat.called("children:iaas-grp/plan") {
		t.Fatalf("iaas group nodes only contain iaas entries")
	}
}

func TestBuildTreeStopsOnCycles(t *testing.T) {
	cat := newMemoryCatalog()
	cat.add("iaas-1", KindIaaS, stubEntry{id: "iaas-2", kind: KindIaaS})
	cat.add("iaas-2", KindIaaS, stubEntry{id: "iaas-1", kind: KindIaaS})

	root := &Node{ID: "iaas-1", Kind: KindIaaS}
	done := make(chan struct{})
	go func() {
		NewWalker(cat, 2, zerolog.Nop()).BuildTree(context.Background(), root)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("walk did not terminate on a cyclic catalog")
	}
}

func TestBuildTreeHonoursCancellation(t *testing.T) {
	cat := newMemoryCatalog()
	cat.add("svc-1", KindPlan, stubEntry{id: "plan-1", kind: KindPlan})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewWalker(cat, 2, zerolog.Nop()).BuildTree(ctx, &Node{ID: "svc-1", Kind: KindService})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuildForestAggregatesStats(t *testing.T) {
	cat := newMemoryCatalog()
	for _, svc := range []string{"svc-1", "svc-2"} {
		plan := "plan-" + svc
		cat.add(svc, KindPlan, stubEntry{id: plan, kind: KindPlan})
		cat.pricing[plan] = &PricingLeaf{NodeID: plan}
	}
	roots := []*Node{{ID: "svc-1", Kind: KindService}, {ID: "svc-2", Kind: KindService}}

	_, stats, err := NewWalker(cat, 0, zerolog.Nop()).BuildForest(context.Background(), roots)
	if err != nil {
		t.Fatalf("BuildForest: %v", err)
	}
	if stats.PricingLeaves != 2 || stats.NodesExpanded != 4 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestChildKinds(t *testing.T) {
	tests := []struct {
		kind    Kind
		isGroup bool
		want    []Kind
	}{
		{KindService, false, []Kind{KindPlan}},
		{KindService, true, []Kind{KindService}},
		{KindIaaS, false, []Kind{KindIaaS, KindPlan}},
		{KindIaaS, true, []Kind{KindIaaS}},
		{KindGroup, true, []Kind{KindService, KindIaaS}},
		{KindPlan, false, []Kind{KindDeployment}},
		{KindDeployment, false, nil},
	}
	for _, tt := range tests {
		got := tt.kind.ChildKinds(tt.isGroup)
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Fatalf("%s(group=%v).ChildKinds() = %v, want %v", tt.kind, tt.isGroup, got, tt.want)
		}
	}
}
