package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "cloud-pricing/pkg/errors"
)

const DefaultBaseURL = "https://globalcatalog.cloud.ibm.com/api/v1"

// Config holds catalog API settings.
type Config struct {
	BaseURL          string
	PageSize         int
	MaxAttempts      int
	RateLimitBackoff time.Duration
	Timeout          time.Duration
	UserAgent        string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		PageSize:         200,
		MaxAttempts:      3,
		RateLimitBackoff: 30 * time.Second,
		Timeout:          60 * time.Second,
		UserAgent:        "cloud-pricing-scraper/1.0",
	}
}

// Client talks to the paginated catalog API.
type Client struct {
	HTTP   *http.Client
	Config Config
	Logger zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient validates cfg and fills unset fields from DefaultConfig.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = def.BaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid catalog base URL: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RateLimitBackoff < 0 {
		cfg.RateLimitBackoff = def.RateLimitBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	return &Client{
		HTTP:   &http.Client{Timeout: cfg.Timeout},
		Config: cfg,
		Logger: logger,
		sleep:  sleepContext,
	}, nil
}

type resource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Group    bool   `json:"group"`
	Metadata struct {
		Deployment struct {
			Location string `json:"location"`
		} `json:"deployment"`
	} `json:"metadata"`
	Children []resource `json:"children"`
}

type page struct {
	Count     json.RawMessage `json:"count"`
	Resources []resource      `json:"resources"`
}

// ListRoots returns the top-level entries matching query, e.g.
// "kind:service active:true".
func (c *Client) ListRoots(ctx context.Context, query string) ([]*Node, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	res, err := c.list(ctx, c.endpoint(), q, "")
	if err != nil {
		return nil, err
	}
	return c.toNodes(res), nil
}

// GetChildren returns the children of nodeID that have the given kind. A
// 404 on the first page means there are none.
func (c *Client) GetChildren(ctx context.Context, nodeID string, kind Kind) ([]*Node, error) {
	res, err := c.list(ctx, c.endpoint(nodeID, string(kind)), url.Values{}, nodeID)
	if errors.Is(err, perrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.toNodes(res), nil
}

// GetNode fetches a single entry with up to depth levels of children inlined.
func (c *Client) GetNode(ctx context.Context, nodeID string, depth int) (*Node, error) {
	u := c.endpoint(nodeID)
	if depth > 0 {
		u += "?depth=" + strconv.Itoa(depth)
	}
	body, err := c.get(ctx, u, nodeID)
	if err != nil {
		return nil, err
	}
	var r resource
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", nodeID, err)
	}
	n, err := toNode(r)
	if err != nil {
		return nil, err
	}
	n.Children = c.toNodes(r.Children)
	return n, nil
}

// GetPricing returns the pricing leaf for nodeID, or nil when the catalog has
// no pricing there (404).
func (c *Client) GetPricing(ctx context.Context, nodeID string) (*PricingLeaf, error) {
	body, err := c.get(ctx, c.endpoint(nodeID, "pricing"), nodeID)
	if errors.Is(err, perrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var leaf PricingLeaf
	if err := json.Unmarshal(body, &leaf); err != nil {
		return nil, perrors.NewMalformedPricingError(nodeID, "decode pricing: "+err.Error())
	}
	if leaf.NodeID == "" {
		leaf.NodeID = nodeID
	}
	return &leaf, nil
}

// list follows limit/offset pagination until the reported total is reached.
// A missing or non-numeric total ends pagination after the current page. A
// 404 past the first page is reported as an unexpected status, since the
// collection was there a moment ago.
func (c *Client) list(ctx context.Context, base string, q url.Values, nodeID string) ([]resource, error) {
	var out []resource
	offset := 0
	for {
		q.Set("_limit", strconv.Itoa(c.Config.PageSize))
		q.Set("_offset", strconv.Itoa(offset))

		body, err := c.get(ctx, base+"?"+q.Encode(), nodeID)
		if offset > 0 && errors.Is(err, perrors.ErrNotFound) {
			return nil, perrors.NewUnexpectedStatusError(nodeID, http.StatusNotFound)
		}
		if err != nil {
			return nil, err
		}
		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode page at offset %d: %w", offset, err)
		}
		out = append(out, p.Resources...)

		total, ok := parseCount(p.Count)
		if !ok || len(p.Resources) == 0 || offset+len(p.Resources) >= total {
			return out, nil
		}
		offset += len(p.Resources)
	}
}

// get issues one GET, sleeping and retrying on 429 up to MaxAttempts.
func (c *Client) get(ctx context.Context, u, nodeID string) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.Config.UserAgent)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, perrors.NewTransientNetworkError(nodeID, err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= c.Config.MaxAttempts {
				return nil, perrors.NewRateLimitedError(nodeID, attempt)
			}
			c.Logger.Warn().
				Str("node_id", nodeID).
				Int("attempt", attempt).
				Dur("backoff", c.Config.RateLimitBackoff).
				Msg("catalog rate limited, backing off")
			if err := c.sleep(ctx, c.Config.RateLimitBackoff); err != nil {
				return nil, err
			}
			continue
		case resp.StatusCode == http.StatusNotFound:
			return nil, perrors.NewNotFoundError(nodeID)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, perrors.NewUnexpectedStatusError(nodeID, resp.StatusCode)
		}
		if readErr != nil {
			return nil, perrors.NewTransientNetworkError(nodeID, readErr)
		}
		return body, nil
	}
}

func (c *Client) endpoint(parts ...string) string {
	u := c.Config.BaseURL
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// toNodes converts a page of resources, dropping kinds the walker does not
// model (aliases, templates and so on).
func (c *Client) toNodes(res []resource) []*Node {
	nodes := make([]*Node, 0, len(res))
	for _, r := range res {
		n, err := toNode(r)
		if err != nil {
			c.Logger.Debug().Str("node_id", r.ID).Err(err).Msg("skipping catalog entry")
			continue
		}
		n.Children = c.toNodes(r.Children)
		nodes = append(nodes, n)
	}
	return nodes
}

func toNode(r resource) (*Node, error) {
	kind, err := ParseKind(r.Kind)
	if err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, fmt.Errorf("catalog entry without id")
	}
	return &Node{
		ID:       r.ID,
		Name:     r.Name,
		Kind:     kind,
		IsGroup:  r.Group,
		Location: r.Metadata.Deployment.Location,
	}, nil
}

func parseCount(raw json.RawMessage) (int, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
