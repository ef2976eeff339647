// Package shopify implements engine.SourceCatalog against the Shopify
// Storefront GraphQL API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
)

const (
	// DefaultAPIVersion is the Storefront API version requested.
	DefaultAPIVersion = "2024-07"

	// DefaultPageSize is the number of items requested per page.
	DefaultPageSize = 50

	// MaxPageSize is the largest page the API accepts.
	MaxPageSize = 250

	// DefaultRequestsPerSecond keeps well inside the Storefront API limits.
	DefaultRequestsPerSecond = 2.0

	defaultBurst   = 4
	defaultTimeout = 30 * time.Second

	tokenHeader = "X-Shopify-Storefront-Access-Token"
)

// Config holds client configuration.
type Config struct {
	APIVersion string `yaml:"api_version,omitempty"`

	// Endpoint overrides https://<shop>.myshopify.com/api/<version>/graphql.json.
	Endpoint string `yaml:"endpoint,omitempty" validate:"omitempty,url"`

	PageSize          int           `yaml:"page_size,omitempty" validate:"gte=0,lte=250"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty" validate:"gte=0"`
	Burst             int           `yaml:"burst,omitempty" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
}

// APIError is a non-success HTTP response or a GraphQL error list.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		if len(e.Messages) == 0 {
			return fmt.Sprintf("storefront API returned %d", e.StatusCode)
		}
		return fmt.Sprintf("storefront API returned %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
	}
	return "storefront API error: " + strings.Join(e.Messages, "; ")
}

// Temporary reports whether retrying later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Unauthorized reports whether the access token was rejected.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ErrNoCredentials is returned by fetch calls before secrets are set.
var ErrNoCredentials = errors.New("shop name and access token are required")

// Client reads products and collections from one shop.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger

	mu      sync.RWMutex
	secrets engine.Secrets
}

// Option configures a Client.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	logger    zerolog.Logger
}

// WithTransport sets the base transport under the rate limiter.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a client. Secrets may be empty and set later with SetSecrets.
func New(cfg Config, secrets engine.Secrets, opts ...Option) *Client {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		cfg:     cfg,
		http:    newRateLimitedHTTPClient(o.transport, cfg.RequestsPerSecond, cfg.Burst, cfg.Timeout),
		logger:  o.logger.With().Str("component", "shopify").Logger(),
		secrets: secrets,
	}
}

// SetSecrets replaces the credentials used by fetch calls.
func (c *Client) SetSecrets(secrets engine.Secrets) {
	c.mu.Lock()
	c.secrets = secrets
	c.mu.Unlock()
}

func (c *Client) currentSecrets() (engine.Secrets, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.secrets.ShopName == "" || c.secrets.AccessToken == "" {
		return engine.Secrets{}, ErrNoCredentials
	}
	return c.secrets, nil
}

func (c *Client) endpoint(shop string) string {
	if c.cfg.Endpoint != "" {
		return c.cfg.Endpoint
	}
	return fmt.Sprintf("https://%s.myshopify.com/api/%s/graphql.json", shop, c.cfg.APIVersion)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// do posts one GraphQL request and decodes data into out.
func (c *Client) do(ctx context.Context, secrets engine.Secrets, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(secrets.ShopName), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(tokenHeader, secrets.AccessToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storefront request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Storefront request")

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var gr graphQLResponse
		if json.Unmarshal(raw, &gr) == nil {
			for _, e := range gr.Errors {
				apiErr.Messages = append(apiErr.Messages, e.Message)
			}
		}
		return apiErr
	}

	var gr graphQLResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		for _, e := range gr.Errors {
			apiErr.Messages = append(apiErr.Messages, e.Message)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

// FetchByID returns the product or collection with the given global id, or nil.
func (c *Client) FetchByID(ctx context.Context, id string) (*engine.SourceItem, error) {
	secrets, err := c.currentSecrets()
	if err != nil {
		return nil, err
	}
	var data struct {
		Node *node `json:"node"`
	}
	if err := c.do(ctx, secrets, nodeQuery, map[string]any{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Node == nil {
		return nil, nil
	}
	kind := engine.Kind(data.Node.Typename)
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if err := c.expand(ctx, secrets, data.Node); err != nil {
		return nil, err
	}
	item := data.Node.toItem(kind)
	return &item, nil
}

// FetchByHandle returns the item of kind with handle, or nil.
func (c *Client) FetchByHandle(ctx context.Context, handle string, kind engine.Kind) (*engine.SourceItem, error) {
	secrets, err := c.currentSecrets()
	if err != nil {
		return nil, err
	}

	var data struct {
		Product    *node `json:"product"`
		Collection *node `json:"collection"`
	}
	query := productByHandleQuery
	if kind == engine.KindCollection {
		query = collectionByHandleQuery
	} else if err := kind.Validate(); err != nil {
		return nil, err
	}
	if err := c.do(ctx, secrets, query, map[string]any{"handle": handle}, &data); err != nil {
		return nil, err
	}

	n := data.Product
	if kind == engine.KindCollection {
		n = data.Collection
	}
	if n == nil {
		return nil, nil
	}
	if err := c.expand(ctx, secrets, n); err != nil {
		return nil, err
	}
	item := n.toItem(kind)
	return &item, nil
}

// FetchAll pages through every item of kind.
func (c *Client) FetchAll(ctx context.Context, kind engine.Kind, onProgress func(page []engine.SourceItem)) ([]engine.SourceItem, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	secrets, err := c.currentSecrets()
	if err != nil {
		return nil, err
	}

	query := productsQuery
	if kind == engine.KindCollection {
		query = collectionsQuery
	}

	var all []engine.SourceItem
	var cursor *string
	for {
		vars := map[string]any{"first": c.cfg.PageSize, "after": cursor}
		var data struct {
			Products    *connection `json:"products"`
			Collections *connection `json:"collections"`
		}
		if err := c.do(ctx, secrets, query, vars, &data); err != nil {
			return nil, err
		}
		conn := data.Products
		if kind == engine.KindCollection {
			conn = data.Collections
		}
		if conn == nil {
			return nil, fmt.Errorf("storefront response missing %s connection", strings.ToLower(string(kind)))
		}

		page := make([]engine.SourceItem, 0, len(conn.Edges))
		for i := range conn.Edges {
			n := &conn.Edges[i].Node
			if err := c.expand(ctx, secrets, n); err != nil {
				return nil, err
			}
			page = append(page, n.toItem(kind))
		}
		all = append(all, page...)
		if onProgress != nil && len(page) > 0 {
			onProgress(page)
		}

		if !conn.PageInfo.HasNextPage || conn.PageInfo.EndCursor == "" {
			break
		}
		next := conn.PageInfo.EndCursor
		cursor = &next
	}

	c.logger.Debug().
		Str("kind", string(kind)).
		Int("count", len(all)).
		Msg("Fetched all items")
	return all, nil
}

// expand pages through the nested connections of n until variants and
// relations are complete. A missing relation would be unlinked on both sides.
func (c *Client) expand(ctx context.Context, secrets engine.Secrets, n *node) error {
	for n.Variants != nil && n.Variants.PageInfo.more() {
		next, err := c.nestedPage(ctx, secrets, productVariantsQuery, n.ID, n.Variants.PageInfo.EndCursor)
		if err != nil {
			return err
		}
		if next.Variants == nil {
			return fmt.Errorf("storefront response missing variants of %s", n.ID)
		}
		n.Variants.Edges = append(n.Variants.Edges, next.Variants.Edges...)
		n.Variants.PageInfo = next.Variants.PageInfo
	}

	if err := c.expandRefs(ctx, secrets, n.ID, productCollectionsQuery, n.Collections,
		func(p *node) *refConnection { return p.Collections }); err != nil {
		return err
	}
	return c.expandRefs(ctx, secrets, n.ID, collectionProductsQuery, n.Products,
		func(p *node) *refConnection { return p.Products })
}

func (c *Client) expandRefs(ctx context.Context, secrets engine.Secrets, id, query string, conn *refConnection, pick func(*node) *refConnection) error {
	for conn != nil && conn.PageInfo.more() {
		next, err := c.nestedPage(ctx, secrets, query, id, conn.PageInfo.EndCursor)
		if err != nil {
			return err
		}
		page := pick(next)
		if page == nil {
			return fmt.Errorf("storefront response missing relations of %s", id)
		}
		conn.Edges = append(conn.Edges, page.Edges...)
		conn.PageInfo = page.PageInfo
	}
	return nil
}

func (c *Client) nestedPage(ctx context.Context, secrets engine.Secrets, query, id, after string) (*node, error) {
	var data struct {
		Node *node `json:"node"`
	}
	vars := map[string]any{"id": id, "first": MaxPageSize, "after": after}
	if err := c.do(ctx, secrets, query, vars, &data); err != nil {
		return nil, err
	}
	if data.Node == nil {
		return nil, fmt.Errorf("%s disappeared while paging its connections", id)
	}
	c.logger.Debug().Str("external_id", id).Str("after", after).Msg("Fetched nested page")
	return data.Node, nil
}

// TestCredentials queries the shop with secrets without storing them.
func (c *Client) TestCredentials(ctx context.Context, secrets engine.Secrets) engine.CredentialCheck {
	if secrets.ShopName == "" || secrets.AccessToken == "" {
		return engine.CredentialCheck{IsError: true, Message: ErrNoCredentials.Error()}
	}

	var data struct {
		Shop *struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	err := c.do(ctx, secrets, shopQuery, nil, &data)

	var apiErr *APIError
	switch {
	case err == nil && data.Shop != nil:
		return engine.CredentialCheck{}
	case err == nil:
		return engine.CredentialCheck{IsError: true, Message: "shop not found"}
	case errors.As(err, &apiErr) && apiErr.Unauthorized():
		return engine.CredentialCheck{IsError: true, Message: "the access token was rejected"}
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		return engine.CredentialCheck{IsError: true, Message: fmt.Sprintf("shop %q not found", secrets.ShopName)}
	default:
		return engine.CredentialCheck{IsError: true, Message: err.Error()}
	}
}
