// Package file implements engine.SourceCatalog over a JSON catalog export.
//
// The export holds two arrays, products and collections, of engine.SourceItem
// objects. Related entries may be partial; missing kinds and handles are
// filled from the export itself. Watch reloads the file when it changes.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
)

// DefaultPageSize is the number of items passed to each FetchAll progress call.
const DefaultPageSize = 50

// Export is the on-disk catalog format.
type Export struct {
	// Shop, when set, is the only shop name TestCredentials accepts.
	Shop        string              `json:"shop,omitempty"`
	Products    []engine.SourceItem `json:"products"`
	Collections []engine.SourceItem `json:"collections"`
}

type snapshot struct {
	shop     string
	byID     map[string]*engine.SourceItem
	byHandle map[engine.Kind]map[string]*engine.SourceItem
	ordered  map[engine.Kind][]*engine.SourceItem
	loadedAt time.Time
}

// Catalog serves a loaded export. It is safe for concurrent use.
type Catalog struct {
	path     string
	pageSize int
	logger   zerolog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithPageSize sets the FetchAll page size.
func WithPageSize(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithLogger sets the catalog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// New loads the export at path.
func New(path string, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		path:     path,
		pageSize: DefaultPageSize,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "file-catalog").Str("path", path).Logger()

	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the export path.
func (c *Catalog) Path() string {
	return c.path
}

// Reload re-reads the export. On error the previous snapshot is kept.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}

	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("failed to parse catalog %s: %w", c.path, err)
	}

	snap, err := index(&export)
	if err != nil {
		return fmt.Errorf("invalid catalog %s: %w", c.path, err)
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	c.logger.Debug().
		Int("products", len(snap.ordered[engine.KindProduct])).
		Int("collections", len(snap.ordered[engine.KindCollection])).
		Msg("Catalog loaded")
	return nil
}

func index(export *Export) (*snapshot, error) {
	snap := &snapshot{
		shop:     export.Shop,
		byID:     make(map[string]*engine.SourceItem),
		byHandle: map[engine.Kind]map[string]*engine.SourceItem{engine.KindProduct: {}, engine.KindCollection: {}},
		ordered:  make(map[engine.Kind][]*engine.SourceItem),
		loadedAt: time.Now(),
	}

	add := func(kind engine.Kind, items []engine.SourceItem) error {
		for i := range items {
			item := &items[i]
			if item.Kind == "" {
				item.Kind = kind
			}
			if item.Kind != kind {
				return fmt.Errorf("item %s listed under %s has kind %s", item.ID, kind, item.Kind)
			}
			if err := item.Validate(); err != nil {
				return err
			}
			if _, dup := snap.byID[item.ID]; dup {
				return fmt.Errorf("duplicate item id %s", item.ID)
			}
			snap.byID[item.ID] = item
			if item.Handle != "" {
				snap.byHandle[kind][item.Handle] = item
			}
			snap.ordered[kind] = append(snap.ordered[kind], item)
		}
		return nil
	}
	if err := add(engine.KindProduct, export.Products); err != nil {
		return nil, err
	}
	if err := add(engine.KindCollection, export.Collections); err != nil {
		return nil, err
	}

	// Fill partial related entries from the indexed items.
	for _, item := range snap.byID {
		for i := range item.Related {
			rel := &item.Related[i]
			if rel.Kind == "" {
				rel.Kind = item.Kind.Complement()
			}
			if full, ok := snap.byID[rel.ID]; ok && rel.Handle == "" {
				rel.Handle = full.Handle
			}
		}
	}
	return snap, nil
}

func (c *Catalog) current() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// FetchByID returns the item with the given id, or nil.
func (c *Catalog) FetchByID(ctx context.Context, id string) (*engine.SourceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, ok := c.current().byID[id]
	if !ok {
		return nil, nil
	}
	return cloneItem(item), nil
}

// FetchByHandle returns the item of kind with handle, or nil.
func (c *Catalog) FetchByHandle(ctx context.Context, handle string, kind engine.Kind) (*engine.SourceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	item, ok := c.current().byHandle[kind][handle]
	if !ok {
		return nil, nil
	}
	return cloneItem(item), nil
}

// FetchAll returns every item of kind, reporting pages of the configured size.
func (c *Catalog) FetchAll(ctx context.Context, kind engine.Kind, onProgress func(page []engine.SourceItem)) ([]engine.SourceItem, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	items := c.current().ordered[kind]
	out := make([]engine.SourceItem, 0, len(items))
	for start := 0; start < len(items); start += c.pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+c.pageSize, len(items))
		page := make([]engine.SourceItem, 0, end-start)
		for _, item := range items[start:end] {
			page = append(page, *cloneItem(item))
		}
		out = append(out, page...)
		if onProgress != nil {
			onProgress(page)
		}
	}
	return out, nil
}

// TestCredentials accepts any complete secrets whose shop name matches the
// export's shop, when the export names one.
func (c *Catalog) TestCredentials(_ context.Context, secrets engine.Secrets) engine.CredentialCheck {
	if secrets.ShopName == "" || secrets.AccessToken == "" {
		return engine.CredentialCheck{IsError: true, Message: "shop name and access token are required"}
	}
	if shop := c.current().shop; shop != "" && shop != secrets.ShopName {
		return engine.CredentialCheck{
			IsError: true,
			Message: fmt.Sprintf("catalog belongs to shop %q, not %q", shop, secrets.ShopName),
		}
	}
	return engine.CredentialCheck{}
}

// LoadedAt returns when the current snapshot was read.
func (c *Catalog) LoadedAt() time.Time {
	return c.current().loadedAt
}

// cloneItem copies an item so callers may modify its slices and maps.
func cloneItem(item *engine.SourceItem) *engine.SourceItem {
	cp := *item
	cp.Attributes = maps.Clone(item.Attributes)
	if item.Options != nil {
		cp.Options = make([]engine.SourceOption, len(item.Options))
		for i, o := range item.Options {
			o.Values = slices.Clone(o.Values)
			cp.Options[i] = o
		}
	}
	if item.Variants != nil {
		cp.Variants = make([]engine.SourceVariant, len(item.Variants))
		for i, v := range item.Variants {
			v.Attributes = maps.Clone(v.Attributes)
			cp.Variants[i] = v
		}
	}
	if item.Related != nil {
		cp.Related = make([]engine.SourceItem, len(item.Related))
		for i := range item.Related {
			cp.Related[i] = *cloneItem(&item.Related[i])
		}
	}
	return &cp
}
