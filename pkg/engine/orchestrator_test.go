package engine_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
	"github.com/matijagrcic/sane-shopify/pkg/stores/memory"
	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// fakeCatalog is an in-memory source catalog with a symmetric relation table.
type fakeCatalog struct {
	mu       sync.Mutex
	items    map[string]engine.SourceItem
	order    []string
	links    map[string]map[string]bool
	pageSize int
	token    string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		items: make(map[string]engine.SourceItem),
		links: make(map[string]map[string]bool),
		token: "valid-token",
	}
}

func (c *fakeCatalog) put(items ...engine.SourceItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range items {
		if _, ok := c.items[item.ID]; !ok {
			c.order = append(c.order, item.ID)
		}
		c.items[item.ID] = item
	}
}

func (c *fakeCatalog) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	for other := range c.links[id] {
		delete(c.links[other], id)
	}
	delete(c.links, id)
}

func (c *fakeCatalog) relate(a, b string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if c.links[pair[0]] == nil {
			c.links[pair[0]] = make(map[string]bool)
		}
		c.links[pair[0]][pair[1]] = true
	}
}

func (c *fakeCatalog) unrelate(a, b string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.links[a], b)
	delete(c.links[b], a)
}

// withRelated returns a copy of the item carrying partial related items.
// Must be called with c.mu held.
func (c *fakeCatalog) withRelated(item engine.SourceItem) *engine.SourceItem {
	ids := make([]string, 0, len(c.links[item.ID]))
	for id := range c.links[item.ID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	item.Related = nil
	for _, id := range ids {
		related, ok := c.items[id]
		if !ok {
			related = engine.SourceItem{ID: id, Kind: item.Kind.Complement()}
		}
		item.Related = append(item.Related, engine.SourceItem{ID: related.ID, Kind: related.Kind, Handle: related.Handle})
	}
	return &item
}

func (c *fakeCatalog) FetchByID(_ context.Context, id string) (*engine.SourceItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		return nil, nil
	}
	return c.withRelated(item), nil
}

func (c *fakeCatalog) FetchByHandle(_ context.Context, handle string, kind engine.Kind) (*engine.SourceItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		if item := c.items[id]; item.Handle == handle && item.Kind == kind {
			return c.withRelated(item), nil
		}
	}
	return nil, nil
}

func (c *fakeCatalog) FetchAll(_ context.Context, kind engine.Kind, onProgress func([]engine.SourceItem)) ([]engine.SourceItem, error) {
	c.mu.Lock()
	var all []engine.SourceItem
	for _, id := range c.order {
		if item := c.items[id]; item.Kind == kind {
			all = append(all, *c.withRelated(item))
		}
	}
	pageSize := c.pageSize
	c.mu.Unlock()

	if pageSize > 0 && onProgress != nil {
		for start := 0; start < len(all); start += pageSize {
			end := min(start+pageSize, len(all))
			onProgress(all[start:end])
		}
	}
	return all, nil
}

func (c *fakeCatalog) TestCredentials(_ context.Context, secrets engine.Secrets) engine.CredentialCheck {
	if secrets.AccessToken != c.token {
		return engine.CredentialCheck{IsError: true, Message: "invalid access token"}
	}
	return engine.CredentialCheck{}
}

func product(id, handle string) engine.SourceItem {
	return engine.SourceItem{
		ID:     id,
		Kind:   engine.KindProduct,
		Handle: handle,
		Title:  "Product " + handle,
		Variants: []engine.SourceVariant{
			{ID: id + "-v1", Title: "Default", Price: "10.00", Available: true},
		},
	}
}

func collection(id, handle string) engine.SourceItem {
	return engine.SourceItem{ID: id, Kind: engine.KindCollection, Handle: handle, Title: "Collection " + handle}
}

func newTestOrchestrator(t *testing.T, catalog engine.SourceCatalog, store engine.TargetStore, opts ...engine.Option) *engine.Orchestrator {
	t.Helper()
	opts = append([]engine.Option{
		engine.WithLogger(zerolog.Nop()),
		engine.WithWriteDelay(0),
	}, opts...)
	o, err := engine.New(catalog, store, memory.NewSecrets(engine.Secrets{}), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func getDoc(t *testing.T, store engine.TargetStore, externalID string) *engine.TargetDocument {
	t.Helper()
	doc, err := store.Query(context.Background(), engine.ByExternalID(externalID))
	if err != nil {
		t.Fatalf("Query(%s) failed: %v", externalID, err)
	}
	if doc == nil {
		t.Fatalf("document %s not found", externalID)
	}
	return doc
}

func relatedIDs(rels []engine.Relation) []string {
	ids := make([]string, 0, len(rels))
	for _, r := range rels {
		ids = append(ids, r.ExternalID)
	}
	sort.Strings(ids)
	return ids
}

func seedCatalog() *fakeCatalog {
	c := newFakeCatalog()
	c.put(product("P1", "p1"), product("P2", "p2"), collection("C1", "c1"), collection("C2", "c2"))
	c.relate("P1", "C1")
	c.relate("P2", "C1")
	c.relate("P2", "C2")
	return c
}

func TestReconciler_CreateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := engine.NewReconciler(store, engine.NewDocumentCache(), engine.NewWriteThrottle(0))
	item := &engine.SourceItem{ID: "P1", Kind: engine.KindProduct, Handle: "p1"}

	op, err := r.Reconcile(ctx, item)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if op.Type != engine.OperationCreate {
		t.Fatalf("expected create, got %s", op.Type)
	}

	projection, err := engine.Project(item)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if !engine.SubsetMatches(projection, getDoc(t, store, "P1").Tree()) {
		t.Error("stored document does not contain the projection")
	}

	for i := 0; i < 2; i++ {
		op, err = r.Reconcile(ctx, item)
		if err != nil {
			t.Fatalf("Reconcile #%d failed: %v", i+2, err)
		}
		if op.Type != engine.OperationSkip {
			t.Errorf("Reconcile #%d: expected skip, got %s", i+2, op.Type)
		}
	}
	if n := len(store.Writes()); n != 1 {
		t.Errorf("expected a single write, got %d", n)
	}
}

func TestReconciler_UpdatePreservesEditorFields(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := engine.NewReconciler(store, engine.NewDocumentCache(), engine.NewWriteThrottle(0))

	item := product("P1", "p1")
	if _, err := r.Reconcile(ctx, &item); err != nil {
		t.Fatalf("initial Reconcile failed: %v", err)
	}
	doc := getDoc(t, store, "P1")
	if _, err := store.Patch(doc.ID).Set(engine.Fields{"seo": "editor text"}).Commit(ctx); err != nil {
		t.Fatalf("editor patch failed: %v", err)
	}

	item.Title = "Renamed"
	r = engine.NewReconciler(store, engine.NewDocumentCache(), engine.NewWriteThrottle(0))
	op, err := r.Reconcile(ctx, &item)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if op.Type != engine.OperationUpdate {
		t.Fatalf("expected update, got %s", op.Type)
	}
	if op.Document.Title != "Renamed" || op.Document.Fields["seo"] != "editor text" {
		t.Errorf("unexpected document after update: title=%q seo=%v", op.Document.Title, op.Document.Fields["seo"])
	}
	if op.Document.ID != doc.ID {
		t.Errorf("update must keep the internal id: %s != %s", op.Document.ID, doc.ID)
	}
}

type forgetfulStore struct {
	*memory.Store
	hide string
}

func (s *forgetfulStore) Query(ctx context.Context, f engine.Filter) (*engine.TargetDocument, error) {
	if f.ExternalID == s.hide {
		return nil, nil
	}
	return s.Store.Query(ctx, f)
}

func TestOrchestrator_RefetchInconsistencyAbortsRun(t *testing.T) {
	catalog := seedCatalog()
	var phases []engine.Phase
	o := newTestOrchestrator(t, catalog, &forgetfulStore{Store: memory.New(), hide: "P1"},
		engine.WithObserver(func(s engine.SyncState) { phases = append(phases, s.Phase) }))

	summary, err := o.SyncItemByID(context.Background(), "P1", engine.Callbacks{})
	if !errors.Is(err, engine.ErrRefetchInconsistency) {
		t.Fatalf("expected ErrRefetchInconsistency, got %v", err)
	}
	if summary.Status != engine.RunStatusFailed {
		t.Errorf("summary status = %s, want failed", summary.Status)
	}
	if got := o.State().Phase; got != engine.PhaseFailed {
		t.Errorf("phase = %s, want failed", got)
	}
	if phases[len(phases)-1] != engine.PhaseFailed {
		t.Errorf("observer did not see the failed phase: %v", phases)
	}
}

func TestOrchestrator_SyncAllSymmetry(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	o := newTestOrchestrator(t, seedCatalog(), store)

	summary, err := o.SyncAll(ctx, engine.Callbacks{})
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if summary.Created != 4 || summary.Fetched != 4 || summary.Linked != 4 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	tests := []struct {
		id    string
		field string
		want  []string
	}{
		{"P1", engine.FieldCollections, []string{"C1"}},
		{"P2", engine.FieldCollections, []string{"C1", "C2"}},
		{"C1", engine.FieldProducts, []string{"P1", "P2"}},
		{"C2", engine.FieldProducts, []string{"P2"}},
	}
	for _, tt := range tests {
		doc := getDoc(t, store, tt.id)
		if diff := cmp.Diff(tt.want, relatedIDs(doc.Relations(tt.field))); diff != "" {
			t.Errorf("%s.%s mismatch (-want +got):\n%s", tt.id, tt.field, diff)
		}
	}

	p1 := getDoc(t, store, "P1")
	c1 := getDoc(t, store, "C1")
	rel, ok := c1.RelationTo(engine.FieldProducts, "P1")
	if !ok || rel.Ref != p1.ID || rel.Key != engine.RelationKey("P1") {
		t.Errorf("C1 relation to P1 = %+v, want ref %s", rel, p1.ID)
	}
}

func TestOrchestrator_SyncAllIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	o := newTestOrchestrator(t, seedCatalog(), store)

	if _, err := o.SyncAll(ctx, engine.Callbacks{}); err != nil {
		t.Fatalf("first SyncAll failed: %v", err)
	}
	writes := len(store.Writes())

	var ops []engine.OperationType
	summary, err := o.SyncAll(ctx, engine.Callbacks{
		OnSynced: func(op engine.SyncOperation) { ops = append(ops, op.Type) },
	})
	if err != nil {
		t.Fatalf("second SyncAll failed: %v", err)
	}

	for i, op := range ops {
		if op != engine.OperationSkip {
			t.Errorf("operation %d = %s, want skip", i, op)
		}
	}
	if summary.Skipped != 4 || summary.Created != 0 || summary.Updated != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if got := len(store.Writes()); got != writes {
		t.Errorf("second run wrote %d times", got-writes)
	}
}

func TestOrchestrator_TargetedSyncArchivesVanishedItem(t *testing.T) {
	ctx := context.Background()
	catalog := seedCatalog()
	store := memory.New()
	o := newTestOrchestrator(t, catalog, store)

	if _, err := o.SyncAll(ctx, engine.Callbacks{}); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	catalog.remove("P1")

	var archived []string
	summary, err := o.SyncProductByHandle(ctx, "p1", engine.Callbacks{
		OnArchived: func(doc engine.TargetDocument) { archived = append(archived, doc.ExternalID) },
	})
	if err != nil {
		t.Fatalf("SyncProductByHandle failed: %v", err)
	}

	p1 := getDoc(t, store, "P1")
	if !p1.Archived || len(p1.Products) != 0 || len(p1.Collections) != 0 {
		t.Errorf("P1 not archived cleanly: %+v", p1)
	}
	c1 := getDoc(t, store, "C1")
	if diff := cmp.Diff([]string{"P2"}, relatedIDs(c1.Products)); diff != "" {
		t.Errorf("C1 products mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"P1"}, archived); diff != "" {
		t.Errorf("archived callback mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"P1"}, summary.Archived); diff != "" {
		t.Errorf("summary archived mismatch (-want +got):\n%s", diff)
	}
	if store.Len() != 4 {
		t.Errorf("documents must never be deleted, have %d", store.Len())
	}
}

func TestOrchestrator_FullSyncArchivesOrphans(t *testing.T) {
	ctx := context.Background()
	catalog := seedCatalog()
	store := memory.New()
	o := newTestOrchestrator(t, catalog, store)

	if _, err := o.SyncAll(ctx, engine.Callbacks{}); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	catalog.remove("C1")

	summary, err := o.SyncAll(ctx, engine.Callbacks{})
	if err != nil {
		t.Fatalf("second SyncAll failed: %v", err)
	}
	if diff := cmp.Diff([]string{"C1"}, summary.Archived); diff != "" {
		t.Errorf("archived mismatch (-want +got):\n%s", diff)
	}

	active, err := store.QueryAll(ctx, engine.Filter{})
	if err != nil {
		t.Fatalf("QueryAll failed: %v", err)
	}
	for _, doc := range active {
		if _, ok := doc.RelationTo(engine.FieldProducts, "C1"); ok {
			t.Errorf("%s still references C1", doc.ExternalID)
		}
		if _, ok := doc.RelationTo(engine.FieldCollections, "C1"); ok {
			t.Errorf("%s still references C1", doc.ExternalID)
		}
	}
	if p2 := getDoc(t, store, "P2"); !cmp.Equal([]string{"C2"}, relatedIDs(p2.Collections)) {
		t.Errorf("P2 collections = %v, want [C2]", relatedIDs(p2.Collections))
	}
}

func TestOrchestrator_RelationRemovedUpstream(t *testing.T) {
	ctx := context.Background()
	catalog := seedCatalog()
	store := memory.New()
	o := newTestOrchestrator(t, catalog, store)

	if _, err := o.SyncAll(ctx, engine.Callbacks{}); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	catalog.unrelate("P2", "C2")

	var link engine.LinkOperation
	if _, err := o.SyncProductByHandle(ctx, "p2", engine.Callbacks{
		OnLinked: func(l engine.LinkOperation) { link = l },
	}); err != nil {
		t.Fatalf("SyncProductByHandle failed: %v", err)
	}

	if diff := cmp.Diff([]string{"C2"}, link.Removed); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
	if got := relatedIDs(getDoc(t, store, "P2").Collections); !cmp.Equal([]string{"C1"}, got) {
		t.Errorf("P2 collections = %v, want [C1]", got)
	}
	if got := getDoc(t, store, "C2").Products; len(got) != 0 {
		t.Errorf("C2 still lists products: %+v", got)
	}
}

func TestOrchestrator_LinkCreatesMissingRelatedDocument(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	o := newTestOrchestrator(t, seedCatalog(), store)

	summary, err := o.SyncProductByHandle(ctx, "p2", engine.Callbacks{})
	if err != nil {
		t.Fatalf("SyncProductByHandle failed: %v", err)
	}
	if summary.Created != 1 {
		t.Errorf("summary counts only the top-level item, got %d creates", summary.Created)
	}
	for _, id := range []string{"C1", "C2"} {
		doc := getDoc(t, store, id)
		if _, ok := doc.RelationTo(engine.FieldProducts, "P2"); !ok {
			t.Errorf("%s does not reference P2", id)
		}
	}
}

func TestOrchestrator_UnresolvedPairPolicy(t *testing.T) {
	newCatalog := func() *fakeCatalog {
		c := newFakeCatalog()
		c.put(product("P1", "p1"), collection("C1", "c1"))
		c.relate("P1", "C1")
		c.relate("P1", "GHOST")
		return c
	}

	t.Run("drop", func(t *testing.T) {
		store := memory.New()
		o := newTestOrchestrator(t, newCatalog(), store)
		summary, err := o.SyncProductByHandle(context.Background(), "p1", engine.Callbacks{})
		if err != nil {
			t.Fatalf("SyncProductByHandle failed: %v", err)
		}
		if diff := cmp.Diff([]string{"GHOST"}, summary.Unresolved); diff != "" {
			t.Errorf("unresolved mismatch (-want +got):\n%s", diff)
		}
		if got := relatedIDs(getDoc(t, store, "P1").Collections); !cmp.Equal([]string{"C1"}, got) {
			t.Errorf("P1 collections = %v, want [C1]", got)
		}
	})

	t.Run("fail", func(t *testing.T) {
		o := newTestOrchestrator(t, newCatalog(), memory.New(), engine.WithPairPolicy(engine.PairPolicyFail))
		_, err := o.SyncProductByHandle(context.Background(), "p1", engine.Callbacks{})
		if !errors.Is(err, engine.ErrUnresolvedPair) {
			t.Fatalf("expected ErrUnresolvedPair, got %v", err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := engine.New(newCatalog(), memory.New(), nil, engine.WithPairPolicy("ignore"))
		if err == nil {
			t.Fatal("expected error for unknown policy")
		}
	})
}

func TestOrchestrator_NotFoundStillCompletes(t *testing.T) {
	var phases []engine.Phase
	o := newTestOrchestrator(t, newFakeCatalog(), memory.New(),
		engine.WithObserver(func(s engine.SyncState) { phases = append(phases, s.Phase) }))

	completed := false
	summary, err := o.SyncItemByID(context.Background(), "missing", engine.Callbacks{
		OnComplete: func(engine.RunSummary) { completed = true },
	})
	if err != nil {
		t.Fatalf("SyncItemByID failed: %v", err)
	}
	if summary.Status != engine.RunStatusSucceeded || !completed {
		t.Errorf("expected a completed run, got %+v", summary)
	}

	want := []engine.Phase{
		engine.PhaseInitializing,
		engine.PhaseFetching,
		engine.PhaseReconciling,
		engine.PhaseLinking,
		engine.PhaseComplete,
	}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("phase sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_PublishesRunTimeline(t *testing.T) {
	events := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	var (
		phases []string
		types  []string
	)
	events.Subscribe(func(ev telemetry.Event) {
		if ev.Type == telemetry.EventTypePhaseChanged {
			phases = append(phases, ev.Phase)
			return
		}
		types = append(types, ev.Type)
	}, nil)

	o := newTestOrchestrator(t, seedCatalog(), memory.New(), engine.WithEvents(events))
	summary, err := o.SyncProductByHandle(context.Background(), "p1", engine.Callbacks{})
	if err != nil {
		t.Fatalf("SyncProductByHandle failed: %v", err)
	}

	wantPhases := []string{"initializing", "syncing.fetching", "syncing.reconciling", "syncing.linking", "complete"}
	if diff := cmp.Diff(wantPhases, phases); diff != "" {
		t.Errorf("phase events mismatch (-want +got):\n%s", diff)
	}
	if len(types) == 0 || types[0] != telemetry.EventTypeRunStarted || types[len(types)-1] != telemetry.EventTypeRunCompleted {
		t.Errorf("run %s: unexpected event order %v", summary.RunID, types)
	}
}

func TestOrchestrator_PagedFetchCallbacks(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.pageSize = 2
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		catalog.put(product("P"+id, "p"+id))
	}
	o := newTestOrchestrator(t, catalog, memory.New())

	var pages []int
	summary, err := o.SyncProducts(context.Background(), engine.Callbacks{
		OnFetched: func(page []engine.SourceItem) { pages = append(pages, len(page)) },
	})
	if err != nil {
		t.Fatalf("SyncProducts failed: %v", err)
	}
	if diff := cmp.Diff([]int{2, 2, 1}, pages); diff != "" {
		t.Errorf("page sizes mismatch (-want +got):\n%s", diff)
	}
	if summary.Fetched != 5 || summary.Created != 5 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestOrchestrator_WritesAreThrottled(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the real write delay")
	}
	catalog := newFakeCatalog()
	catalog.put(product("P1", "p1"), product("P2", "p2"), product("P3", "p3"))
	store := memory.New()
	o := newTestOrchestrator(t, catalog, store, engine.WithWriteDelay(engine.DefaultWriteDelay))

	if _, err := o.SyncProducts(context.Background(), engine.Callbacks{}); err != nil {
		t.Fatalf("SyncProducts failed: %v", err)
	}

	writes := store.Writes()
	if len(writes) != 3 {
		t.Fatalf("expected 3 writes, got %d", len(writes))
	}
	for i := 1; i < len(writes); i++ {
		if gap := writes[i].At.Sub(writes[i-1].At); gap < 200*time.Millisecond {
			t.Errorf("gap between write %d and %d is %s", i-1, i, gap)
		}
	}
}

func TestOrchestrator_Secrets(t *testing.T) {
	ctx := context.Background()
	secrets := memory.NewSecrets(engine.Secrets{})
	var phases []engine.Phase
	o, err := engine.New(newFakeCatalog(), memory.New(), secrets,
		engine.WithLogger(zerolog.Nop()),
		engine.WithObserver(func(s engine.SyncState) { phases = append(phases, s.Phase) }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := o.SaveSecrets(ctx, engine.Secrets{ShopName: "shop", AccessToken: "wrong"}); err != nil {
		t.Fatalf("SaveSecrets with a bad token must not fail: %v", err)
	}
	if s := o.State(); s.Phase != engine.PhaseSecretsError || s.Error != "invalid access token" {
		t.Errorf("unexpected state after rejected secrets: %+v", s)
	}
	if stored, _ := secrets.Fetch(ctx); !stored.Empty() {
		t.Error("rejected secrets must not be stored")
	}

	if err := o.SaveSecrets(ctx, engine.Secrets{ShopName: "shop", AccessToken: "valid-token"}); err != nil {
		t.Fatalf("SaveSecrets failed: %v", err)
	}
	if err := o.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if s := o.State(); s.Phase != engine.PhaseIdle || !s.Ready || s.ShopName != "shop" {
		t.Errorf("unexpected state after Initialize: %+v", s)
	}

	if err := o.ClearSecrets(ctx); err != nil {
		t.Fatalf("ClearSecrets failed: %v", err)
	}
	if stored, _ := secrets.Fetch(ctx); !stored.Empty() {
		t.Error("secrets not cleared")
	}

	want := []engine.Phase{engine.PhaseSecretsError, engine.PhaseSecretsSaved, engine.PhaseIdle, engine.PhaseSecretsCleared}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("phase sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_TestSecretsRequiresFields(t *testing.T) {
	o := newTestOrchestrator(t, newFakeCatalog(), memory.New())
	if check := o.TestSecrets(context.Background(), engine.Secrets{ShopName: "shop"}); !check.IsError {
		t.Error("expected missing token to be rejected")
	}
}
