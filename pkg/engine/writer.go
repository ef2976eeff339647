package engine

import (
	"context"
	"time"

	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// DefaultWriteDelay is the pause before every mutating call against the target store.
const DefaultWriteDelay = 201 * time.Millisecond

// WriteThrottle enforces a fixed delay before each write.
type WriteThrottle struct {
	delay   time.Duration
	metrics *telemetry.Metrics
}

// NewWriteThrottle creates a throttle with the given delay. Zero disables waiting.
func NewWriteThrottle(delay time.Duration) *WriteThrottle {
	if delay < 0 {
		delay = 0
	}
	return &WriteThrottle{delay: delay}
}

// Delay returns the configured delay.
func (t *WriteThrottle) Delay() time.Duration {
	return t.delay
}

// Wait blocks for the configured delay or until ctx is done.
func (t *WriteThrottle) Wait(ctx context.Context) error {
	if t.delay <= 0 {
		return ctx.Err()
	}
	start := time.Now()
	timer := time.NewTimer(t.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		t.metrics.RecordWriteWait(time.Since(start))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// docWriter is the store access shared by the reconciler, linker and archiver.
// Every read goes through the cache and every write refreshes it.
type docWriter struct {
	store    TargetStore
	cache    *DocumentCache
	throttle *WriteThrottle
	metrics  *telemetry.Metrics
}

// lookup returns the document for externalID from the cache, else from the store.
func (w *docWriter) lookup(ctx context.Context, externalID string) (*TargetDocument, error) {
	if doc, ok := w.cache.Get(externalID); ok {
		return doc, nil
	}
	doc, err := w.query(ctx, ByExternalID(externalID))
	if err != nil {
		return nil, err
	}
	w.cache.Set(doc)
	return doc, nil
}

// lookupByHandle is lookup keyed by handle and kind.
func (w *docWriter) lookupByHandle(ctx context.Context, handle string, kind Kind) (*TargetDocument, error) {
	if doc, ok := w.cache.FindByHandle(handle, kind.DocumentType()); ok {
		return doc, nil
	}
	doc, err := w.query(ctx, ByHandle(handle, kind))
	if err != nil {
		return nil, err
	}
	w.cache.Set(doc)
	return doc, nil
}

// query bypasses the cache.
func (w *docWriter) query(ctx context.Context, filter Filter) (*TargetDocument, error) {
	start := time.Now()
	doc, err := w.store.Query(ctx, filter)
	w.metrics.RecordClientCall("store", "query", time.Since(start), err)
	if err != nil {
		return nil, storeError("query", filter.ExternalID, err)
	}
	return doc, nil
}

func (w *docWriter) queryAll(ctx context.Context, filter Filter) ([]TargetDocument, error) {
	start := time.Now()
	docs, err := w.store.QueryAll(ctx, filter)
	w.metrics.RecordClientCall("store", "queryAll", time.Since(start), err)
	if err != nil {
		return nil, storeError("queryAll", filter.References, err)
	}
	return docs, nil
}

func (w *docWriter) create(ctx context.Context, doc *TargetDocument) (*TargetDocument, error) {
	if err := w.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	created, err := w.store.Create(ctx, doc)
	w.metrics.RecordClientCall("store", "create", time.Since(start), err)
	if err != nil {
		return nil, storeError("create", doc.ExternalID, err)
	}
	return created, nil
}

// commit waits for the throttle, commits the patch and caches the result.
func (w *docWriter) commit(ctx context.Context, externalID string, p Patch) (*TargetDocument, error) {
	if err := w.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	doc, err := p.Commit(ctx)
	w.metrics.RecordClientCall("store", "patch", time.Since(start), err)
	if err != nil {
		return nil, storeError("patch", externalID, err)
	}
	w.cache.Set(doc)
	return doc, nil
}

// setRelations replaces the relation array field of doc.
func (w *docWriter) setRelations(ctx context.Context, doc *TargetDocument, field string, relations []Relation) (*TargetDocument, error) {
	p := w.store.Patch(doc.ID).Set(Fields{field: RelationsValue(relations)})
	return w.commit(ctx, doc.ExternalID, p)
}

// unsetRelation removes the relation to targetExternalID from the holder's
// relation arrays. It reports whether anything was removed.
func (w *docWriter) unsetRelation(ctx context.Context, holderExternalID, targetExternalID string) (bool, error) {
	holder, err := w.lookup(ctx, holderExternalID)
	if err != nil || holder == nil {
		return false, err
	}
	var selectors []string
	for _, field := range []string{FieldProducts, FieldCollections} {
		if rel, ok := holder.RelationTo(field, targetExternalID); ok {
			selectors = append(selectors, RelationSelector(field, rel.Key))
		}
	}
	if len(selectors) == 0 {
		return false, nil
	}
	if _, err := w.commit(ctx, holder.ExternalID, w.store.Patch(holder.ID).Unset(selectors...)); err != nil {
		return false, err
	}
	return true, nil
}

func relationsEqual(a, b []Relation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
