package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// Reconciler brings the target document of one source item up to date.
type Reconciler struct {
	docWriter
	logger zerolog.Logger
	tracer *telemetry.Tracer
}

// NewReconciler creates a reconciler writing to store through throttle.
// The logger, metrics and tracer options apply.
func NewReconciler(store TargetStore, cache *DocumentCache, throttle *WriteThrottle, opts ...Option) *Reconciler {
	cfg := newOptions(opts)
	return &Reconciler{
		docWriter: docWriter{store: store, cache: cache, throttle: throttle, metrics: cfg.metrics},
		logger:    cfg.componentLogger("reconciler"),
		tracer:    cfg.tracer,
	}
}

// Reconcile creates, updates or skips the document mirroring item.
//
// An existing document that already contains the item's projection is left
// untouched. After any write the document is read back from the store, and a
// failed read back is reported as ErrRefetchInconsistency.
func (r *Reconciler) Reconcile(ctx context.Context, item *SourceItem) (op SyncOperation, err error) {
	ctx, span := r.tracer.StartItemSpan(ctx, "reconcile", item.ID, string(item.Kind))
	defer func() {
		if err == nil {
			span.SetAttributes(telemetry.AttrOperationType.String(string(op.Type)))
		}
		telemetry.EndSpan(span, err)
	}()

	if err := item.Validate(); err != nil {
		return SyncOperation{}, err
	}
	projection, err := Project(item)
	if err != nil {
		return SyncOperation{}, err
	}

	existing, err := r.lookup(ctx, item.ID)
	if err != nil {
		return SyncOperation{}, err
	}

	if existing != nil && SubsetMatches(projection, existing.Tree()) {
		r.logger.Debug().Str("external_id", item.ID).Str("kind", string(item.Kind)).Msg("Document up to date")
		return r.result(OperationSkip, existing, item), nil
	}

	if existing == nil {
		doc, err := DocumentFromTree(projection)
		if err != nil {
			return SyncOperation{}, NewPermanentError("invalid projection", err).WithResource(item.ID)
		}
		if _, err := r.create(ctx, doc); err != nil {
			return SyncOperation{}, err
		}
		created, err := r.refetch(ctx, item.ID, "create")
		if err != nil {
			return SyncOperation{}, err
		}
		r.logger.Info().Str("external_id", item.ID).Str("handle", item.Handle).Str("kind", string(item.Kind)).Msg("Created document")
		return r.result(OperationCreate, created, item), nil
	}

	patch := r.store.Patch(existing.ID).Set(MergeExisting(projection, existing.Tree()))
	if _, err := r.commit(ctx, item.ID, patch); err != nil {
		return SyncOperation{}, err
	}
	updated, err := r.refetch(ctx, item.ID, "update")
	if err != nil {
		return SyncOperation{}, err
	}
	r.logger.Info().Str("external_id", item.ID).Str("handle", item.Handle).Str("kind", string(item.Kind)).Msg("Updated document")
	return r.result(OperationUpdate, updated, item), nil
}

// refetch reads the document back from the store, bypassing the cache, and caches it.
func (r *Reconciler) refetch(ctx context.Context, externalID, operation string) (*TargetDocument, error) {
	doc, err := r.query(ctx, ByExternalID(externalID))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, NewRefetchInconsistencyError(externalID).WithOperation(operation)
	}
	r.cache.Set(doc)
	return doc, nil
}

func (r *Reconciler) result(opType OperationType, doc *TargetDocument, item *SourceItem) SyncOperation {
	r.metrics.RecordSyncOperation(string(item.Kind), string(opType))
	return SyncOperation{Type: opType, Document: doc, Source: item}
}
