package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// Archiver retires documents whose source item no longer exists.
// Documents are never deleted.
type Archiver struct {
	docWriter
	logger zerolog.Logger
	tracer *telemetry.Tracer
}

// NewArchiver creates an archiver sharing the reconciler's store access.
func NewArchiver(reconciler *Reconciler, opts ...Option) *Archiver {
	cfg := newOptions(opts)
	return &Archiver{
		docWriter: reconciler.docWriter,
		logger:    cfg.componentLogger("archiver"),
		tracer:    cfg.tracer,
	}
}

// ArchiveOrphans archives every active document of kind whose external id is
// not among current, one document at a time, and returns the archived documents.
func (a *Archiver) ArchiveOrphans(ctx context.Context, kind Kind, current []SourceItem) ([]TargetDocument, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	docs, err := a.queryAll(ctx, ActiveOfKind(kind))
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(current))
	for _, item := range current {
		present[item.ID] = true
	}

	var tasks []Task[*TargetDocument]
	for i := range docs {
		if present[docs[i].ExternalID] {
			continue
		}
		orphan := docs[i]
		tasks = append(tasks, func(ctx context.Context) (*TargetDocument, error) {
			return a.Archive(ctx, &orphan)
		})
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	q := NewWorkQueue[*TargetDocument](1).OnTask(func(status string) {
		a.metrics.RecordQueueTask("archive", status)
	})
	archived, err := q.AddAll(ctx, tasks)
	out := make([]TargetDocument, 0, len(archived))
	for _, doc := range archived {
		out = append(out, *doc)
	}
	return out, err
}

// Archive removes every relation pointing at doc, then marks doc archived with
// empty relation arrays. Archiving an archived document is a no-op.
func (a *Archiver) Archive(ctx context.Context, doc *TargetDocument) (archived *TargetDocument, err error) {
	ctx, span := a.tracer.StartItemSpan(ctx, "archive", doc.ExternalID, doc.Type)
	defer func() { telemetry.EndSpan(span, err) }()

	current, err := a.lookup(ctx, doc.ExternalID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = doc
	}
	if current.Archived && len(current.Products) == 0 && len(current.Collections) == 0 {
		return current, nil
	}

	// Holders are the documents the orphan lists plus any that list it without
	// being listed back.
	holders := make([]string, 0, len(current.Products)+len(current.Collections))
	seen := make(map[string]bool)
	for _, rel := range append(append([]Relation(nil), current.Products...), current.Collections...) {
		if !seen[rel.ExternalID] {
			seen[rel.ExternalID] = true
			holders = append(holders, rel.ExternalID)
		}
	}
	referrers, err := a.queryAll(ctx, Referencing(current.ExternalID))
	if err != nil {
		return nil, err
	}
	for _, ref := range referrers {
		if !seen[ref.ExternalID] {
			seen[ref.ExternalID] = true
			holders = append(holders, ref.ExternalID)
		}
	}

	for _, holder := range holders {
		if _, err := a.unsetRelation(ctx, holder, current.ExternalID); err != nil {
			return nil, err
		}
	}

	patch := a.store.Patch(current.ID).Set(Fields{
		keyArchived:      true,
		FieldProducts:    []any{},
		FieldCollections: []any{},
	})
	archived, err = a.commit(ctx, current.ExternalID, patch)
	if err != nil {
		return nil, err
	}

	a.metrics.RecordArchived(archived.Type)
	a.logger.Info().
		Str("external_id", archived.ExternalID).
		Str("handle", archived.Handle).
		Int("relations_removed", len(holders)).
		Msg("Archived document")
	return archived, nil
}
