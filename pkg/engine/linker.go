package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// Linker keeps the relation arrays of a reconciled document and its related
// documents symmetric.
type Linker struct {
	docWriter
	catalog    SourceCatalog
	reconciler *Reconciler
	policy     PairPolicy
	logger     zerolog.Logger
	tracer     *telemetry.Tracer
}

// NewLinker creates a linker that resolves missing documents through
// reconciler and shares its store access.
func NewLinker(catalog SourceCatalog, reconciler *Reconciler, opts ...Option) *Linker {
	cfg := newOptions(opts)
	return &Linker{
		docWriter:  reconciler.docWriter,
		catalog:    catalog,
		reconciler: reconciler,
		policy:     cfg.policy,
		logger:     cfg.componentLogger("linker"),
		tracer:     cfg.tracer,
	}
}

// Link reconciles the relations of op.Document with related, the item's edge
// list from the source catalog.
//
// Related documents that are not yet in the target store are fetched from the
// catalog and reconciled first. Relations to items no longer listed are removed
// on both sides, the document's relation array is replaced by the resolved set,
// and a back-reference is added to every related document.
func (l *Linker) Link(ctx context.Context, op SyncOperation, related []SourceItem) (link LinkOperation, err error) {
	doc := op.Document
	if doc == nil {
		return LinkOperation{}, NewPermanentError("cannot link an operation without a document", nil)
	}
	kind, err := doc.Kind()
	if err != nil {
		return LinkOperation{}, err
	}

	ctx, span := l.tracer.StartItemSpan(ctx, "link", doc.ExternalID, string(kind))
	defer func() { telemetry.EndSpan(span, err) }()

	field := kind.RelationField()
	backField := kind.Complement().RelationField()

	for _, item := range related {
		if item.Kind != "" && item.Kind != kind.Complement() {
			return LinkOperation{}, NewPermanentError(
				fmt.Sprintf("%s cannot relate to %s", kind, item.Kind), nil).
				WithCode(ErrCodeValidation).
				WithResource(item.ID)
		}
	}

	// Resolve one pair at a time so two relations to the same unsynced item
	// cannot both create it.
	resolveQ := NewWorkQueue[RelatedPair](1).OnTask(l.taskHook("resolve"))
	tasks := make([]Task[RelatedPair], 0, len(related))
	for i := range related {
		item := related[i]
		tasks = append(tasks, func(ctx context.Context) (RelatedPair, error) {
			return l.resolvePair(ctx, item)
		})
	}
	pairs, err := resolveQ.AddAll(ctx, tasks)
	if err != nil {
		return LinkOperation{}, err
	}

	link = LinkOperation{}
	resolved := make([]RelatedPair, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for i, pair := range pairs {
		if !pair.Complete() {
			if err := l.unresolved(kind, doc, related[i].ID); err != nil {
				return LinkOperation{}, err
			}
			link.Unresolved = append(link.Unresolved, related[i].ID)
			continue
		}
		if seen[pair.Document.ExternalID] {
			continue
		}
		seen[pair.Document.ExternalID] = true
		resolved = append(resolved, pair)
	}

	// Relations to items no longer listed by the source.
	listed := make(map[string]bool, len(related))
	for _, item := range related {
		listed[item.ID] = true
	}
	current, err := l.current(ctx, doc)
	if err != nil {
		return LinkOperation{}, err
	}
	var selectors []string
	var stale []Relation
	for _, rel := range current.Relations(field) {
		if !listed[rel.ExternalID] {
			selectors = append(selectors, RelationSelector(field, rel.Key))
			stale = append(stale, rel)
		}
	}
	if len(selectors) > 0 {
		current, err = l.commit(ctx, current.ExternalID, l.store.Patch(current.ID).Unset(selectors...))
		if err != nil {
			return LinkOperation{}, err
		}
		for _, rel := range stale {
			if _, err := l.unsetRelation(ctx, rel.ExternalID, current.ExternalID); err != nil {
				return LinkOperation{}, err
			}
			link.Removed = append(link.Removed, rel.ExternalID)
		}
		l.metrics.RecordRelationsRemoved(string(kind), len(stale))
	}

	relations := make([]Relation, 0, len(resolved))
	for _, pair := range resolved {
		relations = append(relations, NewRelation(pair.Document))
	}
	if !relationsEqual(current.Relations(field), relations) {
		current, err = l.setRelations(ctx, current, field, relations)
		if err != nil {
			return LinkOperation{}, err
		}
	}
	l.metrics.RecordLinked(string(kind), len(relations))

	// Reciprocal relations, one document at a time.
	backQ := NewWorkQueue[*TargetDocument](1).OnTask(l.taskHook("reciprocal"))
	backTasks := make([]Task[*TargetDocument], 0, len(resolved))
	for _, pair := range resolved {
		holderID := pair.Document.ExternalID
		backTasks = append(backTasks, func(ctx context.Context) (*TargetDocument, error) {
			return l.addBackReference(ctx, holderID, backField, current)
		})
	}
	holders, err := backQ.AddAll(ctx, backTasks)
	if err != nil {
		return LinkOperation{}, err
	}
	for i := range resolved {
		resolved[i].Document = holders[i]
	}

	l.logger.Debug().
		Str("external_id", current.ExternalID).
		Int("relations", len(relations)).
		Int("removed", len(stale)).
		Int("unresolved", len(link.Unresolved)).
		Msg("Linked document")

	link.Document = current
	link.Pairs = resolved
	return link, nil
}

// resolvePair finds or creates the document for one related item. A pair whose
// item exists on neither side is returned incomplete.
func (l *Linker) resolvePair(ctx context.Context, item SourceItem) (RelatedPair, error) {
	doc, err := l.lookup(ctx, item.ID)
	if err != nil {
		return RelatedPair{}, err
	}
	if doc != nil && !doc.Archived {
		return RelatedPair{Source: &item, Document: doc}, nil
	}

	source, err := l.catalog.FetchByID(ctx, item.ID)
	if err != nil {
		return RelatedPair{}, catalogError("fetchById", item.ID, err)
	}
	if source == nil {
		return RelatedPair{Document: doc}, nil
	}
	op, err := l.reconciler.Reconcile(ctx, source)
	if err != nil {
		return RelatedPair{}, err
	}
	return RelatedPair{Source: source, Document: op.Document}, nil
}

// addBackReference makes the holder list target in field, replacing any stale
// entry for the same external id.
func (l *Linker) addBackReference(ctx context.Context, holderExternalID, field string, target *TargetDocument) (*TargetDocument, error) {
	holder, err := l.lookup(ctx, holderExternalID)
	if err != nil {
		return nil, err
	}
	if holder == nil {
		return nil, NewRefetchInconsistencyError(holderExternalID).WithOperation("link")
	}

	want := NewRelation(target)
	relations := make([]Relation, 0, len(holder.Relations(field))+1)
	for _, rel := range holder.Relations(field) {
		if rel == want {
			return holder, nil
		}
		if rel.ExternalID != target.ExternalID {
			relations = append(relations, rel)
		}
	}
	relations = append(relations, want)
	return l.setRelations(ctx, holder, field, relations)
}

// current returns the freshest known state of doc.
func (l *Linker) current(ctx context.Context, doc *TargetDocument) (*TargetDocument, error) {
	fresh, err := l.lookup(ctx, doc.ExternalID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, NewRefetchInconsistencyError(doc.ExternalID).WithOperation("link")
	}
	return fresh, nil
}

func (l *Linker) unresolved(kind Kind, doc *TargetDocument, relatedID string) error {
	l.metrics.RecordUnresolvedPair(string(kind), string(l.policy))
	switch l.policy {
	case PairPolicyFail:
		return NewUnresolvedPairError(relatedID).WithOperation("link").
			WithDetail("document", doc.ExternalID)
	case PairPolicyWarn:
		l.logger.Warn().Str("external_id", doc.ExternalID).Str("related_id", relatedID).
			Msg("Dropping relation to an item missing from both stores")
	default:
		l.logger.Debug().Str("external_id", doc.ExternalID).Str("related_id", relatedID).
			Msg("Dropping unresolved relation")
	}
	return nil
}

func (l *Linker) taskHook(queue string) func(string) {
	return func(status string) {
		l.metrics.RecordQueueTask(queue, status)
	}
}
