package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// Callbacks are the optional hooks a sync invocation reports through.
// A nil hook is a no-op.
type Callbacks struct {
	OnFetched  func(page []SourceItem)
	OnSynced   func(op SyncOperation)
	OnLinked   func(link LinkOperation)
	OnArchived func(doc TargetDocument)
	OnComplete func(summary RunSummary)
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	observer   Observer
	logger     *zerolog.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	events     *telemetry.EventPublisher
	writeDelay time.Duration
	policy     PairPolicy
}

func newOptions(opts []Option) options {
	cfg := options{writeDelay: DefaultWriteDelay, policy: PairPolicyDrop}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (o options) baseLogger() zerolog.Logger {
	if o.logger != nil {
		return *o.logger
	}
	return log.Logger
}

func (o options) componentLogger(name string) zerolog.Logger {
	return o.baseLogger().With().Str("component", name).Logger()
}

// WithObserver sets the function receiving every state snapshot.
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithLogger replaces the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithTracer enables run and item spans.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithEvents publishes run and document events.
func WithEvents(events *telemetry.EventPublisher) Option {
	return func(o *options) { o.events = events }
}

// WithWriteDelay overrides DefaultWriteDelay.
func WithWriteDelay(d time.Duration) Option {
	return func(o *options) { o.writeDelay = d }
}

// WithPairPolicy sets how relations to unresolvable items are handled.
func WithPairPolicy(policy PairPolicy) Option {
	return func(o *options) { o.policy = policy }
}

// Orchestrator drives sync runs between a source catalog and a target store.
// Public operations are serialized; an observer must not call back into the
// orchestrator.
type Orchestrator struct {
	mu sync.Mutex

	catalog SourceCatalog
	store   TargetStore
	secrets SecretStore

	sm         *StateMachine
	cache      *DocumentCache
	reconciler *Reconciler
	linker     *Linker
	archiver   *Archiver

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// New creates an orchestrator. secrets may be nil when credentials are
// managed elsewhere.
func New(catalog SourceCatalog, store TargetStore, secrets SecretStore, opts ...Option) (*Orchestrator, error) {
	if catalog == nil || store == nil {
		return nil, NewPermanentError("catalog and store are required", nil).WithCode(ErrCodeValidation)
	}
	cfg := newOptions(opts)
	if err := cfg.policy.Validate(); err != nil {
		return nil, NewPermanentError("invalid options", err).WithCode(ErrCodeValidation)
	}
	logger := cfg.baseLogger()

	throttle := NewWriteThrottle(cfg.writeDelay)
	throttle.metrics = cfg.metrics
	cache := NewDocumentCache()
	reconciler := NewReconciler(store, cache, throttle, opts...)
	linker := NewLinker(catalog, reconciler, opts...)
	archiver := NewArchiver(reconciler, opts...)

	return &Orchestrator{
		catalog:    catalog,
		store:      store,
		secrets:    secrets,
		sm:         NewStateMachine(phaseEvents(cfg.events, cfg.observer)),
		cache:      cache,
		reconciler: reconciler,
		linker:     linker,
		archiver:   archiver,
		logger:     logger,
		metrics:    cfg.metrics,
		tracer:     cfg.tracer,
		events:     cfg.events,
	}, nil
}

// phaseEvents publishes a phase.changed event for every phase entered and
// forwards each snapshot to observer.
func phaseEvents(events *telemetry.EventPublisher, observer Observer) Observer {
	if events == nil {
		return observer
	}
	var last Phase
	return func(state SyncState) {
		if state.Phase != last {
			last = state.Phase
			_ = events.PublishPhaseChanged(state.RunID, string(state.Phase))
		}
		if observer != nil {
			observer(state)
		}
	}
}

// State returns the current state snapshot.
func (o *Orchestrator) State() SyncState {
	return o.sm.State()
}

// Initialize loads the stored secrets, tests them and emits idle with the
// resulting readiness.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	secrets, err := o.fetchSecrets(ctx)
	if err != nil {
		return err
	}
	ready := false
	if !secrets.Empty() {
		check := o.catalog.TestCredentials(ctx, secrets)
		ready = !check.IsError
		if check.IsError {
			o.logger.Warn().Str("shop", secrets.ShopName).Str("reason", check.Message).Msg("Stored credentials rejected")
		}
	}
	return o.sm.Init(ready, secrets.ShopName)
}

// TestSecrets checks secrets against the catalog without storing them.
func (o *Orchestrator) TestSecrets(ctx context.Context, secrets Secrets) CredentialCheck {
	if err := validate.Struct(secrets); err != nil {
		return CredentialCheck{IsError: true, Message: "shop name and access token are required"}
	}
	return o.catalog.TestCredentials(ctx, secrets)
}

// SaveSecrets tests secrets and stores them when valid. Rejected secrets are
// reported through the secretsError phase, not as an error.
func (o *Orchestrator) SaveSecrets(ctx context.Context, secrets Secrets) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.secrets == nil {
		return NewPermanentError("no secret store configured", nil).WithOperation("saveSecrets")
	}
	check := o.TestSecrets(ctx, secrets)
	if check.IsError {
		o.logger.Warn().Str("shop", secrets.ShopName).Str("reason", check.Message).Msg("Credentials rejected")
		o.metrics.RecordError(string(ErrorClassCredentials), ErrCodeCredentials)
		return o.sm.SecretsError(check.Message)
	}
	if err := o.secrets.Save(ctx, secrets); err != nil {
		return fmt.Errorf("failed to save secrets: %w", err)
	}
	o.publishSecrets("saved", secrets.ShopName)
	o.logger.Info().Str("shop", secrets.ShopName).Msg("Saved credentials")
	return o.sm.SecretsSaved(secrets.ShopName)
}

// ClearSecrets removes the stored secrets.
func (o *Orchestrator) ClearSecrets(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.secrets == nil {
		return NewPermanentError("no secret store configured", nil).WithOperation("clearSecrets")
	}
	if err := o.secrets.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear secrets: %w", err)
	}
	o.publishSecrets("cleared", "")
	o.logger.Info().Msg("Cleared credentials")
	return o.sm.SecretsCleared()
}

func (o *Orchestrator) fetchSecrets(ctx context.Context) (Secrets, error) {
	if o.secrets == nil {
		return Secrets{}, nil
	}
	secrets, err := o.secrets.Fetch(ctx)
	if err != nil {
		return Secrets{}, fmt.Errorf("failed to fetch secrets: %w", err)
	}
	return secrets, nil
}

func (o *Orchestrator) publishSecrets(action, shop string) {
	_ = o.events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeSecretsChanged,
		Source:  "orchestrator",
		Message: "Credentials " + action,
		Data:    map[string]interface{}{"action": action, "shop": shop},
	})
}

// SyncItemByID syncs the product or collection with the given external id.
// When the catalog no longer has it, its document is archived.
func (o *Orchestrator) SyncItemByID(ctx context.Context, id string, cbs Callbacks) (*RunSummary, error) {
	return o.run(ctx, "syncItemById", cbs, func(ctx context.Context, b *batch) error {
		item, err := o.catalog.FetchByID(ctx, id)
		if err != nil {
			return catalogError("fetchById", id, err)
		}
		if item == nil {
			return o.archiveMissing(ctx, b, func() (*TargetDocument, error) {
				return o.reconciler.lookup(ctx, id)
			})
		}
		return o.syncOne(ctx, b, item)
	})
}

// SyncProductByHandle syncs one product.
func (o *Orchestrator) SyncProductByHandle(ctx context.Context, handle string, cbs Callbacks) (*RunSummary, error) {
	return o.syncByHandle(ctx, "syncProductByHandle", handle, KindProduct, cbs)
}

// SyncCollectionByHandle syncs one collection.
func (o *Orchestrator) SyncCollectionByHandle(ctx context.Context, handle string, cbs Callbacks) (*RunSummary, error) {
	return o.syncByHandle(ctx, "syncCollectionByHandle", handle, KindCollection, cbs)
}

func (o *Orchestrator) syncByHandle(ctx context.Context, operation, handle string, kind Kind, cbs Callbacks) (*RunSummary, error) {
	return o.run(ctx, operation, cbs, func(ctx context.Context, b *batch) error {
		item, err := o.catalog.FetchByHandle(ctx, handle, kind)
		if err != nil {
			return catalogError("fetchByHandle", handle, err)
		}
		if item == nil {
			return o.archiveMissing(ctx, b, func() (*TargetDocument, error) {
				return o.reconciler.lookupByHandle(ctx, handle, kind)
			})
		}
		if item.Kind == "" {
			item.Kind = kind
		}
		return o.syncOne(ctx, b, item)
	})
}

// syncOne reconciles and links a single fetched item.
func (o *Orchestrator) syncOne(ctx context.Context, b *batch, item *SourceItem) error {
	b.fetched([]SourceItem{*item})
	b.fetchComplete()

	op, err := o.reconciler.Reconcile(ctx, item)
	if err != nil {
		return err
	}
	b.synced(op)

	link, err := o.linker.Link(ctx, op, item.Related)
	if err != nil {
		return err
	}
	b.linked(link)
	return nil
}

// archiveMissing archives the document found by lookup, if it is still active.
func (o *Orchestrator) archiveMissing(ctx context.Context, b *batch, lookup func() (*TargetDocument, error)) error {
	b.fetchComplete()
	doc, err := lookup()
	if err != nil {
		return err
	}
	if doc == nil || doc.Archived {
		b.logger.Debug().Msg("Item not found in catalog, nothing to archive")
		return nil
	}
	archived, err := o.archiver.Archive(ctx, doc)
	if err != nil {
		return err
	}
	b.archived(*archived)
	return nil
}

// SyncProducts syncs every product and archives products gone from the catalog.
func (o *Orchestrator) SyncProducts(ctx context.Context, cbs Callbacks) (*RunSummary, error) {
	return o.syncKinds(ctx, "syncProducts", cbs, KindProduct)
}

// SyncCollections syncs every collection and archives collections gone from the catalog.
func (o *Orchestrator) SyncCollections(ctx context.Context, cbs Callbacks) (*RunSummary, error) {
	return o.syncKinds(ctx, "syncCollections", cbs, KindCollection)
}

// SyncAll syncs products then collections, links everything and archives
// orphans of both kinds.
func (o *Orchestrator) SyncAll(ctx context.Context, cbs Callbacks) (*RunSummary, error) {
	return o.syncKinds(ctx, "syncAll", cbs, KindProduct, KindCollection)
}

func (o *Orchestrator) syncKinds(ctx context.Context, operation string, cbs Callbacks, kinds ...Kind) (*RunSummary, error) {
	return o.run(ctx, operation, cbs, func(ctx context.Context, b *batch) error {
		existing, err := o.reconciler.queryAll(ctx, Filter{})
		if err != nil {
			return err
		}
		o.cache.Reset()
		o.cache.SetAll(existing)
		b.logger.Debug().Int("documents", len(existing)).Msg("Preloaded document cache")

		var items []SourceItem
		byKind := make(map[Kind][]SourceItem, len(kinds))
		for _, kind := range kinds {
			paged := false
			fetched, err := o.catalog.FetchAll(ctx, kind, func(page []SourceItem) {
				paged = true
				b.fetched(page)
			})
			if err != nil {
				return catalogError("fetchAll", string(kind), err)
			}
			if !paged {
				b.fetched(fetched)
			}
			for i := range fetched {
				if fetched[i].Kind == "" {
					fetched[i].Kind = kind
				}
			}
			byKind[kind] = fetched
			items = append(items, fetched...)
		}
		b.fetchComplete()

		syncQ := NewWorkQueue[SyncOperation](1).OnTask(o.taskHook("reconcile"))
		syncTasks := make([]Task[SyncOperation], 0, len(items))
		for i := range items {
			item := &items[i]
			syncTasks = append(syncTasks, func(ctx context.Context) (SyncOperation, error) {
				op, err := o.reconciler.Reconcile(ctx, item)
				if err != nil {
					return SyncOperation{}, err
				}
				b.synced(op)
				return op, nil
			})
		}
		ops, err := syncQ.AddAll(ctx, syncTasks)
		if err != nil {
			return err
		}

		linkQ := NewWorkQueue[LinkOperation](1).OnTask(o.taskHook("link"))
		linkTasks := make([]Task[LinkOperation], 0, len(ops))
		for i := range ops {
			op, related := ops[i], items[i].Related
			linkTasks = append(linkTasks, func(ctx context.Context) (LinkOperation, error) {
				link, err := o.linker.Link(ctx, op, related)
				if err != nil {
					return LinkOperation{}, err
				}
				b.linked(link)
				return link, nil
			})
		}
		if _, err := linkQ.AddAll(ctx, linkTasks); err != nil {
			return err
		}

		for _, kind := range kinds {
			archived, err := o.archiver.ArchiveOrphans(ctx, kind, byKind[kind])
			for _, doc := range archived {
				b.archived(doc)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// run wraps one public sync operation with its run id, state transitions,
// span, metrics and events.
func (o *Orchestrator) run(ctx context.Context, operation string, cbs Callbacks, body func(context.Context, *batch) error) (summary *RunSummary, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	runID := uuid.New().String()
	summary = &RunSummary{
		RunID:     runID,
		Operation: operation,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	b := &batch{
		o:       o,
		cbs:     cbs,
		summary: summary,
		logger:  o.logger.With().Str("run_id", runID).Str("operation", operation).Logger(),
	}

	ctx, span := o.tracer.StartRunSpan(ctx, runID, operation)
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		b.logger = b.logger.With().Str("trace_id", traceID).Logger()
	}
	if err := o.sm.StartSync(runID); err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}
	o.metrics.RecordRunStarted(operation)
	_ = o.events.PublishRunStarted(runID, operation)
	b.logger.Info().Msg("Starting sync")

	err = body(ctx, b)
	summary.FinishedAt = time.Now().UTC()

	if err != nil {
		summary.Status = RunStatusFailed
		summary.Error = err.Error()
		class, code := ClassOf(err)
		span.SetAttributes(telemetry.AttrErrorClass.String(string(class)), telemetry.AttrErrorCode.String(code))
		o.metrics.RecordError(string(class), code)
		o.metrics.RecordRunCompleted(operation, string(summary.Status), summary.Duration())
		_ = o.events.PublishRunFailed(runID, err.Error())
		b.transition(o.sm.Fail(err))
		b.logger.Error().Err(err).Dur("duration", summary.Duration()).Msg("Sync failed")
		telemetry.EndSpan(span, err)
		return summary, err
	}

	summary.Status = RunStatusSucceeded
	b.transition(o.sm.Complete())
	o.metrics.RecordRunCompleted(operation, string(summary.Status), summary.Duration())
	_ = o.events.PublishRunCompleted(runID, summary.Duration(), map[string]interface{}{
		"created":  summary.Created,
		"updated":  summary.Updated,
		"skipped":  summary.Skipped,
		"linked":   summary.Linked,
		"archived": len(summary.Archived),
	})
	b.logger.Info().
		Int("fetched", summary.Fetched).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("linked", summary.Linked).
		Int("archived", len(summary.Archived)).
		Dur("duration", summary.Duration()).
		Msg("Sync complete")
	telemetry.EndSpan(span, nil)
	if cbs.OnComplete != nil {
		cbs.OnComplete(*summary)
	}
	return summary, nil
}

func (o *Orchestrator) taskHook(queue string) func(string) {
	return func(status string) {
		o.metrics.RecordQueueTask(queue, status)
	}
}

// batch is the per-run reporting context: it counts results, advances the
// state machine and fires callbacks.
type batch struct {
	o       *Orchestrator
	cbs     Callbacks
	summary *RunSummary
	logger  zerolog.Logger
}

func (b *batch) fetched(page []SourceItem) {
	b.summary.Fetched += len(page)
	b.transition(b.o.sm.DocumentsFetched(page))
	if b.cbs.OnFetched != nil {
		b.cbs.OnFetched(page)
	}
}

func (b *batch) fetchComplete() {
	b.transition(b.o.sm.FetchComplete())
}

func (b *batch) synced(op SyncOperation) {
	b.summary.addOperation(op)
	b.transition(b.o.sm.DocumentSynced(op))
	_ = b.o.events.PublishDocumentEvent(b.summary.RunID, telemetry.EventTypeDocumentSynced,
		op.Document.ExternalID, fmt.Sprintf("%s %s", op.Type, op.Document.Handle),
		map[string]interface{}{"type": string(op.Type), "kind": op.Document.Type})
	if b.cbs.OnSynced != nil {
		b.cbs.OnSynced(op)
	}
}

func (b *batch) linked(link LinkOperation) {
	b.summary.Linked++
	b.summary.Unresolved = append(b.summary.Unresolved, link.Unresolved...)
	b.transition(b.o.sm.DocumentLinked(link))
	_ = b.o.events.PublishDocumentEvent(b.summary.RunID, telemetry.EventTypeDocumentLinked,
		link.Document.ExternalID, fmt.Sprintf("linked %d related documents", len(link.Pairs)),
		map[string]interface{}{"removed": len(link.Removed), "unresolved": len(link.Unresolved)})
	if b.cbs.OnLinked != nil {
		b.cbs.OnLinked(link)
	}
}

func (b *batch) archived(doc TargetDocument) {
	b.summary.Archived = append(b.summary.Archived, doc.ExternalID)
	b.transition(b.o.sm.DocumentArchived(doc))
	_ = b.o.events.PublishDocumentEvent(b.summary.RunID, telemetry.EventTypeDocumentArchived,
		doc.ExternalID, "archived "+doc.Handle, nil)
	if b.cbs.OnArchived != nil {
		b.cbs.OnArchived(doc)
	}
}

// transition logs a rejected state change. Public operations are serialized,
// so a rejection means the run reported out of order.
func (b *batch) transition(err error) {
	if err != nil {
		b.logger.Error().Err(err).Msg("Invalid state transition")
	}
}
