// Package memory provides an in-process target document store and secret store.
// It backs tests and dry runs; nothing is persisted.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
)

// Write records one mutating call.
type Write struct {
	Op         string
	ID         string
	ExternalID string
	At         time.Time
}

// Store keeps document trees in insertion order.
type Store struct {
	mu     sync.Mutex
	docs   map[string]engine.Fields
	order  []string
	writes []Write
	now    func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs: make(map[string]engine.Fields),
		now:  time.Now,
	}
}

// Query returns the first document matching filter.
func (s *Store) Query(ctx context.Context, filter engine.Filter) (*engine.TargetDocument, error) {
	docs, err := s.QueryAll(ctx, filter)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

// QueryAll returns every document matching filter.
func (s *Store) QueryAll(ctx context.Context, filter engine.Filter) ([]engine.TargetDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []engine.TargetDocument
	for _, id := range s.order {
		doc, err := engine.DocumentFromTree(s.docs[id])
		if err != nil {
			return nil, fmt.Errorf("corrupt document %s: %w", id, err)
		}
		if filter.Matches(doc) {
			out = append(out, *doc)
		}
	}
	return out, nil
}

// Create stores doc under a new internal id. External ids are unique.
func (s *Store) Create(ctx context.Context, doc *engine.TargetDocument) (*engine.TargetDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		if s.docs[id]["externalId"] == doc.ExternalID {
			return nil, fmt.Errorf("document with external id %s already exists", doc.ExternalID)
		}
	}

	created := doc.Clone()
	created.ID = uuid.New().String()
	now := s.now().UTC()
	created.CreatedAt, created.UpdatedAt = now, now

	tree, err := normalize(created.ID, created)
	if err != nil {
		return nil, err
	}
	s.docs[created.ID] = tree
	s.order = append(s.order, created.ID)
	s.record("create", created.ID, created.ExternalID, now)
	return engine.DocumentFromTree(tree)
}

// Seed loads existing documents, keeping their internal ids. Seeding is not
// recorded in Writes.
func (s *Store) Seed(docs ...engine.TargetDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		tree, err := normalize(doc.ID, &doc)
		if err != nil {
			return fmt.Errorf("seed %s: %w", doc.ExternalID, err)
		}
		if _, ok := s.docs[doc.ID]; !ok {
			s.order = append(s.order, doc.ID)
		}
		s.docs[doc.ID] = tree
	}
	return nil
}

// normalize round trips doc through a patch so stored trees have the same
// shape whichever way they were written.
func normalize(id string, doc *engine.TargetDocument) (engine.Fields, error) {
	var ops engine.PatchOps
	ops.AddSet(doc.Tree())
	delete(ops.Sets, "_id")
	return ops.Apply(engine.Fields{"_id": id})
}

// Patch starts a partial update of the document with internal id.
func (s *Store) Patch(id string) engine.Patch {
	return &patch{store: s, id: id}
}

// Writes returns every mutating call so far.
func (s *Store) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *Store) record(op, id, externalID string, at time.Time) {
	s.writes = append(s.writes, Write{Op: op, ID: id, ExternalID: externalID, At: at})
}

type patch struct {
	store *Store
	id    string
	ops   engine.PatchOps
}

func (p *patch) Set(fields engine.Fields) engine.Patch {
	p.ops.AddSet(fields)
	return p
}

func (p *patch) Unset(paths ...string) engine.Patch {
	p.ops.AddUnset(paths...)
	return p
}

func (p *patch) Commit(ctx context.Context) (*engine.TargetDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.docs[p.id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", p.id)
	}
	updated, err := p.ops.Apply(tree)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	updated["_updatedAt"] = now.Format(time.RFC3339Nano)
	s.docs[p.id] = updated

	doc, err := engine.DocumentFromTree(updated)
	if err != nil {
		return nil, err
	}
	s.record("patch", p.id, doc.ExternalID, now)
	return doc, nil
}

// Secrets is an in-memory engine.SecretStore.
type Secrets struct {
	mu      sync.Mutex
	secrets engine.Secrets
}

// NewSecrets creates a secret store holding initial.
func NewSecrets(initial engine.Secrets) *Secrets {
	return &Secrets{secrets: initial}
}

func (s *Secrets) Fetch(_ context.Context) (engine.Secrets, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secrets, nil
}

func (s *Secrets) Save(_ context.Context, secrets engine.Secrets) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets = secrets
	return nil
}

func (s *Secrets) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets = engine.Secrets{}
	return nil
}
