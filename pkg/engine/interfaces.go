package engine

import (
	"context"
)

// SourceCatalog reads products and collections from the upstream catalog.
type SourceCatalog interface {
	// FetchByID returns the item with the given external id, or nil if it does not exist.
	FetchByID(ctx context.Context, id string) (*SourceItem, error)

	// FetchByHandle returns the item of kind with the given handle, or nil if it does not exist.
	FetchByHandle(ctx context.Context, handle string, kind Kind) (*SourceItem, error)

	// FetchAll returns every item of kind. onProgress, when set, is called with each page.
	FetchAll(ctx context.Context, kind Kind, onProgress func(page []SourceItem)) ([]SourceItem, error)

	// TestCredentials checks the secrets against the catalog without storing them.
	TestCredentials(ctx context.Context, secrets Secrets) CredentialCheck
}

// TargetStore is the document store the catalog is mirrored into.
type TargetStore interface {
	// Query returns the first document matching filter, or nil if none does.
	Query(ctx context.Context, filter Filter) (*TargetDocument, error)

	// QueryAll returns every document matching filter.
	QueryAll(ctx context.Context, filter Filter) ([]TargetDocument, error)

	// Create stores a new document and returns it with its internal id assigned.
	Create(ctx context.Context, doc *TargetDocument) (*TargetDocument, error)

	// Patch starts a partial update of the document with the given internal id.
	Patch(id string) Patch
}

// Patch accumulates set and unset operations for one document.
// Sets are applied before unsets when committed.
type Patch interface {
	// Set replaces top-level fields.
	Set(fields Fields) Patch

	// Unset removes top-level fields or array members addressed by a selector
	// such as products[_key=="abc"].
	Unset(paths ...string) Patch

	// Commit applies the patch and returns the updated document.
	Commit(ctx context.Context) (*TargetDocument, error)
}

// SecretStore persists catalog credentials.
type SecretStore interface {
	// Fetch returns the stored secrets, or empty secrets if none are stored.
	Fetch(ctx context.Context) (Secrets, error)

	// Save replaces the stored secrets.
	Save(ctx context.Context, secrets Secrets) error

	// Clear removes the stored secrets.
	Clear(ctx context.Context) error
}

// Observer receives every state machine snapshot synchronously.
type Observer func(state SyncState)

// Filter selects target documents. Zero-valued fields are ignored.
type Filter struct {
	ID         string `json:"id,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
	Handle     string `json:"handle,omitempty"`
	Type       string `json:"type,omitempty"`

	// Archived restricts the archived flag when non-nil.
	Archived *bool `json:"archived,omitempty"`

	// References matches documents holding a relation to this external id.
	References string `json:"references,omitempty"`
}

// ByExternalID selects the document mirroring the given external id.
func ByExternalID(externalID string) Filter {
	return Filter{ExternalID: externalID}
}

// ByHandle selects the document of kind with the given handle.
func ByHandle(handle string, kind Kind) Filter {
	return Filter{Handle: handle, Type: kind.DocumentType()}
}

// ActiveOfKind selects every non-archived document of kind.
func ActiveOfKind(kind Kind) Filter {
	archived := false
	return Filter{Type: kind.DocumentType(), Archived: &archived}
}

// Referencing selects every document holding a relation to externalID.
func Referencing(externalID string) Filter {
	return Filter{References: externalID}
}

// Matches reports whether doc satisfies the filter.
func (f Filter) Matches(doc *TargetDocument) bool {
	if f.ID != "" && doc.ID != f.ID {
		return false
	}
	if f.ExternalID != "" && doc.ExternalID != f.ExternalID {
		return false
	}
	if f.Handle != "" && doc.Handle != f.Handle {
		return false
	}
	if f.Type != "" && doc.Type != f.Type {
		return false
	}
	if f.Archived != nil && doc.Archived != *f.Archived {
		return false
	}
	if f.References != "" {
		_, inProducts := doc.RelationTo(FieldProducts, f.References)
		_, inCollections := doc.RelationTo(FieldCollections, f.References)
		if !inProducts && !inCollections {
			return false
		}
	}
	return true
}
