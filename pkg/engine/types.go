package engine

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// SourceItem is an entity read from the source catalog.
// Related items may be partial: only ID, Kind and Handle are guaranteed.
type SourceItem struct {
	// ID is the external id assigned by the catalog.
	ID string `json:"id" validate:"required"`

	// Kind is either Product or Collection.
	Kind Kind `json:"kind" validate:"required"`

	// Handle is the URL-safe unique name of the item.
	Handle string `json:"handle"`

	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`

	// Options and Variants are only populated for products.
	Options  []SourceOption  `json:"options,omitempty" validate:"dive"`
	Variants []SourceVariant `json:"variants,omitempty" validate:"dive"`

	// Related lists items of the complementary kind.
	Related []SourceItem `json:"related,omitempty"`
}

// SourceOption is a product option such as size or colour.
type SourceOption struct {
	ID     string   `json:"id,omitempty"`
	Name   string   `json:"name" validate:"required"`
	Values []string `json:"values"`
}

// SourceVariant is one purchasable variant of a product.
type SourceVariant struct {
	ID         string         `json:"id" validate:"required"`
	Title      string         `json:"title,omitempty"`
	SKU        string         `json:"sku,omitempty"`
	Price      string         `json:"price,omitempty"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Validate checks required fields and the kind.
func (s *SourceItem) Validate() error {
	if err := s.Kind.Validate(); err != nil {
		return err
	}
	if err := validate.Struct(s); err != nil {
		return NewPermanentError("invalid source item", err).
			WithCode(ErrCodeValidation).
			WithResource(s.ID)
	}
	return nil
}

// Relation is a weak reference from one document to another.
type Relation struct {
	// Key is stable for a given target external id.
	Key string `json:"_key"`

	// Ref is the internal id of the referenced document.
	Ref string `json:"_ref"`

	// ExternalID is the external id of the referenced document.
	ExternalID string `json:"externalId"`
}

// TargetDocument is the content store's mirror of one SourceItem.
type TargetDocument struct {
	ID          string     `json:"_id"`
	Type        string     `json:"_type"`
	ExternalID  string     `json:"externalId"`
	Handle      string     `json:"handle"`
	Title       string     `json:"title,omitempty"`
	Archived    bool       `json:"archived"`
	Fields      Fields     `json:"fields,omitempty"`
	Products    []Relation `json:"products,omitempty"`
	Collections []Relation `json:"collections,omitempty"`
	CreatedAt   time.Time  `json:"_createdAt"`
	UpdatedAt   time.Time  `json:"_updatedAt"`
}

// Kind returns the kind derived from the document type.
func (d *TargetDocument) Kind() (Kind, error) {
	return KindForDocumentType(d.Type)
}

// Relations returns the relation array stored under field.
func (d *TargetDocument) Relations(field string) []Relation {
	switch field {
	case FieldProducts:
		return d.Products
	case FieldCollections:
		return d.Collections
	default:
		return nil
	}
}

// RelationTo returns the relation in field pointing at externalID.
func (d *TargetDocument) RelationTo(field, externalID string) (Relation, bool) {
	for _, r := range d.Relations(field) {
		if r.ExternalID == externalID {
			return r, true
		}
	}
	return Relation{}, false
}

// Clone returns a deep copy of the document.
func (d *TargetDocument) Clone() *TargetDocument {
	if d == nil {
		return nil
	}
	c := *d
	c.Fields = cloneFields(d.Fields)
	c.Products = append([]Relation(nil), d.Products...)
	c.Collections = append([]Relation(nil), d.Collections...)
	return &c
}

// RelatedPair is one relation endpoint under resolution. Either side may be nil.
type RelatedPair struct {
	Source   *SourceItem     `json:"source,omitempty"`
	Document *TargetDocument `json:"document,omitempty"`
}

// Complete reports whether both sides of the pair are known.
func (p RelatedPair) Complete() bool {
	return p.Source != nil && p.Document != nil
}

// SyncOperation is the outcome of reconciling one SourceItem.
type SyncOperation struct {
	Type     OperationType   `json:"type"`
	Document *TargetDocument `json:"document"`
	Source   *SourceItem     `json:"source"`
}

// LinkOperation is the outcome of relationship reconciliation for one document.
type LinkOperation struct {
	Document *TargetDocument `json:"document"`
	Pairs    []RelatedPair   `json:"pairs"`

	// Removed lists external ids whose relations were dropped.
	Removed []string `json:"removed,omitempty"`

	// Unresolved lists related external ids that resolved on neither side.
	Unresolved []string `json:"unresolved,omitempty"`
}

// Secrets are the catalog credentials kept in the secret store.
type Secrets struct {
	ShopName    string `json:"shopName" yaml:"shop_name" validate:"required"`
	AccessToken string `json:"accessToken" yaml:"access_token" validate:"required"`
}

// Empty reports whether no credentials are set.
func (s Secrets) Empty() bool {
	return s.ShopName == "" && s.AccessToken == ""
}

// CredentialCheck is the result of testing secrets against the catalog.
type CredentialCheck struct {
	IsError bool   `json:"isError"`
	Message string `json:"message,omitempty"`
}

// RunSummary aggregates the outcome of one orchestrator operation.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Operation  string    `json:"operation"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Fetched    int       `json:"fetched"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Linked     int       `json:"linked"`
	Archived   []string  `json:"archived,omitempty"`
	Unresolved []string  `json:"unresolved,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *RunSummary) addOperation(op SyncOperation) {
	switch op.Type {
	case OperationCreate:
		s.Created++
	case OperationUpdate:
		s.Updated++
	case OperationSkip:
		s.Skipped++
	}
}
