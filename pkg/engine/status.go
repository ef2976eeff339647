package engine

import (
	"encoding/json"
	"fmt"
)

// Kind identifies one of the two catalog entity kinds.
type Kind string

const (
	// KindProduct is a sellable catalog product.
	KindProduct Kind = "Product"

	// KindCollection is a grouping of products.
	KindCollection Kind = "Collection"
)

// Document types used by the target store for each kind.
const (
	DocumentTypeProduct    = "shopifyProduct"
	DocumentTypeCollection = "shopifyCollection"
)

// Relation array field names on target documents.
const (
	FieldProducts    = "products"
	FieldCollections = "collections"
)

// Validate checks if the kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindProduct, KindCollection:
		return nil
	default:
		return NewUnsupportedKindError(k)
	}
}

// Complement returns the kind this kind relates to.
func (k Kind) Complement() Kind {
	if k == KindProduct {
		return KindCollection
	}
	return KindProduct
}

// DocumentType returns the target document type for the kind.
func (k Kind) DocumentType() string {
	switch k {
	case KindProduct:
		return DocumentTypeProduct
	case KindCollection:
		return DocumentTypeCollection
	default:
		return ""
	}
}

// RelationField returns the field on documents of this kind that lists related
// documents of the complementary kind.
func (k Kind) RelationField() string {
	if k == KindProduct {
		return FieldCollections
	}
	return FieldProducts
}

// KindForDocumentType maps a target document type back to its kind.
func KindForDocumentType(docType string) (Kind, error) {
	switch docType {
	case DocumentTypeProduct:
		return KindProduct, nil
	case DocumentTypeCollection:
		return KindCollection, nil
	default:
		return "", NewUnsupportedKindError(Kind(docType))
	}
}

// ParseKind accepts the kind names used on the command line.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "product", "products", string(KindProduct):
		return KindProduct, nil
	case "collection", "collections", string(KindCollection):
		return KindCollection, nil
	default:
		return "", NewUnsupportedKindError(Kind(s))
	}
}

// OperationType represents the outcome of reconciling one source item.
type OperationType string

const (
	// OperationCreate indicates a new document was created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing document was patched.
	OperationUpdate OperationType = "update"

	// OperationSkip indicates the existing document already matched the source.
	OperationSkip OperationType = "skip"
)

// IsMutating returns true if the operation wrote to the target store.
func (o OperationType) IsMutating() bool {
	return o == OperationCreate || o == OperationUpdate
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationSkip:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// PairPolicy decides what happens to a related item that resolves on neither side.
type PairPolicy string

const (
	// PairPolicyDrop discards the pair and logs at debug level.
	PairPolicyDrop PairPolicy = "drop"

	// PairPolicyWarn discards the pair, logs a warning and counts it in the run summary.
	PairPolicyWarn PairPolicy = "warn"

	// PairPolicyFail aborts the batch with ErrUnresolvedPair.
	PairPolicyFail PairPolicy = "fail"
)

// Validate checks if the pair policy is valid.
func (p PairPolicy) Validate() error {
	switch p {
	case PairPolicyDrop, PairPolicyWarn, PairPolicyFail:
		return nil
	default:
		return fmt.Errorf("invalid unresolved pair policy: %s", p)
	}
}

// RunStatus represents the overall status of a sync run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run reached the complete phase.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run aborted with an error.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(k))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*k = Kind(str)
	return k.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
