package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fields is a plain value tree: maps, []any slices, strings, float64, bool and nil.
type Fields map[string]any

// Reserved top-level keys of a document tree. Everything else lives in TargetDocument.Fields.
const (
	keyID         = "_id"
	keyType       = "_type"
	keyExternalID = "externalId"
	keyHandle     = "handle"
	keyTitle      = "title"
	keyArchived   = "archived"
	keyCreatedAt  = "_createdAt"
	keyUpdatedAt  = "_updatedAt"
	keyKey        = "_key"
	keyRef        = "_ref"
	keyWeak       = "_weak"
)

var relationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("sanesync:relation"))

// RelationKey returns the stable relation key used for references to externalID.
func RelationKey(externalID string) string {
	u := uuid.NewSHA1(relationNamespace, []byte(externalID))
	return strings.ReplaceAll(u.String(), "-", "")[:12]
}

// NewRelation builds a weak reference to doc.
func NewRelation(doc *TargetDocument) Relation {
	return Relation{
		Key:        RelationKey(doc.ExternalID),
		Ref:        doc.ID,
		ExternalID: doc.ExternalID,
	}
}

// RelationSelector addresses one member of a relation array for Unset.
func RelationSelector(field, key string) string {
	return fmt.Sprintf("%s[_key==%q]", field, key)
}

var selectorPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\[_key=="([^"]*)"\]$`)

// RelationsValue converts relations into their tree form for Set.
func RelationsValue(relations []Relation) []any {
	out := make([]any, 0, len(relations))
	for _, r := range relations {
		out = append(out, map[string]any{
			keyKey:        r.Key,
			keyRef:        r.Ref,
			keyWeak:       true,
			keyExternalID: r.ExternalID,
		})
	}
	return out
}

// Tree flattens the document into a single value tree.
func (d *TargetDocument) Tree() Fields {
	tree := cloneFields(d.Fields)
	if tree == nil {
		tree = Fields{}
	}
	tree[keyID] = d.ID
	tree[keyType] = d.Type
	tree[keyExternalID] = d.ExternalID
	tree[keyHandle] = d.Handle
	tree[keyTitle] = d.Title
	tree[keyArchived] = d.Archived
	tree[FieldProducts] = RelationsValue(d.Products)
	tree[FieldCollections] = RelationsValue(d.Collections)
	if !d.CreatedAt.IsZero() {
		tree[keyCreatedAt] = d.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !d.UpdatedAt.IsZero() {
		tree[keyUpdatedAt] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return tree
}

// DocumentFromTree rebuilds a document from its flattened tree.
func DocumentFromTree(tree Fields) (*TargetDocument, error) {
	doc := &TargetDocument{Fields: Fields{}}
	var err error
	for k, v := range tree {
		switch k {
		case keyID:
			doc.ID, err = stringValue(k, v)
		case keyType:
			doc.Type, err = stringValue(k, v)
		case keyExternalID:
			doc.ExternalID, err = stringValue(k, v)
		case keyHandle:
			doc.Handle, err = stringValue(k, v)
		case keyTitle:
			doc.Title, err = stringValue(k, v)
		case keyArchived:
			b, ok := v.(bool)
			if v != nil && !ok {
				err = fmt.Errorf("field %s: expected bool, got %T", k, v)
			}
			doc.Archived = b
		case FieldProducts:
			doc.Products, err = relationsFromValue(k, v)
		case FieldCollections:
			doc.Collections, err = relationsFromValue(k, v)
		case keyCreatedAt:
			doc.CreatedAt, err = timeValue(k, v)
		case keyUpdatedAt:
			doc.UpdatedAt, err = timeValue(k, v)
		default:
			doc.Fields[k] = cloneValue(v)
		}
		if err != nil {
			return nil, err
		}
	}
	if len(doc.Fields) == 0 {
		doc.Fields = nil
	}
	return doc, nil
}

func stringValue(key string, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s: expected string, got %T", key, v)
	}
	return s, nil
}

func timeValue(key string, v any) (time.Time, error) {
	s, err := stringValue(key, v)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", key, err)
	}
	return t, nil
}

func relationsFromValue(key string, v any) ([]Relation, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []Relation:
		return append([]Relation(nil), list...), nil
	case []any:
		out := make([]Relation, 0, len(list))
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("field %s[%d]: expected object, got %T", key, i, item)
			}
			r := Relation{}
			r.Key, _ = m[keyKey].(string)
			r.Ref, _ = m[keyRef].(string)
			r.ExternalID, _ = m[keyExternalID].(string)
			out = append(out, r)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field %s: expected array, got %T", key, v)
	}
}

// PatchOps is the accumulated content of a Patch. Store implementations embed it
// and call Apply against the stored tree on commit.
type PatchOps struct {
	Sets   Fields
	Unsets []string
}

// AddSet records fields to set.
func (p *PatchOps) AddSet(fields Fields) {
	if p.Sets == nil {
		p.Sets = Fields{}
	}
	for k, v := range fields {
		p.Sets[k] = v
	}
}

// AddUnset records paths to unset.
func (p *PatchOps) AddUnset(paths ...string) {
	p.Unsets = append(p.Unsets, paths...)
}

// Empty reports whether the patch would change nothing.
func (p *PatchOps) Empty() bool {
	return len(p.Sets) == 0 && len(p.Unsets) == 0
}

// Apply returns a copy of tree with the sets and then the unsets applied.
func (p *PatchOps) Apply(tree Fields) (Fields, error) {
	out := cloneFields(tree)
	if out == nil {
		out = Fields{}
	}
	for k, v := range p.Sets {
		if k == keyID {
			return nil, fmt.Errorf("cannot patch %s", keyID)
		}
		out[k] = normalizeValue(v)
	}
	for _, path := range p.Unsets {
		if !strings.Contains(path, "[") {
			if path == keyID {
				return nil, fmt.Errorf("cannot unset %s", keyID)
			}
			delete(out, path)
			continue
		}
		m := selectorPattern.FindStringSubmatch(path)
		if m == nil {
			return nil, fmt.Errorf("invalid unset selector %q", path)
		}
		field, key := m[1], m[2]
		list, ok := out[field].([]any)
		if !ok {
			continue
		}
		kept := make([]any, 0, len(list))
		for _, item := range list {
			if obj, ok := item.(map[string]any); ok && obj[keyKey] == key {
				continue
			}
			kept = append(kept, item)
		}
		out[field] = kept
	}
	return out, nil
}

func cloneFields(f Fields) Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Fields:
		return map[string]any(cloneFields(t))
	case map[string]any:
		return map[string]any(cloneFields(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return t
	}
}

// normalizeValue converts v into the plain value tree form. Values that are not
// already plain go through a JSON round trip.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case Fields:
		return normalizeValue(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Sprint(t)
		}
		return out
	}
}
