package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRelationKey_Stable(t *testing.T) {
	a := RelationKey("gid://shop/Product/1")
	b := RelationKey("gid://shop/Product/1")
	c := RelationKey("gid://shop/Product/2")

	if a != b {
		t.Errorf("keys for the same id differ: %s != %s", a, b)
	}
	if a == c {
		t.Error("keys for different ids must differ")
	}
	if len(a) != 12 {
		t.Errorf("expected 12 character key, got %q", a)
	}
}

func TestDocumentTree_RoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := &TargetDocument{
		ID:         "doc-1",
		Type:       DocumentTypeCollection,
		ExternalID: "C1",
		Handle:     "summer",
		Title:      "Summer",
		Fields:     Fields{"sourceData": map[string]any{"id": "C1"}},
		Products: []Relation{
			{Key: RelationKey("P1"), Ref: "doc-2", ExternalID: "P1"},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}

	got, err := DocumentFromTree(doc.Tree())
	if err != nil {
		t.Fatalf("DocumentFromTree failed: %v", err)
	}
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDocumentFromTree_InvalidRelations(t *testing.T) {
	_, err := DocumentFromTree(Fields{"products": "not-an-array"})
	if err == nil {
		t.Fatal("expected error for malformed relation array")
	}
}

func TestPatchOps_Apply(t *testing.T) {
	tree := Fields{
		"_id":   "doc-1",
		"title": "Old",
		"note":  "remove me",
		"collections": []any{
			map[string]any{"_key": "k1", "_ref": "c1"},
			map[string]any{"_key": "k2", "_ref": "c2"},
		},
	}

	var ops PatchOps
	ops.AddSet(Fields{"title": "New", "count": 3})
	ops.AddUnset("note", RelationSelector("collections", "k1"))

	got, err := ops.Apply(tree)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := Fields{
		"_id":   "doc-1",
		"title": "New",
		"count": 3.0,
		"collections": []any{
			map[string]any{"_key": "k2", "_ref": "c2"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("patched tree mismatch (-want +got):\n%s", diff)
	}
	if tree["title"] != "Old" {
		t.Error("Apply must not modify its input")
	}
}

func TestPatchOps_SetsBeforeUnsets(t *testing.T) {
	var ops PatchOps
	ops.AddSet(Fields{"products": RelationsValue([]Relation{{Key: "a"}, {Key: "b"}})})
	ops.AddUnset(RelationSelector("products", "a"))

	got, err := ops.Apply(Fields{"_id": "x"})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	rels, err := relationsFromValue("products", got["products"])
	if err != nil {
		t.Fatalf("relationsFromValue failed: %v", err)
	}
	if len(rels) != 1 || rels[0].Key != "b" {
		t.Errorf("expected only relation b to remain, got %+v", rels)
	}
}

func TestPatchOps_Errors(t *testing.T) {
	tests := []struct {
		name string
		ops  PatchOps
	}{
		{name: "set id", ops: PatchOps{Sets: Fields{"_id": "other"}}},
		{name: "unset id", ops: PatchOps{Unsets: []string{"_id"}}},
		{name: "bad selector", ops: PatchOps{Unsets: []string{"products[0]"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.ops.Apply(Fields{"_id": "doc"}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProject_Product(t *testing.T) {
	item := &SourceItem{
		ID:     "P1",
		Kind:   KindProduct,
		Handle: "shirt",
		Title:  "Shirt",
		Options: []SourceOption{
			{Name: "Size", Values: []string{"S"}},
		},
		Variants: []SourceVariant{
			{ID: "v1", Price: "10.00", Available: true},
		},
	}

	got, err := Project(item)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}

	if got["_type"] != DocumentTypeProduct || got["externalId"] != "P1" || got["archived"] != false {
		t.Errorf("unexpected base fields: %+v", got)
	}
	wantOptions := []any{map[string]any{
		"_key":   "Size",
		"name":   "Size",
		"values": []any{map[string]any{"_key": "S", "value": "S"}},
	}}
	if diff := cmp.Diff(wantOptions, got["options"]); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	variants := got["variants"].([]any)
	if len(variants) != 1 || variants[0].(map[string]any)["id"] != "v1" {
		t.Errorf("unexpected variants: %+v", variants)
	}
}

func TestProject_CollectionHasNoVariants(t *testing.T) {
	got, err := Project(&SourceItem{ID: "C1", Kind: KindCollection, Handle: "summer"})
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if _, ok := got["variants"]; ok {
		t.Error("collections must not project variants")
	}
}

func TestProject_UnsupportedKind(t *testing.T) {
	_, err := Project(&SourceItem{ID: "X1", Kind: "Page"})
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
}

func TestDocumentCache(t *testing.T) {
	c := NewDocumentCache()
	doc := &TargetDocument{ID: "1", ExternalID: "P1", Handle: "shirt", Type: DocumentTypeProduct}
	c.Set(doc)
	c.Set(&TargetDocument{ID: "2"})

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}

	got, ok := c.Get("P1")
	if !ok || got.ID != "1" {
		t.Fatalf("Get(P1) = %+v, %v", got, ok)
	}
	got.Title = "mutated"
	if again, _ := c.Get("P1"); again.Title != "" {
		t.Error("Get must return a copy")
	}

	if _, ok := c.FindByHandle("shirt", DocumentTypeCollection); ok {
		t.Error("FindByHandle must match the document type")
	}
	if found, ok := c.FindByHandle("shirt", DocumentTypeProduct); !ok || found.ExternalID != "P1" {
		t.Errorf("FindByHandle(shirt) = %+v, %v", found, ok)
	}

	c.Reset()
	if _, ok := c.Get("P1"); ok {
		t.Error("Reset must drop cached documents")
	}
}
