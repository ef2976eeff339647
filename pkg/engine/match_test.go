package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSubsetMatches(t *testing.T) {
	existing := Fields{
		"_id":        "doc-1",
		"_type":      DocumentTypeProduct,
		"externalId": "P1",
		"title":      "Shirt",
		"archived":   false,
		"extra":      "kept by editors",
		"sourceData": map[string]any{"id": "P1", "handle": "shirt", "tags": []any{"a", "b"}},
		"variants": []any{
			map[string]any{"id": "v1", "price": 10.0, "title": "A", "_key": "v1"},
		},
	}

	tests := []struct {
		name       string
		projection Fields
		want       bool
	}{
		{
			name:       "empty projection",
			projection: Fields{},
			want:       true,
		},
		{
			name:       "matching scalars",
			projection: Fields{"externalId": "P1", "title": "Shirt", "archived": false},
			want:       true,
		},
		{
			name:       "different scalar",
			projection: Fields{"title": "Trousers"},
			want:       false,
		},
		{
			name:       "missing field",
			projection: Fields{"handle": "shirt"},
			want:       false,
		},
		{
			name:       "nil matches missing field",
			projection: Fields{"handle": nil},
			want:       true,
		},
		{
			name:       "partial nested object",
			projection: Fields{"sourceData": map[string]any{"handle": "shirt"}},
			want:       true,
		},
		{
			name:       "integer compared with float",
			projection: Fields{"variants": []any{map[string]any{"id": "v1", "price": 10}}},
			want:       true,
		},
		{
			name: "array length differs",
			projection: Fields{"variants": []any{
				map[string]any{"id": "v1"},
				map[string]any{"id": "v2"},
			}},
			want: false,
		},
		{
			name:       "array element differs",
			projection: Fields{"sourceData": map[string]any{"tags": []any{"a", "c"}}},
			want:       false,
		},
		{
			name:       "object against scalar",
			projection: Fields{"title": map[string]any{"en": "Shirt"}},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubsetMatches(tt.projection, existing); got != tt.want {
				t.Errorf("SubsetMatches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeExisting_VariantsKeepOldFields(t *testing.T) {
	existing := Fields{
		"variants": []any{
			map[string]any{"id": "v1", "price": 10.0, "title": "A"},
		},
	}
	projection := Fields{
		"variants": []any{
			map[string]any{"id": "v1", "price": 12.0},
		},
	}

	merged := MergeExisting(projection, existing)

	want := []any{map[string]any{"id": "v1", "price": 12.0, "title": "A"}}
	if diff := cmp.Diff(want, merged["variants"]); diff != "" {
		t.Errorf("merged variants mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeExisting_NewVariantsAndDroppedVariants(t *testing.T) {
	existing := Fields{
		"variants": []any{
			map[string]any{"id": "v1", "title": "A"},
			map[string]any{"id": "v2", "title": "B"},
		},
	}
	projection := Fields{
		"variants": []any{
			map[string]any{"id": "v3", "title": "C"},
			map[string]any{"id": "v1", "price": "5.00"},
		},
	}

	merged := MergeExisting(projection, existing)

	want := []any{
		map[string]any{"id": "v3", "title": "C"},
		map[string]any{"id": "v1", "title": "A", "price": "5.00"},
	}
	if diff := cmp.Diff(want, merged["variants"]); diff != "" {
		t.Errorf("merged variants mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeExisting_OptionsMergeValuesByKey(t *testing.T) {
	existing := Fields{
		"options": []any{
			map[string]any{
				"_key":  "size",
				"name":  "Size",
				"notes": "editor notes",
				"values": []any{
					map[string]any{"_key": "S", "value": "S", "image": "s.png"},
					map[string]any{"_key": "M", "value": "M"},
				},
			},
		},
	}
	projection := Fields{
		"title": "Shirt",
		"options": []any{
			map[string]any{
				"_key": "size",
				"name": "Size",
				"values": []any{
					map[string]any{"_key": "S", "value": "S"},
					map[string]any{"_key": "L", "value": "L"},
				},
			},
		},
	}

	merged := MergeExisting(projection, existing)

	want := Fields{
		"title": "Shirt",
		"options": []any{
			map[string]any{
				"_key":  "size",
				"name":  "Size",
				"notes": "editor notes",
				"values": []any{
					map[string]any{"_key": "S", "value": "S", "image": "s.png"},
					map[string]any{"_key": "L", "value": "L"},
				},
			},
		},
	}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("merged options mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeExisting_DoesNotMutateInputs(t *testing.T) {
	existing := Fields{"variants": []any{map[string]any{"id": "v1", "title": "A"}}}
	projection := Fields{"variants": []any{map[string]any{"id": "v1", "price": 1.0}}}

	merged := MergeExisting(projection, existing)
	merged["variants"].([]any)[0].(map[string]any)["title"] = "changed"

	if got := existing["variants"].([]any)[0].(map[string]any)["title"]; got != "A" {
		t.Errorf("existing was mutated: title = %v", got)
	}
	if _, ok := projection["variants"].([]any)[0].(map[string]any)["title"]; ok {
		t.Error("projection was mutated")
	}
}

func TestMergeExisting_ResultMatchesProjection(t *testing.T) {
	item := &SourceItem{
		ID:     "P1",
		Kind:   KindProduct,
		Handle: "shirt",
		Title:  "Shirt",
		Options: []SourceOption{
			{ID: "size", Name: "Size", Values: []string{"S", "M"}},
		},
		Variants: []SourceVariant{
			{ID: "v1", Title: "S", Price: "10.00", Available: true},
		},
	}
	projection, err := Project(item)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	existing := Fields{
		"options":  []any{map[string]any{"_key": "size", "name": "Size", "extra": true}},
		"variants": []any{map[string]any{"id": "v1", "_key": "v1", "inventory": 4.0}},
	}

	merged := MergeExisting(projection, existing)
	if !SubsetMatches(projection, merged) {
		t.Error("merged fields must contain the projection")
	}
}
