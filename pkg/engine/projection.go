package engine

// Field names of the kind-specific projection.
const (
	FieldOptions    = "options"
	FieldVariants   = "variants"
	FieldSourceData = "sourceData"
)

// Project builds the canonical field projection of item: the subset of a target
// document the source catalog owns.
func Project(item *SourceItem) (Fields, error) {
	switch item.Kind {
	case KindProduct:
		tree := baseProjection(item)
		tree[FieldOptions] = projectOptions(item.Options)
		tree[FieldVariants] = projectVariants(item.Variants)
		return tree, nil
	case KindCollection:
		return baseProjection(item), nil
	default:
		return nil, NewUnsupportedKindError(item.Kind).WithResource(item.ID)
	}
}

func baseProjection(item *SourceItem) Fields {
	source := map[string]any{
		"id":          item.ID,
		"handle":      item.Handle,
		"title":       item.Title,
		"description": item.Description,
	}
	if len(item.Attributes) > 0 {
		source["attributes"] = item.Attributes
	}
	return Fields{
		keyType:         item.Kind.DocumentType(),
		keyExternalID:   item.ID,
		keyHandle:       item.Handle,
		keyTitle:        item.Title,
		keyArchived:     false,
		FieldSourceData: normalizeValue(source),
	}
}

func projectOptions(options []SourceOption) []any {
	out := make([]any, 0, len(options))
	for _, opt := range options {
		key := opt.ID
		if key == "" {
			key = opt.Name
		}
		values := make([]any, 0, len(opt.Values))
		for _, v := range opt.Values {
			values = append(values, map[string]any{keyKey: v, "value": v})
		}
		out = append(out, map[string]any{
			keyKey:   key,
			"name":   opt.Name,
			"values": values,
		})
	}
	return out
}

func projectVariants(variants []SourceVariant) []any {
	out := make([]any, 0, len(variants))
	for _, v := range variants {
		variant := map[string]any{
			keyKey:      v.ID,
			"id":        v.ID,
			"title":     v.Title,
			"sku":       v.SKU,
			"price":     v.Price,
			"available": v.Available,
		}
		if len(v.Attributes) > 0 {
			variant["attributes"] = normalizeValue(v.Attributes)
		}
		out = append(out, variant)
	}
	return out
}
