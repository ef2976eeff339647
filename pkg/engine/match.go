package engine

// SubsetMatches reports whether every field present in projection has the same
// value in existing. Objects are compared partially: keys missing from the
// projection are ignored. Arrays must have the same length and match element by
// element, so a removed variant or option value is never mistaken for a match.
func SubsetMatches(projection, existing Fields) bool {
	return subsetMatch(map[string]any(projection), map[string]any(existing))
}

func subsetMatch(want, have any) bool {
	switch w := want.(type) {
	case map[string]any:
		h, ok := asObject(have)
		if !ok {
			return false
		}
		for k, wv := range w {
			hv, present := h[k]
			if !present {
				if wv == nil {
					continue
				}
				return false
			}
			if !subsetMatch(wv, hv) {
				return false
			}
		}
		return true
	case Fields:
		return subsetMatch(map[string]any(w), have)
	case []any:
		h, ok := have.([]any)
		if !ok || len(h) != len(w) {
			return false
		}
		for i := range w {
			if !subsetMatch(w[i], h[i]) {
				return false
			}
		}
		return true
	default:
		return scalarEqual(normalizeValue(want), normalizeValue(have))
	}
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Fields:
		return t, true
	default:
		return nil, false
	}
}

func scalarEqual(a, b any) bool {
	switch a.(type) {
	case nil, string, bool, float64:
	default:
		return false
	}
	switch b.(type) {
	case nil, string, bool, float64:
	default:
		return false
	}
	return a == b
}

// MergeExisting merges the projection into the existing document tree and returns
// the fields to set. Top-level projection values overwrite. Options are matched by
// _key and their values merged by _key; variants are matched by id. In both cases
// the existing element's fields are kept unless the projection sets them.
func MergeExisting(projection, existing Fields) Fields {
	merged := cloneFields(projection)
	if opts, ok := merged[FieldOptions].([]any); ok {
		merged[FieldOptions] = mergeOptions(opts, objectList(existing[FieldOptions]))
	}
	if variants, ok := merged[FieldVariants].([]any); ok {
		merged[FieldVariants] = mergeByField(variants, objectList(existing[FieldVariants]), "id")
	}
	return merged
}

func mergeOptions(updated []any, existing []map[string]any) []any {
	out := make([]any, 0, len(updated))
	for _, item := range updated {
		opt, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}
		old := findBy(existing, keyKey, opt[keyKey])
		merged := overlay(old, opt)
		if values, ok := opt["values"].([]any); ok {
			merged["values"] = mergeByField(values, objectList(old["values"]), keyKey)
		}
		out = append(out, merged)
	}
	return out
}

func mergeByField(updated []any, existing []map[string]any, field string) []any {
	out := make([]any, 0, len(updated))
	for _, item := range updated {
		obj, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}
		out = append(out, overlay(findBy(existing, field, obj[field]), obj))
	}
	return out
}

// overlay returns a shallow merge of base and top, with top winning.
func overlay(base, top map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(top))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, v := range top {
		out[k] = cloneValue(v)
	}
	return out
}

func findBy(list []map[string]any, field string, value any) map[string]any {
	if value == nil {
		return nil
	}
	for _, obj := range list {
		if scalarEqual(obj[field], value) {
			return obj
		}
	}
	return nil
}

func objectList(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := asObject(item); ok {
			out = append(out, obj)
		}
	}
	return out
}
