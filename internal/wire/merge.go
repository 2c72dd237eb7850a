package wire

import "encoding/json"

// DeepMerge combines base and patch as JSON values: where both sides
// are JSON objects, overlapping keys recurse; otherwise patch
// replaces base outright (spec.md §4.6's sharedState merge rule). An
// empty/nil patch returns base unchanged.
func DeepMerge(base, patch json.RawMessage) (json.RawMessage, error) {
	if len(patch) == 0 {
		return base, nil
	}

	var patchVal any
	if err := json.Unmarshal(patch, &patchVal); err != nil {
		return nil, err
	}

	var baseVal any
	if len(base) > 0 {
		if err := json.Unmarshal(base, &baseVal); err != nil {
			return nil, err
		}
	}

	merged := mergeValue(baseVal, patchVal)
	return json.Marshal(merged)
}

func mergeValue(base, patch any) any {
	baseObj, baseIsObj := base.(map[string]any)
	patchObj, patchIsObj := patch.(map[string]any)
	if !baseIsObj || !patchIsObj {
		return patch
	}

	out := make(map[string]any, len(baseObj)+len(patchObj))
	for k, v := range baseObj {
		out[k] = v
	}
	for k, pv := range patchObj {
		if bv, ok := out[k]; ok {
			out[k] = mergeValue(bv, pv)
		} else {
			out[k] = pv
		}
	}
	return out
}
