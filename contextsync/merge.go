package contextsync

import (
	"fmt"
	"math"
	"reflect"

	"github.com/meshgate/meshgate/core"
)

// mergeValues combines the existing value with the incoming one according to
// the merge strategy. Replace overwrites, merge does a shallow field union for
// object values (incoming fields win), append concatenates for array values.
func mergeValues(existing, incoming any, strategy core.MergeStrategy) (any, error) {
	switch strategy {
	case core.MergeReplace:
		return incoming, nil
	case core.MergeUnion:
		oldMap, okOld := asMap(existing)
		newMap, okNew := asMap(incoming)
		if !okOld || !okNew {
			return nil, fmt.Errorf("merge strategy %q requires object values, got %T and %T", strategy, existing, incoming)
		}
		union := make(map[string]any, len(oldMap)+len(newMap))
		for k, v := range oldMap {
			union[k] = v
		}
		for k, v := range newMap {
			union[k] = v
		}
		return union, nil
	case core.MergeAppend:
		oldSlice, okOld := asSlice(existing)
		if !okOld {
			return nil, fmt.Errorf("merge strategy %q requires an existing array value, got %T", strategy, existing)
		}
		if newSlice, ok := asSlice(incoming); ok {
			return append(append([]any{}, oldSlice...), newSlice...), nil
		}
		return append(append([]any{}, oldSlice...), incoming), nil
	default:
		return nil, fmt.Errorf("unknown merge strategy %q", strategy)
	}
}

// reconcileStrategy picks the merge strategy whose result preserves both
// writers when a stale write is auto-merged: union for object values, append
// for arrays, replace when the values already agree. The caller's requested
// strategy is deliberately ignored here — a replace would discard the
// concurrent writer's data that the compatibility grade promised to keep.
func reconcileStrategy(existing, incoming any) core.MergeStrategy {
	if reflect.DeepEqual(existing, incoming) {
		return core.MergeReplace
	}
	if _, ok := asMap(existing); ok {
		if _, ok := asMap(incoming); ok {
			return core.MergeUnion
		}
	}
	if _, ok := asSlice(existing); ok {
		if _, ok := asSlice(incoming); ok {
			return core.MergeAppend
		}
	}
	return core.MergeReplace
}

// divergence grades how materially two concurrently written values differ.
// compatible=true means the difference can be auto-merged without losing
// either writer's data; otherwise the caller must surface a conflict.
func divergence(existing, incoming any) (core.Severity, bool) {
	if reflect.DeepEqual(existing, incoming) {
		return core.SeverityLow, true
	}
	if oldMap, ok := asMap(existing); ok {
		if newMap, ok := asMap(incoming); ok {
			for k, newVal := range newMap {
				oldVal, overlaps := oldMap[k]
				if overlaps && !reflect.DeepEqual(oldVal, newVal) {
					return core.SeverityHigh, false
				}
			}
			// Disjoint or agreeing fields: the union keeps both writers whole.
			return core.SeverityLow, true
		}
	}
	if _, ok := asSlice(existing); ok {
		if _, ok := asSlice(incoming); ok {
			// Concatenation preserves both writers' elements.
			return core.SeverityMedium, true
		}
	}
	if oldNum, ok := asFloat(existing); ok {
		if newNum, ok := asFloat(incoming); ok {
			scale := math.Max(math.Abs(oldNum), math.Abs(newNum))
			if scale == 0 || math.Abs(oldNum-newNum)/scale <= 0.1 {
				return core.SeverityMedium, false
			}
			return core.SeverityHigh, false
		}
	}
	return core.SeverityHigh, false
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
