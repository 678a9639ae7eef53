package routing

import (
	"reflect"
	"sort"

	"github.com/relaycore/claude-router/internal/apierrors"
	"github.com/relaycore/claude-router/internal/config"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ApplyConfigPatch writes every matching leaf of ruleConfig into body,
// per spec.md §4.2 "Config patch application". Every WhenCondition is
// evaluated against the pre-patch body snapshot, so two leaves in the
// same rule never observe each other's writes. A path that cannot be
// written is an impossible patch path and fails the request.
func ApplyConfigPatch(body []byte, ruleConfig config.ConfigPatch) ([]byte, error) {
	paths := make([]string, 0, len(ruleConfig))
	for path := range ruleConfig {
		paths = append(paths, path)
	}
	sort.Strings(paths) // deterministic write order for a fixed rule

	out := append([]byte(nil), body...)
	for _, path := range paths {
		entry := ruleConfig[path]
		if entry.When != nil {
			current := currentValue(body, path)
			if !conditionHolds(*entry.When, current) {
				continue
			}
		}
		var err error
		out, err = sjson.SetBytes(out, path, entry.Value)
		if err != nil {
			return nil, apierrors.Newf(apierrors.KindInvalidRequest, "impossible config patch path %q: %v", path, err)
		}
	}
	return out, nil
}

func currentValue(body []byte, path string) any {
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return nil
	}
	return result.Value()
}

func conditionHolds(cond config.WhenCondition, current any) bool {
	switch cond.Kind {
	case config.CurrentIn:
		return containsValue(cond.List, current)
	case config.CurrentNotIn:
		return !containsValue(cond.List, current)
	case config.CurrentEquals:
		return equalValues(cond.Value, current)
	case config.CurrentNotEq:
		return !equalValues(cond.Value, current)
	default:
		return false
	}
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

// equalValues compares two values decoded from YAML/JSON structurally,
// normalizing numeric types so `5000` (YAML int) equals `5000` (JSON
// float64) as spec.md §3 requires ("values compared structurally").
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
