package experiment

import (
	"reflect"
	"sort"
)

// ExpandGrid enumerates the Cartesian product of all list-valued options.
// Scalar values are coerced to singleton lists, so a map with no lists
// yields exactly one combination. Expansion order is deterministic: option
// names sorted lexicographically, the last name varying fastest, which
// fixes submission order and therefore the tuner's tie-breaking.
func ExpandGrid(options map[string]interface{}) []map[string]interface{} {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([][]interface{}, len(names))
	total := 1
	for i, name := range names {
		values[i] = listValues(options[name])
		total *= len(values[i])
	}
	if total == 0 {
		return nil
	}

	combos := make([]map[string]interface{}, 0, total)
	idx := make([]int, len(names))
	for {
		combo := make(map[string]interface{}, len(names))
		for i, name := range names {
			combo[name] = values[i][idx[i]]
		}
		combos = append(combos, combo)

		// Odometer increment, rightmost digit fastest.
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(values[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return combos
		}
	}
}

// listValues returns v's elements if v is a slice or array, else [v].
// Strings and byte slices are scalars: nobody grid-searches over their
// elements.
func listValues(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if _, isBytes := v.([]byte); isBytes {
			return []interface{}{v}
		}
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	default:
		return []interface{}{v}
	}
}
