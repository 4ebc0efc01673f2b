package sandbox

import (
	"fmt"
	"sort"
)

// FlattenFields returns the sorted leaf-field paths of an emitted event.
// Nested object keys are joined with '.', array elements addressed by
// index. An empty object or array is itself a leaf.
func FlattenFields(doc map[string]any) []string {
	var fields []string
	flattenInto("", doc, &fields)
	sort.Strings(fields)
	return fields
}

// CountFields is the extraction quality signal: the number of leaf fields
// in the output event.
func CountFields(doc map[string]any) int {
	return len(FlattenFields(doc))
}

func flattenInto(prefix string, v any, out *[]string) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 && prefix != "" {
			*out = append(*out, prefix)
			return
		}
		for k, child := range val {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			flattenInto(p, child, out)
		}
	case []any:
		if len(val) == 0 && prefix != "" {
			*out = append(*out, prefix)
			return
		}
		for i, child := range val {
			flattenInto(fmt.Sprintf("%s[%d]", prefix, i), child, out)
		}
	default:
		if prefix != "" {
			*out = append(*out, prefix)
		}
	}
}
