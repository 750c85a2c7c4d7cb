package payload

import (
	"fmt"
	"regexp"
	"strconv"
)

// refPattern matches placeholder strings deferring to the result of an
// earlier statement in the same transaction. Only exact-match string scalars
// count; substrings are never substituted.
var refPattern = regexp.MustCompile(`^\$tx\.(\d+)$`)

// Ref renders the placeholder for the statement at the given index.
func Ref(index int) string {
	return fmt.Sprintf("$tx.%d", index)
}

// ParseRef reports whether s is a placeholder and returns the referenced
// statement index.
func ParseRef(s string) (int, bool) {
	match := refPattern.FindStringSubmatch(s)
	if match == nil {
		return 0, false
	}
	index, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return index, true
}

// ResolveRefs walks the payload tree and substitutes every placeholder
// string scalar with the value produced by resolve. The receiver is not
// mutated; a resolved copy is returned.
func (m Map) ResolveRefs(resolve func(index int) (Value, error)) (Map, error) {
	if m == nil {
		return nil, nil
	}
	out := make(Map, len(m))
	for key, value := range m {
		resolved, err := value.resolveRefs(resolve)
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}
	return out, nil
}

func (v Value) resolveRefs(resolve func(index int) (Value, error)) (Value, error) {
	switch v.kind {
	case KindString:
		index, ok := ParseRef(v.str)
		if !ok {
			return v, nil
		}
		return resolve(index)
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			resolved, err := item.resolveRefs(resolve)
			if err != nil {
				return Value{}, err
			}
			items[i] = resolved
		}
		return Value{kind: KindArray, arr: items}, nil
	case KindObject:
		obj, err := v.obj.ResolveRefs(resolve)
		if err != nil {
			return Value{}, err
		}
		return Object(obj), nil
	default:
		return v, nil
	}
}
