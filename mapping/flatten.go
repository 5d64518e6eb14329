package mapping

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const Separator = "."

// Flatten turns a nested payload into dotted leaf paths. Map keys are walked
// in lexical order at each level and slices use their index as the path
// segment. Empty maps and slices are kept as leaves.
func Flatten(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for _, key := range sortedKeys(tree) {
		flattenInto(out, key, tree[key])
	}
	return out
}

// Paths returns the flattened leaf paths of tree in traversal order.
func Paths(tree map[string]any) []string {
	paths := make([]string, 0, len(tree))
	for _, key := range sortedKeys(tree) {
		collectPaths(&paths, key, tree[key])
	}
	return paths
}

func flattenInto(out map[string]any, prefix string, value any) {
	switch typed := normalizeContainer(value).(type) {
	case map[string]any:
		if len(typed) == 0 {
			out[prefix] = typed
			return
		}
		for _, key := range sortedKeys(typed) {
			flattenInto(out, joinPath(prefix, key), typed[key])
		}
	case []any:
		if len(typed) == 0 {
			out[prefix] = typed
			return
		}
		for index, item := range typed {
			flattenInto(out, joinPath(prefix, strconv.Itoa(index)), item)
		}
	default:
		out[prefix] = value
	}
}

func collectPaths(paths *[]string, prefix string, value any) {
	switch typed := normalizeContainer(value).(type) {
	case map[string]any:
		if len(typed) == 0 {
			*paths = append(*paths, prefix)
			return
		}
		for _, key := range sortedKeys(typed) {
			collectPaths(paths, joinPath(prefix, key), typed[key])
		}
	case []any:
		if len(typed) == 0 {
			*paths = append(*paths, prefix)
			return
		}
		for index, item := range typed {
			collectPaths(paths, joinPath(prefix, strconv.Itoa(index)), item)
		}
	default:
		*paths = append(*paths, prefix)
	}
}

// Unflatten folds dotted paths back into a nested tree. Paths are applied in
// lexical order, so a leaf and a subtree sharing a prefix resolve to the
// subtree. Maps whose keys are exactly 0..n-1 become slices.
func Unflatten(flat map[string]any) map[string]any {
	root := map[string]any{}
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		setPath(root, strings.Split(key, Separator), flat[key])
	}
	for key, child := range root {
		root[key] = restoreSlices(child)
	}
	return root
}

func setPath(node map[string]any, segments []string, value any) {
	for index, segment := range segments {
		if index == len(segments)-1 {
			node[segment] = value
			return
		}
		next, ok := node[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[segment] = next
		}
		node = next
	}
}

func restoreSlices(value any) any {
	typed, ok := value.(map[string]any)
	if !ok || len(typed) == 0 {
		return value
	}
	for key, child := range typed {
		typed[key] = restoreSlices(child)
	}
	items := make([]any, len(typed))
	for key, child := range typed {
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || index >= len(typed) || strconv.Itoa(index) != key {
			return typed
		}
		items[index] = child
	}
	return items
}

// normalizeContainer widens typed maps and slices so host payloads built
// from concrete Go types flatten like decoded JSON.
func normalizeContainer(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case map[string]any, []any:
		return typed
	case map[string]string:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = item
		}
		return out
	case []string:
		out := make([]any, len(typed))
		for index, item := range typed {
			out[index] = item
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for index, item := range typed {
			out[index] = item
		}
		return out
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return value
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return value
		}
		out := make([]any, rv.Len())
		for index := 0; index < rv.Len(); index++ {
			out[index] = rv.Index(index).Interface()
		}
		return out
	default:
		return value
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + Separator + key
}

func sortedKeys(tree map[string]any) []string {
	keys := make([]string, 0, len(tree))
	for key := range tree {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stringify renders a flattened leaf for query strings and form bodies.
func Stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		if typed {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(typed)
	}
}
