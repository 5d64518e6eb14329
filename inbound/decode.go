package inbound

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/mapping"
)

// Decode reads the trigger payload the way the webhook's method says it was
// sent. JSON methods fall back to the form fields when the body is not a
// JSON object.
func Decode(method core.Method, req TriggerRequest) map[string]any {
	switch method {
	case core.MethodGet:
		return DecodeValues(req.Query)
	case core.MethodPost:
		return DecodeValues(req.Form)
	case core.MethodPut:
		values, err := url.ParseQuery(string(req.Body))
		if err != nil {
			return map[string]any{}
		}
		return DecodeValues(values)
	case core.MethodJSON, core.MethodPostJSON, core.MethodPutJSON:
		var decoded map[string]any
		if err := json.Unmarshal(req.Body, &decoded); err != nil || decoded == nil {
			return DecodeValues(req.Form)
		}
		return decoded
	default:
		return map[string]any{}
	}
}

// DecodeValues turns bracketed form keys into a tree: client[email]=x
// becomes {"client":{"email":"x"}} and tags[]=a&tags[]=b becomes
// {"tags":["a","b"]}. A repeated plain key keeps its last value.
func DecodeValues(values url.Values) map[string]any {
	if len(values) == 0 {
		return map[string]any{}
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	flat := map[string]any{}
	counters := map[string]int{}
	for _, key := range keys {
		segments := splitKey(key)
		if len(segments) == 0 {
			continue
		}
		for _, value := range values[key] {
			path := make([]string, 0, len(segments))
			for idx, segment := range segments {
				if segment == "" && idx > 0 {
					prefix := strings.Join(path, mapping.Separator)
					segment = strconv.Itoa(counters[prefix])
					counters[prefix]++
				}
				path = append(path, segment)
			}
			flat[strings.Join(path, mapping.Separator)] = value
		}
	}
	return mapping.Unflatten(flat)
}

func splitKey(key string) []string {
	key = strings.TrimSpace(key)
	open := strings.Index(key, "[")
	if open <= 0 || !strings.HasSuffix(key, "]") {
		if key == "" {
			return nil
		}
		return []string{key}
	}
	segments := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return []string{key}
		}
		end := strings.Index(rest, "]")
		if end < 0 {
			return []string{key}
		}
		segments = append(segments, rest[1:end])
		rest = rest[end+1:]
	}
	return segments
}
