package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/mapping"
)

const (
	HeaderWebhookID   = "X-Webhook-Id"
	HeaderUserAgent   = "User-Agent"
	HeaderContentType = "Content-Type"

	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
)

// Request describes one outbound webhook call.
type Request struct {
	WebhookID string
	Event     string
	Method    core.Method
	Callback  string
	// Fields is the mapped payload tree.
	Fields  map[string]any
	Headers map[string]string
}

// EncodeForm encodes a payload tree the way HTML forms nest values:
// client[email]=..&tags[0]=..
func EncodeForm(tree map[string]any) url.Values {
	values := url.Values{}
	for key, value := range tree {
		encodeFormValue(values, key, value)
	}
	return values
}

func encodeFormValue(values url.Values, key string, value any) {
	switch typed := value.(type) {
	case map[string]any:
		for child, item := range typed {
			encodeFormValue(values, key+"["+child+"]", item)
		}
	case []any:
		for index, item := range typed {
			encodeFormValue(values, key+"["+strconv.Itoa(index)+"]", item)
		}
	default:
		values.Add(key, mapping.Stringify(value))
	}
}

// QueryURL appends the encoded fields to callback. An empty field set leaves
// callback unchanged.
func QueryURL(callback string, fields map[string]any) string {
	callback = strings.TrimSpace(callback)
	if len(fields) == 0 {
		return callback
	}
	encoded := EncodeForm(fields).Encode()
	if encoded == "" {
		return callback
	}
	separator := "?"
	if strings.Contains(callback, "?") {
		separator = "&"
	}
	return callback + separator + encoded
}

// BuildHTTPRequest shapes req for the wire: GET carries fields in the query
// string, post/put send a form body and the json variants a JSON body.
func BuildHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method, err := core.ParseMethod(string(req.Method))
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: unsupported webhook method", http.StatusBadRequest, map[string]any{
			"method": string(req.Method),
		})
	}
	callback := strings.TrimSpace(req.Callback)
	parsed, err := url.Parse(callback)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: invalid callback url", http.StatusBadRequest, map[string]any{
			"callback": callback,
		})
	}

	target := callback
	var body []byte
	contentType := ""
	switch {
	case method == core.MethodGet:
		target = QueryURL(callback, req.Fields)
	case method.IsJSON():
		fields := req.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		body, err = json.Marshal(fields)
		if err != nil {
			return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: encode json body", http.StatusBadRequest, nil)
		}
		contentType = ContentTypeJSON
	default:
		body = []byte(EncodeForm(req.Fields).Encode())
		contentType = ContentTypeForm
	}

	httpReq, err := http.NewRequestWithContext(ctx, method.Verb(), target, bytes.NewReader(body))
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: create http request", http.StatusBadRequest, map[string]any{
			"method": method.Verb(),
			"url":    target,
		})
	}
	if contentType != "" {
		httpReq.Header.Set(HeaderContentType, contentType)
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if id := strings.TrimSpace(req.WebhookID); id != "" {
		httpReq.Header.Set(HeaderWebhookID, id)
	}
	return httpReq, nil
}
