package inbound

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-webhooks/core"
	"github.com/gorilla/mux"
)

// Handlers exposes the trigger endpoint over HTTP.
type Handlers struct {
	resolver     *Resolver
	maxBodyBytes int64
	telemetry    core.Telemetry
}

func NewHandlers(resolver *Resolver, maxBodyBytes int64) *Handlers {
	if maxBodyBytes <= 0 {
		maxBodyBytes = core.DefaultMaxTriggerBodyBytes
	}
	telemetry := core.NewTelemetry("webhooks.inbound.http", nil, nil, nil)
	if resolver != nil {
		telemetry = resolver.telemetry
	}
	return &Handlers{resolver: resolver, maxBodyBytes: maxBodyBytes, telemetry: telemetry}
}

// RegisterRoutes mounts /{company}<prefix>/{token} for every method.
func (h *Handlers) RegisterRoutes(router *mux.Router, prefix string) {
	prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "/" {
		prefix = ""
	}
	router.HandleFunc("/{company}"+prefix+"/{token}", h.trigger)
}

// trigger always answers 200 with a JSON object; callers learn nothing about
// unknown tokens or failing handlers beyond an empty result.
func (h *Handlers) trigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	req, err := h.readTrigger(w, r, vars["company"], vars["token"])
	if err != nil {
		h.telemetry.LogWarn(r.Context(), "trigger request could not be read", map[string]any{
			"company_id": vars["company"],
			"error":      err.Error(),
		})
	}

	out := map[string]any{}
	if err == nil && h.resolver != nil {
		result, triggerErr := h.resolver.HandleTrigger(r.Context(), req)
		if triggerErr != nil {
			h.telemetry.LogError(r.Context(), "trigger failed", map[string]any{
				"company_id": req.CompanyID,
				"error":      triggerErr.Error(),
			})
		}
		if result != nil {
			out = result
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handlers) readTrigger(w http.ResponseWriter, r *http.Request, company string, token string) (TriggerRequest, error) {
	req := TriggerRequest{
		CompanyID:   strings.TrimSpace(company),
		Token:       strings.TrimSpace(token),
		HTTPMethod:  r.Method,
		Query:       r.URL.Query(),
		ContentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return req, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		return req, err
	}
	req.Body = body

	r.Body = io.NopCloser(bytes.NewReader(body))
	if strings.HasPrefix(strings.ToLower(req.ContentType), "multipart/form-data") {
		err = r.ParseMultipartForm(h.maxBodyBytes)
	} else {
		err = r.ParseForm()
	}
	if err == nil {
		req.Form = r.PostForm
	}
	return req, nil
}
