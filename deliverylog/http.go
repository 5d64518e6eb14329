package deliverylog

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
	"github.com/gorilla/mux"
)

// StaffIDHeader names the acting staff member on replay requests.
const StaffIDHeader = "X-Staff-ID"

const dateLayout = "2006-01-02"

// Handlers exposes delivery log listings and replay over HTTP.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts, under prefix:
//
//	GET  /logs
//	GET  /logs/{id}
//	POST /logs/{id}/replay
//	GET  /webhooks/{webhook}/logs
func (h *Handlers) RegisterRoutes(router *mux.Router, prefix string) {
	sub := router
	if prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/"); prefix != "/" {
		sub = router.PathPrefix(prefix).Subrouter()
	}
	sub.HandleFunc("/logs", h.list).Methods(http.MethodGet)
	sub.HandleFunc("/logs/{id}", h.get).Methods(http.MethodGet)
	sub.HandleFunc("/logs/{id}/replay", h.replay).Methods(http.MethodPost)
	sub.HandleFunc("/webhooks/{webhook}/logs", h.listByWebhook).Methods(http.MethodGet)
}

type logView struct {
	ID            string          `json:"id"`
	StaffID       string          `json:"staff_id,omitempty"`
	WebhookID     string          `json:"webhook_id"`
	Type          string          `json:"type"`
	Event         string          `json:"event"`
	Fields        json.RawMessage `json:"fields"`
	Response      string          `json:"response"`
	HTTPResponse  int             `json:"http_response"`
	DateTriggered time.Time       `json:"date_triggered"`
	DateLastRetry *time.Time      `json:"date_last_retry,omitempty"`
	Callback      string          `json:"callback,omitempty"`
	Method        string          `json:"method,omitempty"`
}

type pageView struct {
	Items   []logView `json:"items"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
	Total   int       `json:"total"`
	HasNext bool      `json:"has_next"`
}

type replayView struct {
	Log      logView        `json:"log"`
	Returned map[string]any `json:"returned,omitempty"`
}

type errorView struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	TextCode string         `json:"text_code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.service.ListAll(r.Context(), filter, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageView(result))
}

func (h *Handlers) listByWebhook(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.service.ListByWebhook(r.Context(), mux.Vars(r)["webhook"], page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageView(result))
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogView(entry))
}

func (h *Handlers) replay(w http.ResponseWriter, r *http.Request) {
	staffID := strings.TrimSpace(r.Header.Get(StaffIDHeader))
	result, err := h.service.Replay(r.Context(), mux.Vars(r)["id"], staffID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replayView{Log: toLogView(result.Log), Returned: result.Returned})
}

func parseFilter(r *http.Request) (core.DeliveryLogFilter, error) {
	query := r.URL.Query()
	filter := core.DeliveryLogFilter{
		WebhookID: strings.TrimSpace(query.Get("webhook_id")),
		Event:     strings.TrimSpace(query.Get("event")),
	}
	if raw := strings.TrimSpace(query.Get("http_response")); raw != "" {
		status, err := strconv.Atoi(raw)
		if err != nil {
			return filter, badParam("http_response", "http_response must be an integer")
		}
		filter.HTTPResponse = status
	}
	for param, target := range map[string]**time.Time{
		"date_start": &filter.DateStart,
		"date_end":   &filter.DateEnd,
	} {
		raw := strings.TrimSpace(query.Get(param))
		if raw == "" {
			continue
		}
		day, err := time.ParseInLocation(dateLayout, raw, time.UTC)
		if err != nil {
			return filter, badParam(param, param+" must be formatted YYYY-MM-DD")
		}
		*target = &day
	}
	return filter, nil
}

func parsePage(r *http.Request) (core.PageRequest, error) {
	query := r.URL.Query()
	page := core.PageRequest{Order: core.SortOrder(strings.TrimSpace(query.Get("order")))}
	for param, target := range map[string]*int{"page": &page.Page, "per_page": &page.PerPage} {
		raw := strings.TrimSpace(query.Get(param))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return page, badParam(param, param+" must be a non-negative integer")
		}
		*target = value
	}
	return page, nil
}

func badParam(field string, message string) error {
	return core.NewWebhookError(message, goerrors.CategoryBadInput, core.WebhookErrorBadInput, map[string]any{
		"field": field,
	})
}

func toPageView(page core.DeliveryLogPage) pageView {
	items := make([]logView, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, toLogView(entry))
	}
	return pageView{
		Items:   items,
		Page:    page.Page,
		PerPage: page.PerPage,
		Total:   page.Total,
		HasNext: page.HasNext,
	}
}

func toLogView(entry core.DeliveryLog) logView {
	fields := entry.Fields
	if len(fields) == 0 {
		fields = json.RawMessage("{}")
	}
	return logView{
		ID:            entry.ID,
		StaffID:       entry.StaffID,
		WebhookID:     entry.WebhookID,
		Type:          string(entry.Type),
		Event:         entry.Event,
		Fields:        fields,
		Response:      entry.Response,
		HTTPResponse:  entry.HTTPResponse,
		DateTriggered: entry.DateTriggered,
		DateLastRetry: entry.DateLastRetry,
		Callback:      entry.Callback,
		Method:        string(entry.Method),
	}
}

func writeError(w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	status := mapped.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	body := errorBody{TextCode: mapped.TextCode, Message: mapped.Message}
	if status < http.StatusInternalServerError {
		body.Metadata = mapped.Metadata
	}
	writeJSON(w, status, errorView{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
