package audit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetperm/pkg/contextkeys"
	"github.com/platinummonkey/assetperm/pkg/httputil"
)

// Handlers exposes the audit read interface over HTTP. There are no write routes.
type Handlers struct {
	reader Reader
}

// NewHandlers creates new audit handlers
func NewHandlers(reader Reader) *Handlers {
	return &Handlers{reader: reader}
}

// RegisterRoutes registers audit routes. The organization is read from the
// request context, see contextkeys.OrganizationIDKey.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/logs", h.listEntries).Methods("GET")
	router.HandleFunc("/audit/logs/{id}", h.getEntry).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEntries).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
}

func organization(w http.ResponseWriter, r *http.Request) (string, bool) {
	org := contextkeys.GetOrganizationID(r.Context())
	if org == "" {
		httputil.WriteBadRequest(w, "organization is required")
		return "", false
	}
	return org, true
}

// listEntries handles GET /audit/logs
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r, org)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.reader.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// getEntry handles GET /audit/logs/{id}
func (h *Handlers) getEntry(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.reader.Get(r.Context(), org, id)
	if errors.Is(err, ErrEntryNotFound) {
		httputil.WriteNotFoundError(w, "audit entry not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, entry)
}

// exportEntries handles GET /audit/export
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r, org)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	data, err := Export(r.Context(), h.reader, filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=permission-audit.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=permission-audit.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=permission-audit.json")
	}
	w.Write(data)
}

// getStats handles GET /audit/stats. Without a range the trailing 24 hours are counted.
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}

	since, err := parseTime(r, "start_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	until, err := parseTime(r, "end_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if since == nil && until == nil {
		window := 24 * time.Hour
		if raw := r.URL.Query().Get("window"); raw != "" {
			window, err = time.ParseDuration(raw)
			if err != nil || window <= 0 {
				httputil.WriteBadRequest(w, "invalid window")
				return
			}
		}
		start := time.Now().UTC().Add(-window)
		since = &start
	}

	stats, err := h.reader.Stats(r.Context(), org, since, until)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

func parseTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New("invalid " + key + ", expected RFC3339")
	}
	return &t, nil
}

// parseFilter parses a search filter from query parameters
func parseFilter(r *http.Request, org string) (Filter, error) {
	query := r.URL.Query()
	filter := Filter{
		OrganizationID: org,
		Actor:          query.Get("actor"),
		TargetUser:     query.Get("target_user"),
		TargetType:     TargetType(query.Get("target_type")),
		ContentType:    query.Get("content_type"),
		ObjectID:       query.Get("object_id"),
		Result:         Result(query.Get("result")),
		Limit:          DefaultLimit,
	}

	var err error
	if filter.StartTime, err = parseTime(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTime(r, "end_time"); err != nil {
		return filter, err
	}

	if raw := query.Get("operation_types"); raw != "" {
		for _, op := range strings.Split(raw, ",") {
			if op = strings.TrimSpace(op); op != "" {
				filter.OperationTypes = append(filter.OperationTypes, OperationType(op))
			}
		}
	}

	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = n
	}
	if raw := query.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, errors.New("invalid offset")
		}
		filter.Offset = n
	}
	return filter, nil
}
