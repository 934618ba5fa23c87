package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Syaminata/ticketaf-sub000/internal/httputil"
)

// Handlers provides HTTP handlers for the audit log.
type Handlers struct {
	store Store
}

func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes wires the audit log endpoint. r must enforce the admin role.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/admin/audit-log", h.List).Methods("GET")
}

// List handles GET /api/admin/audit-log with query filters and pagination.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	params := ListParams{
		UserID: q.Get("user_id"),
		Action: q.Get("action"),
		Limit:  limit,
		Offset: offset,
	}
	for name, dst := range map[string]**time.Time{"from_date": &params.From, "to_date": &params.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, name+" must be RFC 3339")
			return
		}
		*dst = &t
	}
	params.normalize()

	entries, total, err := h.store.List(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   params.Limit,
		"offset":  params.Offset,
	})
}
