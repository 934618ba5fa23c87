package notifications

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Syaminata/ticketaf-sub000/internal/auth"
	"github.com/Syaminata/ticketaf-sub000/internal/httputil"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handlers provides HTTP handlers for the notifications API.
type Handlers struct {
	engine     *Engine
	tracker    *Tracker
	aggregator *Aggregator
	store      Store
	log        logrus.FieldLogger
}

func NewHandlers(engine *Engine, tracker *Tracker, aggregator *Aggregator, store Store, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		engine:     engine,
		tracker:    tracker,
		aggregator: aggregator,
		store:      store,
		log:        log,
	}
}

// RegisterAdminRoutes wires the console endpoints. r must already enforce
// the admin role.
func (h *Handlers) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/api/admin/notifications/send", h.Send).Methods("POST")
	r.HandleFunc("/api/admin/notifications/history", h.AdminHistory).Methods("GET")
	r.HandleFunc("/api/admin/notifications/stats", h.Stats).Methods("GET")
	r.HandleFunc("/api/admin/notifications/{id}/redeliver", h.Redeliver).Methods("POST")
}

// RegisterRoutes wires the recipient endpoints for any authenticated user.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/notifications", h.ListNotifications).Methods("GET")
	r.HandleFunc("/api/notifications/unread-count", h.UnreadCount).Methods("GET")
	r.HandleFunc("/api/notifications/read", h.MarkReadFor).Methods("POST")
	r.HandleFunc("/api/notifications/read-all", h.MarkAllRead).Methods("PUT")
	r.HandleFunc("/api/notifications/{id}/read", h.MarkRead).Methods("PUT")
}

type sendRequest struct {
	TargetType  string `json:"target_type" validate:"required,oneof=all role user"`
	TargetValue string `json:"target_value" validate:"max=128"`
	Title       string `json:"title" validate:"required,max=200"`
	Body        string `json:"body" validate:"required,max=4000"`
	Type        string `json:"type" validate:"omitempty,oneof=normal system announcement"`
}

type sendResponse struct {
	MessageID      string `json:"message_id"`
	SentCount      int    `json:"sent_count"`
	Created        int    `json:"created"`
	AlreadyExisted int    `json:"already_existed"`
	EmptyAudience  bool   `json:"empty_audience,omitempty"`
	Error          string `json:"error,omitempty"`
}

func newSendResponse(res FanoutResult) sendResponse {
	return sendResponse{
		MessageID:      res.MessageID,
		SentCount:      res.SentCount(),
		Created:        res.Created,
		AlreadyExisted: res.AlreadyExisted,
		EmptyAudience:  res.SentCount() == 0,
	}
}

// Send handles POST /api/admin/notifications/send
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	target, err := ParseTarget(req.TargetType, req.TargetValue)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg := Message{
		Title:          req.Title,
		Body:           req.Body,
		Kind:           Kind(req.Type),
		SenderRole:     SenderAdmin,
		SenderID:       auth.UserIDFromContext(r.Context()),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}

	res, err := h.engine.Send(r.Context(), msg, target)
	if err != nil {
		h.writeFanoutError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, newSendResponse(res))
}

// Redeliver handles POST /api/admin/notifications/{id}/redeliver
func (h *Handlers) Redeliver(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Redeliver(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeFanoutError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newSendResponse(res))
}

// AdminHistory handles GET /api/admin/notifications/history
func (h *Handlers) AdminHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	params := ListParams{Limit: limit, Offset: offset}
	params.normalize()

	summaries, total, err := h.store.ListMessages(r.Context(), params)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": summaries,
		"total":    total,
		"limit":    params.Limit,
		"offset":   params.Offset,
	})
}

// Stats handles GET /api/admin/notifications/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	var messageID *string
	if id := r.URL.Query().Get("message_id"); id != "" {
		messageID = &id
	}

	stats, err := h.aggregator.Stats(r.Context(), messageID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

type markReadRequest struct {
	MessageID string `json:"message_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
}

// MarkReadFor handles POST /api/notifications/read. Recipients may only mark
// their own deliveries; admins may mark any.
func (h *Handlers) MarkReadFor(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req markReadRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if req.UserID != claims.UserID && !claims.IsAdmin() {
		httputil.WriteError(w, http.StatusForbidden, "cannot mark another user's notification")
		return
	}

	if err := h.tracker.MarkRead(r.Context(), req.MessageID, req.UserID); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListNotifications handles GET /api/notifications
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	cursor, err := decodeCursor(q.Get("cursor"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	entries, next, err := h.tracker.Page(r.Context(), userID, cursor, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := map[string]interface{}{"notifications": entries}
	if next != nil {
		resp["next_cursor"] = encodeCursor(next)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *Handlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.tracker.UnreadCount(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"unread_count": count,
	})
}

// MarkRead handles PUT /api/notifications/{id}/read
func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.tracker.MarkRead(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MarkAllRead handles PUT /api/notifications/read-all
func (h *Handlers) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := h.tracker.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "updated": n})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, ErrRecipientNotFound),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrDeliveryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDirectoryUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error("notifications: request failed")
	}
	httputil.WriteError(w, status, err.Error())
}

// writeFanoutError reports partial counts alongside the error so the caller
// can tell how many recipients were reached.
func (h *Handlers) writeFanoutError(w http.ResponseWriter, err error) {
	var fe *FanoutError
	if !errors.As(err, &fe) {
		h.writeError(w, err)
		return
	}
	status := statusFor(fe.Err)
	h.log.WithError(err).WithField("message_id", fe.MessageID).Error("notifications: partial fan-out")
	resp := newSendResponse(FanoutResult{MessageID: fe.MessageID, Created: fe.Created, AlreadyExisted: fe.AlreadyExisted})
	resp.EmptyAudience = false
	resp.Error = fe.Err.Error()
	httputil.WriteJSON(w, status, resp)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func encodeCursor(c *HistoryCursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + c.MessageID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (*HistoryCursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, errors.New("malformed cursor")
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, err
	}
	return &HistoryCursor{CreatedAt: time.Unix(0, n).UTC(), MessageID: id}, nil
}
