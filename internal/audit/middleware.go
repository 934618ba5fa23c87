package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Syaminata/ticketaf-sub000/internal/auth"
)

// Option configures Middleware.
type Option func(*options)

type options struct {
	partialRoutes map[string]bool
}

// WithPartialRoutes also records 502 and 503 responses on the given route
// templates. Those routes may have persisted part of their work before
// failing, and the response body's message_id is kept in the entry.
func WithPartialRoutes(templates ...string) Option {
	return func(o *options) {
		for _, t := range templates {
			o.partialRoutes[t] = true
		}
	}
}

// maxCapturedBody bounds the response bytes kept to read message_id.
const maxCapturedBody = 4 << 10

// Middleware records successful write operations (POST, PUT, DELETE).
func Middleware(store Store, log logrus.FieldLogger, opts ...Option) mux.MiddlewareFunc {
	o := options{partialRoutes: make(map[string]bool)}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			route := routeOf(r)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK, capture: o.partialRoutes[route]}
			next.ServeHTTP(rec, r)

			partial := rec.capture && (rec.status == http.StatusBadGateway || rec.status == http.StatusServiceUnavailable)
			if rec.status >= 400 && !partial {
				return
			}

			var userID *string
			if uid := auth.UserIDFromContext(r.Context()); uid != "" {
				userID = &uid
			}

			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"remote_addr": r.RemoteAddr,
			}
			if id := mux.Vars(r)["id"]; id != "" {
				fields["message_id"] = id
			}
			if key := r.Header.Get("Idempotency-Key"); key != "" {
				fields["idempotency_key"] = key
			}
			if partial {
				fields["outcome"] = "partial"
				var body struct {
					MessageID string `json:"message_id"`
				}
				if json.Unmarshal(rec.body.Bytes(), &body) == nil && body.MessageID != "" {
					fields["message_id"] = body.MessageID
				}
			}
			details, _ := json.Marshal(fields)

			action := strings.ToLower(r.Method) + " " + route

			// The request context may already be cancelled once the response
			// is written.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
			defer cancel()
			if err := store.Insert(ctx, userID, action, r.URL.Path, details); err != nil {
				log.WithError(err).WithField("action", action).Warn("audit: failed to record entry")
			}
		})
	}
}

// routeOf returns the mux path template so actions group by endpoint.
func routeOf(r *http.Request) string {
	if cr := mux.CurrentRoute(r); cr != nil {
		if tpl, err := cr.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// statusRecorder wraps http.ResponseWriter to capture the status code and,
// when capture is set, the head of the body.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	capture bool
	body    bytes.Buffer
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.capture && r.body.Len() < maxCapturedBody {
		r.body.Write(p[:min(len(p), maxCapturedBody-r.body.Len())])
	}
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
