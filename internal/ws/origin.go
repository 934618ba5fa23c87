package ws

import (
	"net/http"
	"strings"
)

// OriginChecker validates the Origin header of websocket upgrades against a
// fixed allow list.
type OriginChecker struct {
	allowed []string
}

// NewOriginChecker parses a comma separated list such as ALLOWED_ORIGINS.
func NewOriginChecker(raw string) *OriginChecker {
	oc := &OriginChecker{}
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			oc.allowed = append(oc.allowed, o)
		}
	}
	return oc
}

// Check is usable as websocket.Upgrader.CheckOrigin. Requests without an
// Origin header come from non-browser clients and are accepted.
func (oc *OriginChecker) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range oc.allowed {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
