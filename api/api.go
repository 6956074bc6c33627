// Package api exposes the coordinator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tcriess/lightspeed-rooms/admin"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/gateway"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/presence"
	"github.com/tcriess/lightspeed-rooms/rooms"
)

const maxBodySize = 1 << 20

// API wires the HTTP routes to the coordinator components. Verifier may be nil to accept unsigned
// webhooks (development only). Gatherer may be nil to omit /metrics.
type API struct {
	Authenticator auth.Authenticator
	Verifier      *auth.WebhookVerifier
	Ingestor      *presence.Ingestor
	Rooms         *rooms.Coordinator
	Admin         *admin.Surface
	Gatherer      prometheus.Gatherer

	logger hclog.Logger
}

func (a *API) Router() *mux.Router {
	a.logger = globals.AppLogger.Named("api")
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	if a.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/webhook", a.webhook).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{room}/token", a.withCaller(a.token)).Methods(http.MethodPost)

	adminRouter := r.PathPrefix("/admin").Subrouter()
	adminRouter.HandleFunc("/rooms", a.withCaller(a.listRooms)).Methods(http.MethodGet)
	adminRouter.HandleFunc("/rooms/{room}", a.withCaller(a.deleteRoom)).Methods(http.MethodDelete)
	adminRouter.HandleFunc("/rooms/{room}/participants", a.withCaller(a.listParticipants)).Methods(http.MethodGet)
	adminRouter.HandleFunc("/rooms/{room}/participants/{identity}", a.withCaller(a.removeParticipant)).Methods(http.MethodDelete)
	adminRouter.HandleFunc("/rooms/{room}/participants/{identity}/mute", a.withCaller(a.muteParticipant)).Methods(http.MethodPost)
	return r
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]string{"message": msg}})
}

// statusFor maps component errors to HTTP status codes.
func statusFor(err error) int {
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, admin.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, admin.ErrNotFound), gateway.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, rooms.ErrInvalidRoomName), errors.Is(err, rooms.ErrMissingIdentity):
		return http.StatusBadRequest
	case errors.As(err, &gwErr), errors.Is(err, gateway.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		a.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}
