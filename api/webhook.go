package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tcriess/lightspeed-rooms/presence"
	"github.com/tcriess/lightspeed-rooms/types"
)

// webhook acknowledges every event that was handled or deliberately skipped. Only store failures
// answer 500 so that the backend redelivers.
func (a *API) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if a.Verifier != nil {
		if err := a.Verifier.Verify(r.Header.Get("Authorization"), body); err != nil {
			a.logger.Warn("rejected webhook", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}
	ev := &types.WebhookEvent{}
	if err := json.Unmarshal(body, ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	if ev.Event == "" {
		writeError(w, http.StatusBadRequest, "invalid event: missing event kind")
		return
	}
	res := a.Ingestor.Handle(r.Context(), ev)
	if res.Outcome == presence.Failed {
		writeError(w, http.StatusInternalServerError, "could not handle event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"event": res.Event, "outcome": res.Outcome.String()})
}
