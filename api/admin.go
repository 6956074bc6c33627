package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tcriess/lightspeed-rooms/types"
)

func (a *API) listRooms(w http.ResponseWriter, r *http.Request, caller *types.Caller) {
	rooms, err := a.Admin.ListRooms(r.Context(), caller)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

func (a *API) listParticipants(w http.ResponseWriter, r *http.Request, caller *types.Caller) {
	participants, err := a.Admin.ListParticipants(r.Context(), caller, mux.Vars(r)["room"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"participants": participants})
}

func (a *API) removeParticipant(w http.ResponseWriter, r *http.Request, caller *types.Caller) {
	vars := mux.Vars(r)
	if err := a.Admin.RemoveParticipant(r.Context(), caller, vars["room"], vars["identity"]); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type muteRequest struct {
	TrackSid string `json:"track_sid"`
	Muted    *bool  `json:"muted"`
}

func (a *API) muteParticipant(w http.ResponseWriter, r *http.Request, caller *types.Caller) {
	req := muteRequest{}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %s", err))
		return
	}
	muted := true
	if req.Muted != nil {
		muted = *req.Muted
	}
	vars := mux.Vars(r)
	tracks, err := a.Admin.MuteParticipant(r.Context(), caller, vars["room"], vars["identity"], req.TrackSid, muted)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tracks": tracks})
}

func (a *API) deleteRoom(w http.ResponseWriter, r *http.Request, caller *types.Caller) {
	if err := a.Admin.DeleteRoom(r.Context(), caller, mux.Vars(r)["room"]); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
