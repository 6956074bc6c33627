package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tcriess/lightspeed-rooms/rooms"
	"github.com/tcriess/lightspeed-rooms/types"
)

type callerHandler func(w http.ResponseWriter, r *http.Request, caller *types.Caller)

func (a *API) withCaller(h callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.Authenticator.Authenticate(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		h(w, r, caller)
	}
}

type tokenRequest struct {
	DisplayName string `json:"display_name"`
	IsHost      bool   `json:"is_host"`
	TTLSeconds  int64  `json:"ttl_seconds"`
}

// decodeOptional decodes a JSON body into v; an empty body leaves v untouched.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (a *API) token(w http.ResponseWriter, r *http.Request, caller *types.Caller) {
	req := tokenRequest{}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %s", err))
		return
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = caller.Name
	}
	res, err := a.Rooms.Join(r.Context(), rooms.JoinRequest{
		RoomName:    mux.Vars(r)["room"],
		Identity:    caller.Id,
		DisplayName: displayName,
		Role:        caller.Role,
		IsHost:      req.IsHost,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
