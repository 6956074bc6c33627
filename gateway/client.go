package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/types"
)

const (
	servicePath    = "/twirp/livekit.RoomService/"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 64 * 1024
)

// Client talks to the media backend's Twirp room service with JSON bodies. Every call is bounded by
// the configured timeout, in addition to the caller's context.
type Client struct {
	baseURL    string
	issuer     *auth.TokenIssuer
	httpClient *http.Client
	timeout    time.Duration
}

var _ Gateway = (*Client)(nil)

func NewClient(baseURL string, issuer *auth.TokenIssuer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	// the backend URL is usually given as ws(s):// for clients
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.Replace(baseURL, "ws://", "http://", 1)
	baseURL = strings.Replace(baseURL, "wss://", "https://", 1)
	return &Client{
		baseURL:    baseURL,
		issuer:     issuer,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

func (c *Client) ListRooms(ctx context.Context) ([]types.LiveRoom, error) {
	resp := struct {
		Rooms []types.LiveRoom `json:"rooms"`
	}{}
	if err := c.call(ctx, "ListRooms", auth.VideoGrant{RoomList: true}, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *Client) ListParticipants(ctx context.Context, roomName string) ([]types.LiveParticipant, error) {
	req := struct {
		Room string `json:"room"`
	}{Room: roomName}
	resp := struct {
		Participants []types.LiveParticipant `json:"participants"`
	}{}
	if err := c.call(ctx, "ListParticipants", adminGrant(roomName), req, &resp); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

func (c *Client) DeleteRoom(ctx context.Context, roomName string) error {
	req := struct {
		Room string `json:"room"`
	}{Room: roomName}
	return c.call(ctx, "DeleteRoom", auth.VideoGrant{RoomCreate: true}, req, nil)
}

func (c *Client) RemoveParticipant(ctx context.Context, roomName, identity string) error {
	req := struct {
		Room     string `json:"room"`
		Identity string `json:"identity"`
	}{Room: roomName, Identity: identity}
	return c.call(ctx, "RemoveParticipant", adminGrant(roomName), req, nil)
}

func (c *Client) MutePublishedTrack(ctx context.Context, roomName, identity, trackSid string, muted bool) (*types.LiveTrack, error) {
	req := struct {
		Room     string `json:"room"`
		Identity string `json:"identity"`
		TrackSid string `json:"trackSid"`
		Muted    bool   `json:"muted"`
	}{Room: roomName, Identity: identity, TrackSid: trackSid, Muted: muted}
	resp := struct {
		Track *types.LiveTrack `json:"track"`
	}{}
	if err := c.call(ctx, "MutePublishedTrack", adminGrant(roomName), req, &resp); err != nil {
		return nil, err
	}
	if resp.Track == nil {
		return nil, errors.New("MutePublishedTrack: empty track in reply")
	}
	return resp.Track, nil
}

func adminGrant(roomName string) auth.VideoGrant {
	return auth.VideoGrant{RoomAdmin: true, Room: roomName}
}

func (c *Client) call(ctx context.Context, method string, grant auth.VideoGrant, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.issuer.ServiceToken(grant)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+servicePath+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", method, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := &Error{Status: resp.StatusCode, Code: "unknown"}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		twirpErr := struct {
			Code string `json:"code"`
			Msg  string `json:"msg"`
		}{}
		if json.Unmarshal(raw, &twirpErr) == nil && twirpErr.Code != "" {
			gwErr.Code = twirpErr.Code
			gwErr.Msg = twirpErr.Msg
		} else {
			gwErr.Msg = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("%s: %w", method, gwErr)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}
