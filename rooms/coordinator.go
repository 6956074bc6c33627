// Package rooms hands out join credentials and keeps the local room record in step with them.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/folkengine/goname"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/metrics"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/types"
)

var (
	ErrInvalidRoomName = errors.New("invalid room name")
	ErrMissingIdentity = errors.New("identity is required")
)

var roomNameRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,127}$`)

// Issuer signs participant credentials.
type Issuer interface {
	Issue(req auth.TokenRequest) (string, error)
}

type JoinRequest struct {
	RoomName    string
	Identity    string
	DisplayName string
	Role        types.Role
	IsHost      bool
	TTL         time.Duration
}

type JoinResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type Coordinator struct {
	store   persistence.RoomStore
	issuer  Issuer
	url     string
	metrics *metrics.Metrics
	logger  hclog.Logger
	now     func() time.Time
}

// NewCoordinator creates a coordinator handing out credentials for the media backend at url.
func NewCoordinator(store persistence.RoomStore, issuer Issuer, url string, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		store:   store,
		issuer:  issuer,
		url:     url,
		metrics: m,
		logger:  globals.AppLogger.Named("rooms"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func ValidRoomName(name string) bool {
	return roomNameRegexp.MatchString(name)
}

// Join issues a credential for req. The first joiner of an unknown room becomes its creator, and a
// joiner whose credential carries admin rights takes the chair if it is vacant.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	if !ValidRoomName(req.RoomName) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoomName, req.RoomName)
	}
	if req.Identity == "" {
		return nil, ErrMissingIdentity
	}
	role := types.ParseRole(string(req.Role))
	displayName := req.DisplayName
	if displayName == "" {
		displayName = goname.New(goname.FantasyMap).FirstLast() + " (guest)"
	}
	grant := auth.GrantFor(req.RoomName, role, req.IsHost)

	room := &types.Room{
		RoomName:  req.RoomName,
		CreatedBy: types.Identity{Identity: req.Identity, Name: displayName, Role: role},
		CreatedAt: c.now(),
	}
	if grant.RoomAdmin {
		host := req.Identity
		room.CurrentHostID = &host
	}
	created, err := c.store.CreateRoom(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	if created {
		c.logger.Info("room created", "room", req.RoomName, "creator", req.Identity, "host", grant.RoomAdmin)
	} else if grant.RoomAdmin {
		claimed, err := c.store.ClaimHost(ctx, req.RoomName, req.Identity)
		if err != nil {
			return nil, fmt.Errorf("claim host: %w", err)
		}
		if claimed {
			c.logger.Info("host claimed", "room", req.RoomName, "host", req.Identity)
		}
	}

	token, err := c.issuer.Issue(auth.TokenRequest{
		RoomName:    req.RoomName,
		Identity:    req.Identity,
		DisplayName: displayName,
		Role:        role,
		IsHost:      req.IsHost,
		TTL:         req.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	if c.metrics != nil {
		c.metrics.TokensIssued.WithLabelValues(string(role)).Inc()
	}
	return &JoinResponse{Token: token, URL: c.url}, nil
}
