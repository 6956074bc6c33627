package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-rooms/types"
)

const (
	defaultTokenTTL = 6 * time.Hour
	serviceTokenTTL = time.Minute
)

var ErrMissingCredentials = errors.New("api key and secret are required")

// VideoGrant is the capability set encoded into a credential, in the layout the media backend expects.
type VideoGrant struct {
	RoomCreate     bool   `json:"roomCreate,omitempty"`
	RoomList       bool   `json:"roomList,omitempty"`
	RoomAdmin      bool   `json:"roomAdmin,omitempty"`
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	Room           string `json:"room,omitempty"`
	CanPublish     bool   `json:"canPublish,omitempty"`
	CanSubscribe   bool   `json:"canSubscribe,omitempty"`
	CanPublishData bool   `json:"canPublishData,omitempty"`
}

// Claims are the JWT claims of an access token. Sha256 is only set on webhook tokens.
type Claims struct {
	jwt.StandardClaims
	Name       string            `json:"name,omitempty"`
	Video      *VideoGrant       `json:"video,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Sha256     string            `json:"sha256,omitempty"`
}

// TokenRequest describes a participant credential.
type TokenRequest struct {
	RoomName    string
	Identity    string
	DisplayName string
	Role        types.Role
	IsHost      bool
	TTL         time.Duration
}

// GrantFor computes the capabilities of a participant. Students never get create or admin rights,
// teachers get admin rights only when they ask to host, admins always get them.
func GrantFor(roomName string, role types.Role, isHost bool) VideoGrant {
	role = types.ParseRole(string(role))
	return VideoGrant{
		RoomJoin:       true,
		Room:           roomName,
		CanPublish:     true,
		CanSubscribe:   true,
		CanPublishData: true,
		RoomCreate:     role != types.RoleStudent,
		RoomAdmin:      role == types.RoleAdmin || (isHost && role != types.RoleStudent),
	}
}

// TokenIssuer signs credentials for the media backend with the API key pair (HS256).
type TokenIssuer struct {
	apiKey     string
	apiSecret  []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer fails when the key pair is incomplete, so a misconfigured process never starts issuing.
func NewTokenIssuer(apiKey, apiSecret string, defaultTTL time.Duration) (*TokenIssuer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, ErrMissingCredentials
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultTokenTTL
	}
	return &TokenIssuer{
		apiKey:     apiKey,
		apiSecret:  []byte(apiSecret),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

// Issue builds a participant credential for req.
func (i *TokenIssuer) Issue(req TokenRequest) (string, error) {
	if req.Identity == "" {
		return "", errors.New("identity is required")
	}
	if req.RoomName == "" {
		return "", errors.New("room name is required")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = i.defaultTTL
	}
	grant := GrantFor(req.RoomName, req.Role, req.IsHost)
	claims := i.claims(req.Identity, ttl)
	claims.Name = req.DisplayName
	claims.Video = &grant
	claims.Attributes = map[string]string{"role": string(types.ParseRole(string(req.Role)))}
	return i.sign(claims)
}

// ServiceToken signs a short lived token carrying grant, used to authorize gateway calls.
func (i *TokenIssuer) ServiceToken(grant VideoGrant) (string, error) {
	claims := i.claims("", serviceTokenTTL)
	claims.Video = &grant
	return i.sign(claims)
}

func (i *TokenIssuer) claims(identity string, ttl time.Duration) *Claims {
	now := i.now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.NewString(),
			Issuer:    i.apiKey,
			Subject:   identity,
			NotBefore: now.Unix(),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
}

func (i *TokenIssuer) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.apiSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token signed with the issuer's secret and returns its claims.
func (i *TokenIssuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return i.apiSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if !claims.VerifyIssuer(i.apiKey, true) {
		return nil, errors.New("invalid issuer")
	}
	return claims, nil
}
