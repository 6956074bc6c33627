package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
)

const (
	HeaderAuthProvider = "X-Auth-Provider"
	HeaderUserID       = "X-User-ID"
	HeaderUserName     = "X-User-Name"
	HeaderUserRole     = "X-User-Role"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the caller of an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (*types.Caller, error)
}

// NewAuthenticator verifies OIDC ID tokens if providers are configured. Without providers the
// coordinator is expected to sit behind a gateway that authenticates users and forwards them in
// X-User-* headers.
func NewAuthenticator(ctx context.Context, cfgs []config.OIDCConfig) (Authenticator, error) {
	if len(cfgs) == 0 {
		globals.AppLogger.Warn("no oidc provider configured, trusting X-User-* headers")
		return HeaderAuthenticator{}, nil
	}
	return NewOIDCAuthenticator(ctx, cfgs)
}

// HeaderAuthenticator trusts identity headers set by an upstream gateway.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (*types.Caller, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrUnauthenticated, HeaderUserID)
	}
	return &types.Caller{
		Id:   id,
		Name: r.Header.Get(HeaderUserName),
		Role: types.ParseRole(r.Header.Get(HeaderUserRole)),
	}, nil
}

// OIDCAuthenticator verifies bearer ID tokens against the configured providers. The role is taken from
// the "role" claim.
type OIDCAuthenticator struct {
	verifiers map[string]*oidc.IDTokenVerifier
	fallback  string // used when the request does not name a provider and only one is configured
}

func NewOIDCAuthenticator(ctx context.Context, cfgs []config.OIDCConfig) (*OIDCAuthenticator, error) {
	a := &OIDCAuthenticator{verifiers: make(map[string]*oidc.IDTokenVerifier, len(cfgs))}
	for _, c := range cfgs {
		provider, err := oidc.NewProvider(ctx, c.ProviderUrl)
		if err != nil {
			return nil, fmt.Errorf("oidc provider %s: %w", c.Name, err)
		}
		conf := oidc.Config{}
		if c.ClientId == "" {
			conf.SkipClientIDCheck = true
		} else {
			conf.ClientID = c.ClientId
		}
		a.verifiers[c.Name] = provider.Verifier(&conf)
	}
	if len(cfgs) == 1 {
		a.fallback = cfgs[0].Name
	}
	return a, nil
}

func (a *OIDCAuthenticator) Authenticate(r *http.Request) (*types.Caller, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") || len(authHeader) <= len("Bearer ") {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	providerName := r.Header.Get(HeaderAuthProvider)
	if providerName == "" {
		providerName = a.fallback
	}
	verifier, ok := a.verifiers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrUnauthenticated, providerName)
	}
	idToken, err := verifier.Verify(r.Context(), strings.TrimSpace(authHeader[len("Bearer "):]))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnauthenticated, err)
	}
	claims := struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Role  string `json:"role"`
	}{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnauthenticated, err)
	}
	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	return &types.Caller{Id: idToken.Subject, Name: name, Role: types.ParseRole(claims.Role)}, nil
}
