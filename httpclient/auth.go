package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthType identifies the authentication method.
type AuthType int

const (
	// AuthNone disables authentication.
	AuthNone AuthType = iota
	// AuthBasic uses HTTP Basic authentication.
	AuthBasic
	// AuthBearer sends a fixed bearer token.
	AuthBearer
	// AuthJWT signs a fresh HS256 token per request.
	AuthJWT
	// AuthCustom uses a custom request modifier.
	AuthCustom
)

// AuthConfig configures request authentication.
type AuthConfig struct {
	Type AuthType

	// Username and Password are used by AuthBasic.
	Username string
	Password string

	// Token is used by AuthBearer.
	Token string

	// JWT settings. Subject is the user name, Roles are placed in
	// RolesClaim, the token is signed with Secret and valid for TTL.
	Subject    string
	Roles      []string
	RolesClaim string
	Secret     []byte
	KeyID      string
	TTL        time.Duration

	// Apply modifies the request (AuthCustom).
	Apply func(*http.Request)
}

// BasicAuth creates a basic auth config.
func BasicAuth(username, password string) *AuthConfig {
	return &AuthConfig{Type: AuthBasic, Username: username, Password: password}
}

// BearerAuth creates a bearer token auth config.
func BearerAuth(token string) *AuthConfig {
	return &AuthConfig{Type: AuthBearer, Token: token}
}

// JWTAuth creates an auth config that signs an HS256 token for subject on
// every request. Roles go into the "_couchdb.roles" claim, which is where
// CouchDB's JWT handler reads them.
func JWTAuth(subject string, secret []byte, roles ...string) *AuthConfig {
	return &AuthConfig{
		Type:       AuthJWT,
		Subject:    subject,
		Roles:      roles,
		RolesClaim: "_couchdb.roles",
		Secret:     secret,
		TTL:        5 * time.Minute,
	}
}

// CustomAuth creates a custom auth config.
func CustomAuth(fn func(*http.Request)) *AuthConfig {
	return &AuthConfig{Type: AuthCustom, Apply: fn}
}

func (a *AuthConfig) validate() error {
	switch a.Type {
	case AuthJWT:
		if a.Subject == "" || len(a.Secret) == 0 {
			return fmt.Errorf("httpclient: jwt auth needs a subject and a secret")
		}
	case AuthBasic:
		if a.Username == "" {
			return fmt.Errorf("httpclient: basic auth needs a username")
		}
	}
	return nil
}

// apply authenticates req.
func (a *AuthConfig) apply(req *http.Request) error {
	if a == nil {
		return nil
	}
	switch a.Type {
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthJWT:
		token, err := a.signJWT(time.Now())
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case AuthCustom:
		if a.Apply != nil {
			a.Apply(req)
		}
	}
	return nil
}

func (a *AuthConfig) signJWT(now time.Time) (string, error) {
	ttl := a.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	claims := jwt.MapClaims{
		"sub": a.Subject,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	if len(a.Roles) > 0 {
		claim := a.RolesClaim
		if claim == "" {
			claim = "roles"
		}
		claims[claim] = a.Roles
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if a.KeyID != "" {
		token.Header["kid"] = a.KeyID
	}
	signed, err := token.SignedString(a.Secret)
	if err != nil {
		return "", fmt.Errorf("httpclient: sign jwt: %w", err)
	}
	return signed, nil
}
