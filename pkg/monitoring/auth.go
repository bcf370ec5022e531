package monitoring

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig gates access to the read-only observability API. There are no
// write endpoints in this subsystem — every state mutation happens through
// the ledger — so authentication here only ever answers one question: is
// this caller allowed to read dashboard state.
type AuthConfig struct {
	Enabled    bool         `yaml:"enabled"`
	APIKeyAuth APIKeyConfig `yaml:"api_key"`
	JWTAuth    JWTConfig    `yaml:"jwt"`
}

// APIKeyConfig maps static API keys to the observer label they present as
// in logs (e.g. "ops-dashboard", "grafana").
type APIKeyConfig struct {
	Enabled    bool              `yaml:"enabled"`
	Keys       map[string]string `yaml:"keys"`
	HeaderName string            `yaml:"header_name"` // default: X-API-Key
}

// JWTConfig verifies bearer tokens minted by an external identity provider;
// the aggregator never issues its own JWTs.
type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"` // when set, the token's iss claim must match
}

// AuthManager authenticates requests to the observability API.
type AuthManager struct {
	config    AuthConfig
	jwtSecret []byte
}

// ObserverContext identifies the caller of a read-only observability
// request: either the label attached to its API key, or the subject claim
// of its JWT.
type ObserverContext struct {
	Label  string
	APIKey string
}

// NewAuthManager creates an AuthManager. If JWT auth is enabled with no
// configured secret, a random one is generated for the lifetime of this
// process (tokens must then be minted against it, which is only useful for
// local testing — production deployments should set JWTAuth.Secret).
func NewAuthManager(config AuthConfig) (*AuthManager, error) {
	am := &AuthManager{config: config}

	if config.JWTAuth.Enabled {
		if config.JWTAuth.Secret == "" {
			secret := make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
			}
			am.jwtSecret = secret
		} else {
			am.jwtSecret = []byte(config.JWTAuth.Secret)
		}
	}

	return am, nil
}

// AuthenticateRequest verifies an API key or JWT bearer token on r. When
// auth is disabled it grants anonymous read access, matching the default
// OBSERVABILITY_AUTH_ENABLED=false posture.
func (am *AuthManager) AuthenticateRequest(r *http.Request) (*ObserverContext, error) {
	if !am.config.Enabled {
		return &ObserverContext{Label: "anonymous"}, nil
	}

	if am.config.APIKeyAuth.Enabled {
		if obs, err := am.authenticateAPIKey(r); err == nil {
			return obs, nil
		}
	}

	if am.config.JWTAuth.Enabled {
		if obs, err := am.authenticateJWT(r); err == nil {
			return obs, nil
		}
	}

	return nil, fmt.Errorf("authentication required")
}

func (am *AuthManager) authenticateAPIKey(r *http.Request) (*ObserverContext, error) {
	headerName := am.config.APIKeyAuth.HeaderName
	if headerName == "" {
		headerName = "X-API-Key"
	}

	apiKey := r.Header.Get(headerName)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not provided")
	}

	var label string
	var found bool
	for key, l := range am.config.APIKeyAuth.Keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			label, found = l, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("invalid API key")
	}

	return &ObserverContext{Label: label, APIKey: apiKey}, nil
}

func (am *AuthManager) authenticateJWT(r *http.Request) (*ObserverContext, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header not provided")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, fmt.Errorf("invalid authorization header format")
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return am.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid JWT token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid JWT token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid JWT claims")
	}

	if am.config.JWTAuth.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != am.config.JWTAuth.Issuer {
			return nil, fmt.Errorf("unexpected token issuer")
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("subject not found in JWT claims")
	}

	return &ObserverContext{Label: sub}, nil
}
