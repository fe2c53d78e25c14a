package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/domain/vo"
)

// Auth modes
const (
	AuthModeJWT    = "jwt"
	AuthModeHeader = "header"
)

// AuthConfig selects how the calling identity is resolved
type AuthConfig struct {
	Mode           string
	JWTSecret      string
	Issuer         string
	Audience       string
	IdentityClaim  string
	IdentityHeader string
}

var (
	errMissingCredentials = errors.New("missing credentials")
	errInvalidToken       = errors.New("invalid token")
	errNoIdentityClaim    = errors.New("token carries no identity claim")
)

type identityKey struct{}

// WithIdentity returns a context carrying identity
func WithIdentity(ctx context.Context, identity vo.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity resolved by IdentityMiddleware
func IdentityFrom(ctx context.Context) (vo.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(vo.Identity)
	return id, ok && !id.IsEmpty()
}

// IdentityMiddleware resolves the caller's identity and rejects the request without one.
// Missing or unverifiable credentials are 401; an identity unusable as a directory name is 403.
func IdentityMiddleware(cfg AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	resolve := headerResolver(cfg)
	if cfg.Mode == AuthModeJWT {
		resolve = jwtResolver(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := resolve(r)
			if err != nil {
				logger.Debug("authentication failed",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err))
				if cfg.Mode == AuthModeJWT {
					w.Header().Set("WWW-Authenticate", `Bearer realm="media"`)
				}
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			identity, err := vo.NewIdentity(raw)
			if err != nil {
				logger.Warn("rejected identity",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

type identityResolver func(r *http.Request) (string, error)

func headerResolver(cfg AuthConfig) identityResolver {
	header := cfg.IdentityHeader
	if header == "" {
		header = "X-Identity"
	}
	return func(r *http.Request) (string, error) {
		v := strings.TrimSpace(r.Header.Get(header))
		if v == "" {
			return "", errMissingCredentials
		}
		return v, nil
	}
}

func jwtResolver(cfg AuthConfig) identityResolver {
	key := []byte(cfg.JWTSecret)
	claim := cfg.IdentityClaim
	if claim == "" {
		claim = "nameid"
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(r *http.Request) (string, error) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", errMissingCredentials
		}

		claims := jwt.MapClaims{}
		parsed, err := parser.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !parsed.Valid {
			return "", errors.Join(errInvalidToken, err)
		}

		if v, ok := claims[claim].(string); ok && v != "" {
			return v, nil
		}
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			return sub, nil
		}
		return "", errNoIdentityClaim
	}
}
