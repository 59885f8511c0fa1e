package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/expensecore/expense-engine/apperr"
)

type contextKey string

const (
	// APIKeyContextKey stores the raw API key in request context.
	APIKeyContextKey contextKey = "api_key"
	// UserIDContextKey stores the authenticated user ID in request context.
	UserIDContextKey contextKey = "user_id"
)

// UserResolver maps a validated API key to the user ID it authenticates as.
// A NotFound-kind error from apperr is treated as "invalid key"; any other
// error is treated as a transient auth-backend failure.
type UserResolver interface {
	ResolveAPIKey(ctx context.Context, apiKey string) (uuid.UUID, error)
}

// AuthMiddleware validates API keys on incoming requests and resolves them
// to a user ID, caching successful resolutions for cacheTTL so every
// request doesn't round-trip to the resolver.
type AuthMiddleware struct {
	logger    zerolog.Logger
	resolver  UserResolver
	cache     sync.Map
	cacheTTL  time.Duration
	headerKey string
}

type cachedAuth struct {
	userID    uuid.UUID
	expiresAt time.Time
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(logger zerolog.Logger, resolver UserResolver, headerKey string) *AuthMiddleware {
	if headerKey == "" {
		headerKey = "Authorization"
	}
	return &AuthMiddleware{
		logger:    logger,
		resolver:  resolver,
		cacheTTL:  5 * time.Minute,
		headerKey: headerKey,
	}
}

// Handler returns the middleware handler function.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get(am.headerKey)
		if authHeader == "" {
			http.Error(w, `{"error":{"code":"missing_authentication","message":"authorization header required"}}`, http.StatusUnauthorized)
			return
		}

		apiKey := authHeader
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			apiKey = authHeader[7:]
		}
		if apiKey == "" {
			http.Error(w, `{"error":{"code":"invalid_authentication","message":"API key cannot be empty"}}`, http.StatusUnauthorized)
			return
		}

		if cached, ok := am.cache.Load(apiKey); ok {
			ca := cached.(*cachedAuth)
			if time.Now().Before(ca.expiresAt) {
				next.ServeHTTP(w, r.WithContext(am.withAuth(r.Context(), apiKey, ca.userID)))
				return
			}
			am.cache.Delete(apiKey)
		}

		userID, err := am.resolver.ResolveAPIKey(r.Context(), apiKey)
		if err != nil {
			if !apperr.Is(err, apperr.KindNotFound) {
				am.logger.Error().Err(err).Msg("api key resolution backend failed")
				http.Error(w, `{"error":{"code":"auth_unavailable","message":"authentication backend is unavailable"}}`, http.StatusServiceUnavailable)
				return
			}
			am.logger.Warn().Err(err).Msg("api key resolution failed")
			http.Error(w, `{"error":{"code":"invalid_authentication","message":"API key is not valid"}}`, http.StatusUnauthorized)
			return
		}

		am.cache.Store(apiKey, &cachedAuth{userID: userID, expiresAt: time.Now().Add(am.cacheTTL)})
		next.ServeHTTP(w, r.WithContext(am.withAuth(r.Context(), apiKey, userID)))
	})
}

func (am *AuthMiddleware) withAuth(ctx context.Context, apiKey string, userID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, APIKeyContextKey, apiKey)
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// GetAPIKey extracts the raw API key from the request context.
func GetAPIKey(ctx context.Context) string {
	if v, ok := ctx.Value(APIKeyContextKey).(string); ok {
		return v
	}
	return ""
}

// GetUserID extracts the authenticated user ID from the request context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(UserIDContextKey).(uuid.UUID)
	return v, ok
}
