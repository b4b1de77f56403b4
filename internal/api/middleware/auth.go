package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/trackrec/trackrec/internal/api/models"
	"github.com/trackrec/trackrec/internal/auth"
)

// TokenValidator resolves a bearer token to a device ID.
type TokenValidator interface {
	ValidateDevice(token string) (string, error)
}

// deviceIDKey is the context key for the authenticated device ID.
type deviceIDKey struct{}

// deviceSlot lets Auth report the device back to Logger, which wraps it.
type deviceSlot struct {
	id string
}

type deviceSlotKey struct{}

func withDeviceSlot(r *http.Request) (*http.Request, *deviceSlot) {
	slot := &deviceSlot{}
	return r.WithContext(context.WithValue(r.Context(), deviceSlotKey{}, slot)), slot
}

// Auth creates authentication middleware that validates device bearer tokens.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if len(authHeader) < len(bearerPrefix) ||
				!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(authHeader[len(bearerPrefix):])
			if tokenString == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			deviceID, err := validator.ValidateDevice(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					writeUnauthorized(w, r, "device token has expired")
				case errors.Is(err, auth.ErrInvalidToken):
					writeUnauthorized(w, r, "invalid device token")
				default:
					writeUnauthorized(w, r, "authentication failed")
				}
				return
			}

			if slot, ok := r.Context().Value(deviceSlotKey{}).(*deviceSlot); ok {
				slot.id = deviceID
			}
			ctx := context.WithValue(r.Context(), deviceIDKey{}, deviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized writes a 401 Problem. It lives here because the
// response package imports middleware.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	w.Header().Set("WWW-Authenticate", `Bearer realm="trackrec"`)
	problem.Write(w)
}

// GetDeviceID retrieves the authenticated device ID from the context.
// Returns an empty string if not authenticated.
func GetDeviceID(ctx context.Context) string {
	if id, ok := ctx.Value(deviceIDKey{}).(string); ok {
		return id
	}
	return ""
}
