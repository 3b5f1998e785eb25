package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

type callerKey string

const (
	ownerHashKey  callerKey = "owner_key_hash"
	privilegedKey callerKey = "privileged"
)

// HashAPIKey derives the opaque owner identity stored with jobs. Raw keys
// never leave the middleware.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuth authenticates job API callers via the X-API-Key header. The
// privileged func decides, by key hash, whether the caller bypasses the
// per-owner concurrency limit.
func APIKeyAuth(privileged func(keyHash string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				http.Error(w, "missing api key", http.StatusUnauthorized)
				return
			}
			hash := HashAPIKey(key)
			ctx := context.WithValue(r.Context(), ownerHashKey, hash)
			if privileged != nil && privileged(hash) {
				ctx = context.WithValue(ctx, privilegedKey, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WidgetAuth authenticates the embeddable widget endpoint. Embedders cannot
// set headers on an <img> or <video> tag, so the key travels in the "key"
// query parameter instead.
func WidgetAuth(privileged func(keyHash string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.URL.Query().Get("key")
			if key == "" {
				http.Error(w, "missing key", http.StatusUnauthorized)
				return
			}
			hash := HashAPIKey(key)
			ctx := context.WithValue(r.Context(), ownerHashKey, hash)
			if privileged != nil && privileged(hash) {
				ctx = context.WithValue(ctx, privilegedKey, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerHashFromContext returns the authenticated caller's key hash, or "".
func OwnerHashFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerHashKey).(string); ok {
		return v
	}
	return ""
}

// PrivilegedFromContext reports whether the caller bypasses admission limits.
func PrivilegedFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(privilegedKey).(bool)
	return v
}
