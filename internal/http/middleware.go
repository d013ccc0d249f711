package http

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/fjod/template_shop/internal/identity"
	"github.com/fjod/template_shop/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	ProfileHeader = "X-Profile-ID"
	ProfileCookie = "profile_id"
)

type contextKey string

const (
	profileKey    = contextKey("profile_id")
	newProfileKey = contextKey("new_profile")
)

var validProfileID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = ulid.Make().String()
		}

		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthMiddleware moves a bearer token into the request context. Requests
// without one pass through: handlers decide whether a session is required.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Fields(r.Header.Get("Authorization"))
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			r = r.WithContext(identity.WithToken(r.Context(), parts[1]))
		}
		next.ServeHTTP(w, r)
	})
}

// ProfileMiddleware names the browser profile whose cart the request uses,
// issuing a fresh id as a cookie when the client sent none.
func ProfileMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profileID := r.Header.Get(ProfileHeader)
		if profileID == "" {
			if c, err := r.Cookie(ProfileCookie); err == nil {
				profileID = c.Value
			}
		}
		minted := !validProfileID.MatchString(profileID)
		if minted {
			profileID = ulid.Make().String()
			http.SetCookie(w, &http.Cookie{
				Name:     ProfileCookie,
				Value:    profileID,
				Path:     "/",
				Expires:  time.Now().Add(365 * 24 * time.Hour),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		w.Header().Set(ProfileHeader, profileID)

		ctx := context.WithValue(r.Context(), profileKey, profileID)
		ctx = context.WithValue(ctx, newProfileKey, minted)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getProfileID(ctx context.Context) string {
	if id, ok := ctx.Value(profileKey).(string); ok {
		return id
	}
	return ""
}

// isNewProfile reports whether the profile id was issued on this request, in
// which case nothing is stored for it yet.
func isNewProfile(ctx context.Context) bool {
	minted, _ := ctx.Value(newProfileKey).(bool)
	return minted
}

// LoggingMiddleware writes one structured line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		entry := logger.FromContext(r.Context()).WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("request served")
			return
		}
		entry.Info("request served")
	})
}
