package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	authCookie = "auth_token"
	tokenTTL   = 7 * 24 * time.Hour
)

// handleLogin validates the operator credentials and issues a signed JWT,
// both in the body and as an HTTP-only cookie.
func (g *Gateway) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if !constantTimeEqual(req.Username, g.cfg.AdminUser) || !constantTimeEqual(req.Password, g.cfg.AdminPass) {
			g.logger.Warn("gateway: login failed", "user", req.Username, "remote", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		token, err := g.issueToken(req.Username)
		if err != nil {
			g.logger.Error("gateway: signing token failed", "error", err)
			respondError(w, http.StatusInternalServerError, "login failed")
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     authCookie,
			Value:    token,
			MaxAge:   int(tokenTTL.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Path:     "/",
		})
		g.logger.Info("gateway: login", "user", req.Username)
		respondJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

func (g *Gateway) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     authCookie,
			Value:    "",
			MaxAge:   -1,
			HttpOnly: true,
			Path:     "/",
		})
		respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
	}
}

// issueToken signs an HS256 session token for the operator.
func (g *Gateway) issueToken(user string) (string, error) {
	claims := jwt.MapClaims{
		"user": user,
		"exp":  time.Now().Add(tokenTTL).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(g.cfg.JWTSecret))
}

// authMiddleware validates the JWT from the Authorization header or the
// session cookie.
func (g *Gateway) authMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" {
				respondError(w, http.StatusUnauthorized, "missing token")
				return
			}

			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(g.cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				respondError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads a Bearer header or falls back to the session cookie.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return after
		}
		return auth
	}
	if c, err := r.Cookie(authCookie); err == nil {
		return c.Value
	}
	return ""
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
