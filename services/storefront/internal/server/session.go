package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"bananastore/internal/util"
	"bananastore/pkg/kv"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (c CookieConfig) normalize(prefix string) CookieConfig {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = prefix + "_session"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if c.SameSite == http.SameSiteNoneMode {
		c.Secure = true
	}
	return c
}

// ParseSameSite maps a config value to a cookie mode; unknown values are lax.
func ParseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

type sessionContextKey struct{}

// withSession resolves the session cookie to a state scope, issuing a new
// session when the cookie is missing, expired or forged.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := s.sessionID(r)
		if id == "" {
			var err error
			id, err = s.startSession(w)
			if err != nil {
				util.LoggerFromContext(r.Context()).Error("session issue failed", "err", err)
				writeError(w, http.StatusInternalServerError, "session unavailable")
				return
			}
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, s.scopeFor(id))
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) sessionID(r *http.Request) string {
	c, err := r.Cookie(s.cookie.Name)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return ""
	}
	claims, err := s.signer.Parse(c.Value)
	if err != nil {
		return ""
	}
	return claims.SessionID
}

// startSession sets a cookie for a fresh session id.
func (s *Server) startSession(w http.ResponseWriter) (string, error) {
	id := util.NewSessionID()
	if err := s.setSessionCookie(w, id); err != nil {
		return "", err
	}
	return id, nil
}

// rotateSession moves the request's session state to a new id and reissues
// the cookie. Called when a sign-in completes.
func (s *Server) rotateSession(w http.ResponseWriter, r *http.Request) error {
	id := util.NewSessionID()
	if err := sessionScope(r).MoveTo(r.Context(), s.scopeFor(id)); err != nil {
		return fmt.Errorf("move session state: %w", err)
	}
	return s.setSessionCookie(w, id)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) error {
	token, err := s.signer.Issue(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    token,
		Path:     "/",
		Domain:   s.cookie.Domain,
		MaxAge:   int(s.signer.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: s.cookie.SameSite,
	})
	return nil
}

func (s *Server) scopeFor(id string) kv.Scope {
	return kv.NewScope(s.store, s.keyPrefix, "session", id)
}

func sessionScope(r *http.Request) kv.Scope {
	scope, _ := r.Context().Value(sessionContextKey{}).(kv.Scope)
	return scope
}
