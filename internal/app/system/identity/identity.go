// internal/app/system/identity/identity.go
//
// Package identity supplies the stable anonymous identifier each caller
// acts under. There are no accounts and no login: the first request from a
// device mints a random id and parks it in a signed cookie session, and
// every later request presents the same id.
package identity

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const userIDKey = "anon_user_id"

// Provider yields the caller's stable anonymous user id.
type Provider interface {
	// UserID returns the id for the request's device, minting one on
	// first use. It may write a Set-Cookie header.
	UserID(w http.ResponseWriter, r *http.Request) (string, error)
}

// CookieProvider stores the anonymous id in a signed cookie session.
type CookieProvider struct {
	store *sessions.CookieStore
	name  string
	log   *zap.Logger
}

// NewCookieProvider builds a CookieProvider.
//
// In production (secure=true) cookies are Secure with SameSite=None so the
// id survives cross-site use over HTTPS; in local dev over plain HTTP, Lax.
func NewCookieProvider(sessionKey, name, domain string, secure bool, logger *zap.Logger) (*CookieProvider, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("identity: session key is empty; provide ≥32 random chars")
	}
	if len(sessionKey) < 32 {
		logger.Warn("identity: session key is short; 32+ chars recommended",
			zap.Int("length", len(sessionKey)))
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	opts := &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   0, // session cookie; the id is re-minted if the browser drops it
		Secure:   secure,
		HttpOnly: true,
	}
	if secure {
		opts.SameSite = http.SameSiteNoneMode
	} else {
		opts.SameSite = http.SameSiteLaxMode
	}
	store.Options = opts

	return &CookieProvider{store: store, name: name, log: logger}, nil
}

// UserID returns the device's anonymous id, minting and persisting one on
// first touch. A cookie that fails to decode (rotated key, tampering) is
// treated as first touch rather than an error.
func (p *CookieProvider) UserID(w http.ResponseWriter, r *http.Request) (string, error) {
	sess, err := p.store.Get(r, p.name)
	if err != nil {
		if scErr, ok := err.(securecookie.Error); ok && scErr.IsDecode() {
			p.log.Debug("identity: undecodable session cookie, re-minting")
		} else {
			return "", fmt.Errorf("identity: read session: %w", err)
		}
	}

	if id, ok := sess.Values[userIDKey].(string); ok && id != "" {
		return id, nil
	}

	id := uuid.NewString()
	sess.Values[userIDKey] = id
	if err := sess.Save(r, w); err != nil {
		return "", fmt.Errorf("identity: save session: %w", err)
	}
	p.log.Debug("identity: minted anonymous id")
	return id, nil
}

// Static is a fixed-id Provider for tests.
type Static string

func (s Static) UserID(http.ResponseWriter, *http.Request) (string, error) {
	return string(s), nil
}
