package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tonimelisma/filevault/internal/session"
)

// CookieName is the session cookie's name.
const CookieName = "filevault_session"

// ErrInvalidCookie means the cookie is missing, malformed, or not signed by
// this server.
var ErrInvalidCookie = errors.New("invalid session cookie")

// cookieClaims carries the session id in jti and the username in sub. There
// is no exp claim: expiry belongs to the session store.
type cookieClaims struct {
	jwt.RegisteredClaims
}

// CookieCodec signs and verifies session cookies with HS256.
type CookieCodec struct {
	key    []byte
	secure bool
	now    func() time.Time
}

// NewCookieCodec creates a codec keyed by secret. secure sets the Secure
// attribute, which should be on when serving over TLS.
func NewCookieCodec(secret string, secure bool) *CookieCodec {
	return &CookieCodec{key: []byte(secret), secure: secure, now: time.Now}
}

// Encode signs id and username into a token.
func (c *CookieCodec) Encode(id session.ID, username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cookieClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       string(id),
			Subject:  username,
			IssuedAt: jwt.NewNumericDate(c.now()),
		},
	})

	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("signing session cookie: %w", err)
	}

	return signed, nil
}

// Decode verifies a token and returns the session id it carries.
func (c *CookieCodec) Decode(value string) (session.ID, error) {
	claims := &cookieClaims{}

	token, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCookie, err)
	}

	if !token.Valid || claims.ID == "" {
		return "", ErrInvalidCookie
	}

	return session.ID(claims.ID), nil
}

// FromRequest extracts the session id from the request cookie. ok is false
// when there is no cookie or it fails verification.
func (c *CookieCodec) FromRequest(r *http.Request) (session.ID, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}

	id, err := c.Decode(cookie.Value)
	if err != nil {
		return "", false
	}

	return id, true
}

// Set writes the session cookie for id.
func (c *CookieCodec) Set(w http.ResponseWriter, id session.ID, username string) error {
	value, err := c.Encode(id, username)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Clear expires the session cookie on the client.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
