package auth

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessCookieName  = "session_token"
	RefreshCookieName = "refresh_token"
)

// Claims is the body of the short-lived access token.
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// Info is what the client can read from its own access token.
type Info struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now. A token
// without an expiry never expires.
func (i Info) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// SessionInfo peeks at the access cookie stored for baseURL. The signature is
// not checked: only the server can do that, and a 401 is still what drives
// renewal.
func SessionInfo(jar http.CookieJar, baseURL string) (Info, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return Info{}, fmt.Errorf("parse base url: %w", err)
	}
	for _, c := range jar.Cookies(u) {
		if c.Name == AccessCookieName {
			return ParseUnverified(c.Value)
		}
	}
	return Info{}, ErrNoSession
}

func ParseUnverified(token string) (Info, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Info{}, fmt.Errorf("parse access token: %w", err)
	}
	info := Info{UserID: claims.UserID}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
