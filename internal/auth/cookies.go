package auth

import (
	"net/http"
	"time"
)

// RefreshTokenCookieName is the httpOnly cookie carrying the refresh token
const RefreshTokenCookieName = "refresh_token"

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // empty means current host only
	Path     string // defaults to /auth so the cookie is never sent to API routes
	Secure   bool
	SameSite string // "strict", "lax", or "none"
}

// SetRefreshTokenCookie stores the refresh token in an httpOnly cookie that
// expires together with the token.
func SetRefreshTokenCookie(w http.ResponseWriter, refreshToken string, ttl time.Duration, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookieName,
		Value:    refreshToken,
		Path:     config.path(),
		Domain:   config.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// ClearRefreshTokenCookie clears the refresh token cookie
func ClearRefreshTokenCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookieName,
		Value:    "",
		Path:     config.path(),
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// GetRefreshTokenCookie retrieves the refresh token from cookies
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshTokenCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/auth"
	}
	return c.Path
}

func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
