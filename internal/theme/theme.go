// Package theme resolves and persists the light/dark preference.
package theme

import (
	"net/http"
	"strings"
	"time"
)

type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"

	CookieName = "theme"
	// HintHeader is the client hint browsers send for prefers-color-scheme.
	HintHeader = "Sec-CH-Prefers-Color-Scheme"
)

func parse(s string) (Theme, bool) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case Light:
		return Light, true
	case Dark:
		return Dark, true
	}
	return "", false
}

// Resolve prefers the stored choice, then the system hint, then light.
func Resolve(stored, systemHint string) Theme {
	if t, ok := parse(stored); ok {
		return t
	}
	if t, ok := parse(systemHint); ok {
		return t
	}
	return Light
}

func Toggle(t Theme) Theme {
	if t == Dark {
		return Light
	}
	return Dark
}

// FromRequest resolves the theme for r.
func FromRequest(r *http.Request) Theme {
	stored := ""
	if c, err := r.Cookie(CookieName); err == nil {
		stored = c.Value
	}
	return Resolve(stored, r.Header.Get(HintHeader))
}

// Save persists t for a year.
func Save(w http.ResponseWriter, t Theme) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    string(t),
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

// AdvertiseHint asks the browser to send HintHeader on later requests.
func AdvertiseHint(w http.ResponseWriter) {
	w.Header().Set("Accept-CH", HintHeader)
	w.Header().Add("Vary", HintHeader)
}
