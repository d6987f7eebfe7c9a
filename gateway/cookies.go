package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// SessionCookieName carries the opaque session id.
const SessionCookieName = "fprime_session"

// cookieCodec signs session ids so a forged, truncated or stale cookie is
// rejected before it reaches the store. With no secret, values pass through
// unsigned.
type cookieCodec struct {
	sc *securecookie.SecureCookie
}

func newCookieCodec(secret string, maxAge time.Duration) cookieCodec {
	if secret == "" {
		return cookieCodec{}
	}
	sc := securecookie.New([]byte(secret), nil).SetSerializer(securecookie.NopEncoder{})
	if maxAge > 0 {
		sc.MaxAge(int(maxAge / time.Second))
	}
	return cookieCodec{sc: sc}
}

func (c cookieCodec) encode(id string) (string, error) {
	if c.sc == nil {
		return id, nil
	}
	return c.sc.Encode(SessionCookieName, []byte(id))
}

// decode returns the session id carried by value, or false when the value
// does not verify or has outlived the codec's max age.
func (c cookieCodec) decode(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	if c.sc == nil {
		return value, true
	}
	var id []byte
	if err := c.sc.Decode(SessionCookieName, value, &id); err != nil || len(id) == 0 {
		return "", false
	}
	return string(id), true
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, r *http.Request, id string) {
	value, err := h.cookies.encode(id)
	if err != nil {
		h.log.ErrorContext(r.Context(), "gateway.cookie.encode", slog.String("err", err.Error()))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(h.sessions.SessionTTL() / time.Second),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionIDFromCookie returns the verified session id, if any. The second
// result reports whether a cookie was presented at all.
func (h *Handler) sessionIDFromCookie(r *http.Request) (id string, present bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	id, ok := h.cookies.decode(c.Value)
	if !ok {
		return "", true
	}
	return id, true
}
