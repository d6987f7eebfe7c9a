package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/internal/logctx"
)

// State names the outcome of resolving a request to a session.
type State string

const (
	StateNoSession                  State = "no_session"
	StateCookieSessionValid         State = "cookie_session_valid"
	StateCookieExpiredRefreshable   State = "cookie_session_expired_refreshable"
	StateCookieExpiredUnrefreshable State = "cookie_session_expired_unrefreshable"
	StateBearerTokenValid           State = "bearer_token_valid"
	StateBearerTokenInvalid         State = "bearer_token_invalid"
)

const forbiddenDescription = "Access denied. You must be an F-Prime member to use this service."

var errSessionGone = errors.New("session no longer exists")

// Resolution is the per-request result of session resolution. Session is
// nil when the request is unauthenticated. SessionID is set only for
// cookie sessions.
type Resolution struct {
	State     State
	SessionID string
	Session   *auth.UserSession

	// Err is set when resolution failed for a reason other than absent
	// credentials: an invalid bearer token, an unreachable identity
	// provider, or a storage failure.
	Err error
}

// Authenticated reports whether a session was resolved.
func (r *Resolution) Authenticated() bool { return r != nil && r.Session != nil }

type resolutionKey struct{}

// ResolutionFrom returns the resolution recorded on ctx by the gateway.
func ResolutionFrom(ctx context.Context) (*Resolution, bool) {
	res, ok := ctx.Value(resolutionKey{}).(*Resolution)
	return res, ok
}

// SessionFrom returns the session resolved for the request carrying ctx.
func SessionFrom(ctx context.Context) (*auth.UserSession, bool) {
	res, ok := ResolutionFrom(ctx)
	if !ok || res.Session == nil {
		return nil, false
	}
	return res.Session, true
}

// resolve returns the request's resolution, computing it on first use. The
// returned request carries the resolution on its context.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (*Resolution, *http.Request) {
	if res, ok := ResolutionFrom(r.Context()); ok {
		return res, r
	}
	ctx := r.Context()
	res := h.resolveCookie(ctx, w, r)
	if !res.Authenticated() && res.Err == nil {
		if tok, ok := bearerToken(r); ok {
			res = h.resolveBearer(ctx, tok)
		}
	}

	sd := &logctx.SessionData{SessionID: res.SessionID, State: string(res.State)}
	if res.Session != nil {
		sd.UserID = res.Session.UserID
	}
	ctx = logctx.WithSessionData(ctx, sd)
	ctx = context.WithValue(ctx, resolutionKey{}, res)
	h.log.DebugContext(ctx, "gateway.resolve")
	return res, r.WithContext(ctx)
}

func (h *Handler) resolveCookie(ctx context.Context, w http.ResponseWriter, r *http.Request) *Resolution {
	id, present := h.sessionIDFromCookie(r)
	if !present {
		return &Resolution{State: StateNoSession}
	}
	if id == "" {
		h.log.WarnContext(ctx, "gateway.resolve.bad_cookie")
		h.clearSessionCookie(w)
		return &Resolution{State: StateNoSession}
	}

	sess, err := h.sessions.GetSession(ctx, id)
	if err != nil {
		return &Resolution{State: StateNoSession, Err: err}
	}
	if sess == nil {
		h.clearSessionCookie(w)
		return &Resolution{State: StateNoSession}
	}
	if !sess.IsTokenExpired(h.now()) {
		return &Resolution{State: StateCookieSessionValid, SessionID: id, Session: sess}
	}

	if sess.RefreshToken == "" {
		h.dropSession(ctx, w, id)
		return &Resolution{State: StateCookieExpiredUnrefreshable}
	}

	fresh, err := h.refreshSession(ctx, id)
	if err != nil {
		h.log.WarnContext(ctx, "gateway.resolve.refresh_failed",
			slog.String("sess", logctx.ShortID(id)),
			slog.String("err", err.Error()),
		)
		h.dropSession(ctx, w, id)
		return &Resolution{State: StateCookieExpiredRefreshable}
	}
	h.setSessionCookie(w, r, id)
	return &Resolution{State: StateCookieExpiredRefreshable, SessionID: id, Session: fresh}
}

// refreshSession redeems the stored refresh token and replaces the session
// record. Concurrent refreshes of one session share a single call to the
// identity provider, so a rotated refresh token is only presented once.
func (h *Handler) refreshSession(ctx context.Context, id string) (*auth.UserSession, error) {
	v, err, _ := h.refreshes.Do(id, func() (any, error) {
		fctx := context.WithoutCancel(ctx)

		// A request that read the record before a concurrent refresh
		// landed finds the new one here.
		cur, err := h.sessions.GetSession(fctx, id)
		if err != nil {
			return nil, err
		}
		if cur == nil {
			return nil, errSessionGone
		}
		if !cur.IsTokenExpired(h.now()) {
			return cur, nil
		}
		if cur.RefreshToken == "" {
			return nil, errSessionGone
		}

		tok, err := h.provider.RefreshAccessToken(fctx, cur.RefreshToken)
		if err != nil {
			return nil, err
		}
		expiresIn := tok.ExpiresIn
		if expiresIn <= 0 {
			expiresIn = h.bearerTTL
		}
		fresh, err := h.provider.CreateUserSession(fctx, tok.AccessToken, tok.RefreshToken, expiresIn)
		if err != nil {
			return nil, err
		}
		if err := h.sessions.RefreshSession(fctx, id, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*auth.UserSession).Clone(), nil
}

func (h *Handler) dropSession(ctx context.Context, w http.ResponseWriter, id string) {
	if err := h.sessions.DeleteSession(ctx, id); err != nil {
		h.log.ErrorContext(ctx, "gateway.resolve.delete_failed", slog.String("err", err.Error()))
	}
	h.clearSessionCookie(w)
}

func (h *Handler) resolveBearer(ctx context.Context, tok string) *Resolution {
	sess, err := h.provider.CreateUserSession(ctx, tok, "", h.bearerTTL)
	if err != nil {
		return &Resolution{State: StateBearerTokenInvalid, Err: err}
	}
	return &Resolution{State: StateBearerTokenValid, Session: sess}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, tok, ok := strings.Cut(r.Header.Get(authorizationHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// requireAuthenticated rejects requests that did not resolve to a session.
func (h *Handler) requireAuthenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, r := h.resolve(w, r)
		if !res.Authenticated() {
			h.writeUnresolved(w, r, res)
			return
		}
		next(w, r)
	}
}

// requirePrivilegedMember rejects sessions without the membership flag. It
// resolves the request itself when used without requireAuthenticated.
func (h *Handler) requirePrivilegedMember(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, r := h.resolve(w, r)
		if !res.Authenticated() {
			h.writeUnresolved(w, r, res)
			return
		}
		if !res.Session.IsPrivilegedMember {
			h.log.InfoContext(r.Context(), "gateway.forbidden")
			writeError(w, http.StatusForbidden, "forbidden", forbiddenDescription)
			return
		}
		next(w, r)
	}
}

func (h *Handler) writeUnresolved(w http.ResponseWriter, r *http.Request, res *Resolution) {
	switch {
	case res.Err == nil:
		h.writeUnauthorized(w, r, "authentication_required", "authentication required")
	case errors.Is(res.Err, auth.ErrUnauthorized):
		h.log.InfoContext(r.Context(), "gateway.invalid_token", slog.String("reason", validationDescription(res.Err)))
		h.writeUnauthorized(w, r, "invalid_token", validationDescription(res.Err))
	default:
		h.writeIdPError(w, r, "gateway.resolve", res.Err)
	}
}
