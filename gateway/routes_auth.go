package gateway

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/F-Prime-Capital/mcp-server/internal/logctx"
)

const callbackPath = "/auth/callback"

// handleLogin starts the authorization-code flow. The optional redirect_uri
// query parameter names where the browser lands after the callback.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := safeRedirect(r.URL.Query().Get("redirect_uri"))

	st, challenge, err := h.provider.GenerateAuthState(target)
	if err != nil {
		h.log.ErrorContext(ctx, "gateway.login", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}
	if err := h.sessions.SaveAuthState(ctx, st); err != nil {
		h.log.ErrorContext(ctx, "gateway.login.save_state", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	authURL, err := h.provider.BuildAuthorizationURL(ctx, h.callbackURL(r), st.State, st.Nonce, challenge)
	if err != nil {
		h.writeIdPError(w, r, "gateway.login.authorize_url", err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if code := q.Get("error"); code != "" {
		desc := q.Get("error_description")
		h.log.WarnContext(ctx, "gateway.callback.idp_error", slog.String("error", code))
		writeError(w, http.StatusBadRequest, code, desc)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing authorization code or state")
		return
	}

	st, err := h.sessions.ValidateAuthState(ctx, state)
	if err != nil {
		h.log.ErrorContext(ctx, "gateway.callback.state", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}
	if st == nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "Invalid or expired state parameter")
		return
	}

	tok, err := h.provider.ExchangeCode(ctx, code, h.callbackURL(r), st.CodeVerifier)
	if err != nil {
		h.writeIdPError(w, r, "gateway.callback.exchange", err)
		return
	}
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = h.bearerTTL
	}

	sess, err := h.provider.CreateUserSession(ctx, tok.AccessToken, tok.RefreshToken, expiresIn)
	if err != nil {
		h.writeIdPError(w, r, "gateway.callback.session", err)
		return
	}
	if !sess.IsPrivilegedMember {
		h.log.InfoContext(ctx, "gateway.callback.not_member", slog.String("user_id", sess.UserID))
		writeError(w, http.StatusForbidden, "forbidden", forbiddenDescription)
		return
	}

	id, err := h.sessions.CreateSession(ctx, sess)
	if err != nil {
		h.log.ErrorContext(ctx, "gateway.callback.create_session", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: id, UserID: sess.UserID})
	h.log.InfoContext(ctx, "gateway.callback.login")

	h.setSessionCookie(w, r, id)
	http.Redirect(w, r, safeRedirect(st.RedirectURI), http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if id, _ := h.sessionIDFromCookie(r); id != "" {
		if err := h.sessions.DeleteSession(ctx, id); err != nil {
			h.log.ErrorContext(ctx, "gateway.logout", slog.String("err", err.Error()))
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

type meResponse struct {
	UserID             string    `json:"user_id"`
	DisplayName        string    `json:"display_name"`
	Email              string    `json:"email"`
	IsPrivilegedMember bool      `json:"is_fprime_member"`
	Groups             []string  `json:"groups"`
	Roles              []string  `json:"roles"`
	TokenExpiresAt     time.Time `json:"token_expires_at"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	writeJSON(w, http.StatusOK, meResponse{
		UserID:             sess.UserID,
		DisplayName:        sess.DisplayName,
		Email:              sess.Email,
		IsPrivilegedMember: sess.IsPrivilegedMember,
		Groups:             nonNil(sess.Groups),
		Roles:              nonNil(sess.Roles),
		TokenExpiresAt:     sess.TokenExpiresAt,
	})
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: sess.AccessToken,
		ExpiresAt:   sess.TokenExpiresAt,
		TokenType:   "Bearer",
	})
}

// callbackURL is the redirect URI registered with the identity provider.
func (h *Handler) callbackURL(r *http.Request) string {
	return h.baseURL(r) + callbackPath
}

// baseURL is the externally visible origin of the gateway: the configured
// public URL, or one derived from the request.
func (h *Handler) baseURL(r *http.Request) string {
	if h.publicURL != nil {
		return strings.TrimRight(h.publicURL.String(), "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		p, _, _ := strings.Cut(fwd, ",")
		if p = strings.ToLower(strings.TrimSpace(p)); p == "http" || p == "https" {
			scheme = p
		}
	}
	return scheme + "://" + r.Host
}

// safeRedirect keeps post-login redirects on this origin.
func safeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, `/\`) {
		return "/"
	}
	return target
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
