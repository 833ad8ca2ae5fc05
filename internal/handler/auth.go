package handler

import (
	"net/http"
	"strings"
)

// Login redirects the browser to the Google consent page
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.oauth.Configured() {
		writeError(w, http.StatusServiceUnavailable, "oauth_not_configured", "Google OAuth client credentials are not configured")
		return
	}

	state, err := h.states.Issue(safeReturnTo(r.URL.Query().Get("return_to")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the consent round trip and stores the token
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, "access_denied", "Google sign-in was not completed: "+e)
		return
	}

	claims, err := h.states.Verify(q.Get("state"))
	if err != nil {
		h.log.Warn().Err(err).Msg("oauth callback with invalid state")
		writeError(w, http.StatusBadRequest, "invalid_state", "The sign-in request expired or was tampered with")
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code", "Authorization code is missing")
		return
	}

	if err := h.account.Complete(r.Context(), code); err != nil {
		h.log.Error().Err(err).Msg("oauth code exchange failed")
		writeError(w, http.StatusBadGateway, "exchange_failed", "Could not complete Google sign-in")
		return
	}

	if claims.ReturnTo != "" {
		http.Redirect(w, r, claims.ReturnTo, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

// Logout forgets the stored Gmail token
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.account.Logout(r.Context()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
}

// safeReturnTo keeps only same-site relative paths
func safeReturnTo(s string) string {
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/\\") {
		return ""
	}
	return s
}
