package handler

import (
	"encoding/json"
	"net/http"

	"github.com/apprenticewatch/apprenticewatch/internal/middleware"
	"github.com/apprenticewatch/apprenticewatch/internal/server"
)

// CreateSessionHandler keeps the identity provider's access token in the
// cookie session so browser requests don't need an Authorization header.
func CreateSessionHandler(svr server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken == "" {
			svr.JSONError(w, http.StatusBadRequest, "access_token is required")
			return
		}
		user, err := middleware.ParseUserJWT(req.AccessToken, svr.GetJWTSigningKey())
		if err != nil {
			svr.JSONError(w, http.StatusUnauthorized, "Please sign in to continue.")
			return
		}
		sess, err := svr.SessionStore.Get(r, middleware.SessionName)
		if err != nil {
			// undecodable cookie from an older key, start fresh
			logger := svr.Logger()
			logger.Info().Err(err).Msg("replacing unreadable session")
		}
		sess.Values[middleware.SessionTokenKey] = req.AccessToken
		if err := sess.Save(r, w); err != nil {
			svr.Log(err, "unable to save session")
			svr.JSONError(w, http.StatusInternalServerError, svr.RetryLaterMessage())
			return
		}
		svr.JSON(w, http.StatusOK, map[string]string{"user_id": user.UserID(), "email": user.Email})
	}
}

func DeleteSessionHandler(svr server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := svr.SessionStore.Get(r, middleware.SessionName)
		delete(sess.Values, middleware.SessionTokenKey)
		sess.Options.MaxAge = -1
		if err := sess.Save(r, w); err != nil {
			svr.Log(err, "unable to clear session")
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
