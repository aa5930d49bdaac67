package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apprenticewatch/apprenticewatch/internal/config"
	"github.com/apprenticewatch/apprenticewatch/internal/middleware"
	"github.com/apprenticewatch/apprenticewatch/internal/server"
	jwt "github.com/dgrijalva/jwt-go"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testUserID = "5a0c3e1b-2d4f-4a6b-8c9d-0e1f2a3b4c5d"

var jwtKey = []byte("provider-secret")

func newTestServer(t *testing.T) server.Server {
	t.Helper()
	cfg := config.Config{
		Env:              "dev",
		SupportEmail:     "help@example.com",
		SiteName:         "ApprenticeWatch",
		SiteHost:         "apprenticewatch.test",
		URLProtocol:      "https",
		VacanciesPerPage: 2,
		MapCacheTTL:      time.Minute,
		JwtSigningKey:    jwtKey,
	}
	store := sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"))
	return server.NewServer(cfg, nil, mux.NewRouter(), store, zerolog.Nop())
}

// signedIn returns r as seen by a handler behind UserAuthenticatedMiddleware.
func signedIn(r *http.Request) *http.Request {
	u := &middleware.UserJWT{StandardClaims: jwt.StandardClaims{Subject: testUserID}}
	return r.WithContext(middleware.WithUser(r.Context(), u))
}

func accessToken(t *testing.T) string {
	t.Helper()
	tk := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.UserJWT{
		Email: "learner@example.com",
		StandardClaims: jwt.StandardClaims{
			Subject:   testUserID,
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	})
	s, err := tk.SignedString(jwtKey)
	require.NoError(t, err)
	return s
}

func serve(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, r)
	return w
}
