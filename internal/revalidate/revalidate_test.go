package revalidate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevalidatePostsPathAndSecret(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "s3cret", r.URL.Query().Get("secret"))
		got = append(got, r.URL.Query().Get("path"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/revalidate", "s3cret")
	require.NoError(t, All(context.Background(), c, "/vacancy/chef-apprentice", "/"))
	assert.Equal(t, []string{"/vacancy/chef-apprentice", "/"}, got)
}

func TestRevalidateNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "wrong").Revalidate(context.Background(), "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRevalidateDisabled(t *testing.T) {
	assert.NoError(t, NewClient("", "").Revalidate(context.Background(), "/"))
}

func TestAllContinuesAfterFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("path") == "/a" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := All(context.Background(), NewClient(srv.URL, "x"), "/a", "/b")
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
