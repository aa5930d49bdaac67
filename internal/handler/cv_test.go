package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apprenticewatch/apprenticewatch/internal/cvoptimise"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOptimiser struct {
	err              error
	gotUser, gotCV   string
	withImprovements bool
}

func (f *fakeOptimiser) Optimise(_ context.Context, userID, cvText, _ string) (*cvoptimise.Optimisation, error) {
	f.gotUser, f.gotCV = userID, cvText
	if f.err != nil {
		return nil, f.err
	}
	return &cvoptimise.Optimisation{ID: "opt1", UserID: userID, OverallScore: 72}, nil
}

func (f *fakeOptimiser) History(_ context.Context, userID string, withImprovements bool) ([]*cvoptimise.Optimisation, error) {
	f.withImprovements = withImprovements
	if f.err != nil {
		return nil, f.err
	}
	return []*cvoptimise.Optimisation{{ID: "opt1", UserID: userID}}, nil
}

func (f *fakeOptimiser) Get(_ context.Context, userID, id string) (*cvoptimise.Optimisation, error) {
	if f.err != nil {
		return nil, f.err
	}
	if id != "opt1" {
		return nil, cvoptimise.ErrNotFound
	}
	return &cvoptimise.Optimisation{ID: id, UserID: userID}, nil
}

func optimiseRequestBody() *strings.Reader {
	return strings.NewReader(`{"cv_text":"my cv","job_description":"the job"}`)
}

func TestOptimiseCVStatuses(t *testing.T) {
	for _, tc := range []struct {
		name       string
		err        error
		status     int
		retryAfter string
		contains   string
	}{
		{"created", nil, http.StatusCreated, "", `"overall_score":72`},
		{"unauthenticated", &cvoptimise.GuardError{Kind: cvoptimise.KindUnauthenticated, Message: "Please sign in to optimise your CV."}, http.StatusUnauthorized, "", "sign in"},
		{"validation", &cvoptimise.GuardError{Kind: cvoptimise.KindValidation, Field: "cv_text", Message: "too short"}, http.StatusUnprocessableEntity, "", `"field":"cv_text"`},
		{"duplicate", &cvoptimise.GuardError{Kind: cvoptimise.KindDuplicate, Message: "already analysed"}, http.StatusConflict, "", "already analysed"},
		{"in flight", &cvoptimise.GuardError{Kind: cvoptimise.KindInFlight, Message: "still running"}, http.StatusConflict, "", `"kind":"in_flight"`},
		{"cooldown", &cvoptimise.GuardError{Kind: cvoptimise.KindCooldown, Message: "wait", RetryAfter: 12300 * time.Millisecond}, http.StatusTooManyRequests, "13", `"retry_after":13`},
		{"quota", &cvoptimise.GuardError{Kind: cvoptimise.KindQuota, Message: "used all", RetryAfter: time.Hour}, http.StatusTooManyRequests, "3600", `"kind":"quota"`},
		{"analysis failed", cvoptimise.ErrAnalysisFailed, http.StatusBadGateway, "", "help@example.com"},
		{"other", errors.New("insert failed"), http.StatusInternalServerError, "", "try again later"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			svr := newTestServer(t)
			cv := &fakeOptimiser{err: tc.err}
			w := serve(OptimiseCVHandler(svr, cv), signedIn(httptest.NewRequest(http.MethodPost, "/api/cv/optimise", optimiseRequestBody())))
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.retryAfter, w.Header().Get("Retry-After"))
			assert.Contains(t, w.Body.String(), tc.contains)
			assert.Equal(t, testUserID, cv.gotUser)
			assert.Equal(t, "my cv", cv.gotCV)
		})
	}
}

func TestOptimiseCVBadBody(t *testing.T) {
	cv := &fakeOptimiser{}
	w := serve(OptimiseCVHandler(newTestServer(t), cv), signedIn(httptest.NewRequest(http.MethodPost, "/api/cv/optimise", strings.NewReader("cv=1"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, cv.gotUser)
}

func TestListOptimisations(t *testing.T) {
	svr := newTestServer(t)
	cv := &fakeOptimiser{}
	w := serve(ListOptimisationsHandler(svr, cv), signedIn(httptest.NewRequest(http.MethodGet, "/api/cv/optimisations?improvements=true", nil)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, cv.withImprovements)
	var got struct {
		Items []cvoptimise.Optimisation `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "opt1", got.Items[0].ID)

	cv.err = errors.New("db down")
	w = serve(ListOptimisationsHandler(svr, cv), signedIn(httptest.NewRequest(http.MethodGet, "/api/cv/optimisations", nil)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())
}

func TestGetOptimisation(t *testing.T) {
	svr := newTestServer(t)
	cv := &fakeOptimiser{}
	get := func(id string) *httptest.ResponseRecorder {
		r := signedIn(httptest.NewRequest(http.MethodGet, "/api/cv/optimisations/"+id, nil))
		return serve(GetOptimisationHandler(svr, cv), mux.SetURLVars(r, map[string]string{"id": id}))
	}

	w := get("opt1")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get("someone-elses")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Optimisation not found or you do not have permission to view it."}`, w.Body.String())
}
