package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/apprenticewatch/apprenticewatch/internal/cvoptimise"
	"github.com/apprenticewatch/apprenticewatch/internal/server"
	"github.com/gorilla/mux"
)

// maxCVRequestBytes bounds the optimise request body
const maxCVRequestBytes = 256 << 10

type cvOptimiser interface {
	Optimise(ctx context.Context, userID, cvText, jobDescription string) (*cvoptimise.Optimisation, error)
	History(ctx context.Context, userID string, withImprovements bool) ([]*cvoptimise.Optimisation, error)
	Get(ctx context.Context, userID, id string) (*cvoptimise.Optimisation, error)
}

type optimiseRequest struct {
	CVText         string `json:"cv_text"`
	JobDescription string `json:"job_description"`
}

func OptimiseCVHandler(svr server.Server, cv cvOptimiser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req optimiseRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCVRequestBytes))
		if err := dec.Decode(&req); err != nil {
			svr.JSONError(w, http.StatusBadRequest, "Request body must be JSON with cv_text and job_description.")
			return
		}

		o, err := cv.Optimise(r.Context(), userID(r), req.CVText, req.JobDescription)
		var ge *cvoptimise.GuardError
		switch {
		case err == nil:
			svr.JSON(w, http.StatusCreated, o)
		case errors.As(err, &ge):
			writeGuardError(svr, w, ge)
		case errors.Is(err, cvoptimise.ErrAnalysisFailed):
			svr.JSONError(w, http.StatusBadGateway,
				fmt.Sprintf("%s If the problem persists contact %s.", capitalise(err.Error()), svr.GetConfig().SupportEmail))
		default:
			if clientGone(r, err) {
				return
			}
			svr.Log(err, "unable to optimise cv")
			svr.JSONError(w, http.StatusInternalServerError, svr.RetryLaterMessage())
		}
	}
}

func writeGuardError(svr server.Server, w http.ResponseWriter, ge *cvoptimise.GuardError) {
	body := map[string]interface{}{"error": ge.Message, "kind": ge.Kind}
	status := http.StatusInternalServerError
	switch ge.Kind {
	case cvoptimise.KindUnauthenticated:
		status = http.StatusUnauthorized
	case cvoptimise.KindValidation:
		status = http.StatusUnprocessableEntity
		body["field"] = ge.Field
	case cvoptimise.KindDuplicate, cvoptimise.KindInFlight:
		status = http.StatusConflict
	case cvoptimise.KindCooldown, cvoptimise.KindQuota:
		status = http.StatusTooManyRequests
		secs := ge.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body["retry_after"] = secs
	}
	svr.JSON(w, status, body)
}

func ListOptimisationsHandler(svr server.Server, cv cvOptimiser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withImprovements, _ := strconv.ParseBool(r.URL.Query().Get("improvements"))
		items, err := cv.History(r.Context(), userID(r), withImprovements)
		if err != nil {
			if clientGone(r, err) {
				return
			}
			svr.Log(err, "unable to list cv optimisations")
			items = []*cvoptimise.Optimisation{}
		}
		svr.JSON(w, http.StatusOK, map[string]interface{}{"items": items})
	}
}

func GetOptimisationHandler(svr server.Server, cv cvOptimiser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := cv.Get(r.Context(), userID(r), mux.Vars(r)["id"])
		if errors.Is(err, cvoptimise.ErrNotFound) {
			svr.JSONError(w, http.StatusNotFound, capitalise(err.Error())+".")
			return
		}
		if err != nil {
			if clientGone(r, err) {
				return
			}
			svr.Log(err, "unable to get cv optimisation")
			svr.JSONError(w, http.StatusServiceUnavailable, svr.RetryLaterMessage())
			return
		}
		svr.JSON(w, http.StatusOK, o)
	}
}

func capitalise(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
