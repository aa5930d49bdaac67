package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/apprenticewatch/apprenticewatch/internal/revalidate"
	"github.com/apprenticewatch/apprenticewatch/internal/server"
	"github.com/apprenticewatch/apprenticewatch/internal/vacancy"
	"github.com/gorilla/mux"
)

type flagSetter interface {
	SetFlags(ctx context.Context, id string, u vacancy.FlagUpdate) (string, error)
}

type flagsRequest struct {
	IsActive              *bool `json:"is_active"`
	IsNationalVacancy     *bool `json:"is_national_vacancy"`
	IsDisabilityConfident *bool `json:"is_disability_confident"`
}

// UpdateVacancyFlagsHandler changes the admin flags of a vacancy, then drops
// cached map results and asks the frontend to rebuild the affected pages.
func UpdateVacancyFlagsHandler(svr server.Server, repo flagSetter, rv revalidate.Revalidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req flagsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			svr.JSONError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		update := vacancy.FlagUpdate{
			IsActive:              req.IsActive,
			IsNationalVacancy:     req.IsNationalVacancy,
			IsDisabilityConfident: req.IsDisabilityConfident,
		}
		if update.Empty() {
			svr.JSONError(w, http.StatusBadRequest, "no flags to update")
			return
		}
		slug, err := repo.SetFlags(r.Context(), id, update)
		if errors.Is(err, vacancy.ErrNotFound) {
			svr.JSONError(w, http.StatusNotFound, "vacancy not found")
			return
		}
		if err != nil {
			svr.Log(err, "unable to update flags for vacancy "+id)
			svr.JSONError(w, http.StatusInternalServerError, svr.RetryLaterMessage())
			return
		}
		if err := svr.CacheReset(); err != nil {
			svr.Log(err, "unable to reset vacancy cache")
		}
		revalidated := true
		if err := revalidate.All(r.Context(), rv, "/vacancy/"+slug, "/"); err != nil {
			svr.Log(err, "unable to revalidate vacancy "+slug)
			revalidated = false
		}
		svr.JSON(w, http.StatusOK, map[string]interface{}{
			"id":          id,
			"slug":        slug,
			"revalidated": revalidated,
		})
	}
}
