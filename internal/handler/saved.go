package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apprenticewatch/apprenticewatch/internal/event"
	"github.com/apprenticewatch/apprenticewatch/internal/middleware"
	"github.com/apprenticewatch/apprenticewatch/internal/savedvacancy"
	"github.com/apprenticewatch/apprenticewatch/internal/server"
	"github.com/apprenticewatch/apprenticewatch/internal/vacancy"
	"github.com/gorilla/mux"
)

type savedService interface {
	Save(ctx context.Context, userID, vacancyID string) error
	Unsave(ctx context.Context, userID, vacancyID string) error
	IsSaved(ctx context.Context, userID, vacancyID string) (bool, error)
	ListSaved(ctx context.Context, userID string) ([]*vacancy.Vacancy, error)
	SavedIDs(ctx context.Context, userID string) ([]string, error)
	RemoveAll(ctx context.Context, userID string) (int64, error)
}

type eventSubscriber interface {
	Subscribe(userID string, h event.Handler) func()
	Last(userID string) (event.Event, bool)
}

// keepAliveInterval stops proxies from closing idle event streams.
var keepAliveInterval = 25 * time.Second

func userID(r *http.Request) string {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return ""
	}
	return u.UserID()
}

func ListSavedHandler(svr server.Server, saved savedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := saved.ListSaved(r.Context(), userID(r))
		if err != nil {
			svr.Log(err, "unable to list saved vacancies")
			items = []*vacancy.Vacancy{}
		}
		svr.JSON(w, http.StatusOK, map[string]interface{}{"items": items})
	}
}

func SavedIDsHandler(svr server.Server, saved savedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := saved.SavedIDs(r.Context(), userID(r))
		if err != nil {
			svr.Log(err, "unable to list saved vacancy ids")
			ids = []string{}
		}
		svr.JSON(w, http.StatusOK, map[string]interface{}{"ids": ids})
	}
}

func IsSavedHandler(svr server.Server, saved savedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := saved.IsSaved(r.Context(), userID(r), mux.Vars(r)["vacancyID"])
		if errors.Is(err, savedvacancy.ErrInvalidVacancy) {
			svr.JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			svr.Log(err, "unable to check saved vacancy")
			ok = false
		}
		svr.JSON(w, http.StatusOK, map[string]bool{"saved": ok})
	}
}

func SaveVacancyHandler(svr server.Server, saved savedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["vacancyID"]
		if !writeSavedError(svr, w, saved.Save(r.Context(), userID(r), id), "unable to save vacancy "+id) {
			return
		}
		svr.JSON(w, http.StatusOK, map[string]interface{}{"saved": true, "vacancy_id": id})
	}
}

func UnsaveVacancyHandler(svr server.Server, saved savedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["vacancyID"]
		if !writeSavedError(svr, w, saved.Unsave(r.Context(), userID(r), id), "unable to unsave vacancy "+id) {
			return
		}
		svr.JSON(w, http.StatusOK, map[string]interface{}{"saved": false, "vacancy_id": id})
	}
}

func RemoveAllSavedHandler(svr server.Server, saved savedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := saved.RemoveAll(r.Context(), userID(r))
		if !writeSavedError(svr, w, err, "unable to remove saved vacancies") {
			return
		}
		svr.JSON(w, http.StatusOK, map[string]int64{"removed": n})
	}
}

// writeSavedError writes the response for a failed write and reports whether
// the caller should carry on.
func writeSavedError(svr server.Server, w http.ResponseWriter, err error, msg string) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, savedvacancy.ErrInvalidVacancy):
		svr.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, savedvacancy.ErrInvalidUser):
		svr.JSONError(w, http.StatusUnauthorized, "Please sign in to continue.")
	default:
		svr.Log(err, msg)
		svr.JSONError(w, http.StatusInternalServerError, svr.RetryLaterMessage())
	}
	return false
}

// SavedEventsHandler streams the signed-in user's save events as server-sent
// events. Events are not replayed, a client that reconnects only gets the
// latest one.
func SavedEventsHandler(svr server.Server, bus eventSubscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			svr.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		user := userID(r)

		events := make(chan event.Event, 16)
		unsubscribe := bus.Subscribe(user, func(e event.Event) {
			select {
			case events <- e:
			default:
				// slow reader, drop
			}
		})
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		if last, ok := bus.Last(user); ok {
			writeEvent(w, last)
		}
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case e := <-events:
				if err := writeEvent(w, e); err != nil {
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
	return err
}
