package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/apprenticewatch/apprenticewatch/internal/server"
	"github.com/apprenticewatch/apprenticewatch/internal/vacancy"
	"github.com/gorilla/mux"
)

type vacancyQuerier interface {
	QueryWithRetry(ctx context.Context, page, pageSize int, f vacancy.Filters) ([]*vacancy.Vacancy, int, error)
	AllForMap(ctx context.Context, f vacancy.Filters) ([]*vacancy.Vacancy, error)
	GetBySlug(ctx context.Context, slug string) (*vacancy.Vacancy, error)
}

type vacancyPage struct {
	Items    []*vacancy.Vacancy `json:"items"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Pages    int                `json:"pages"`
	Seq      int64              `json:"seq"`
	Error    string             `json:"error,omitempty"`
}

type vacancyMap struct {
	Items json.RawMessage `json:"items"`
	Total int             `json:"total"`
	Seq   int64           `json:"seq"`
	View  string          `json:"view"`
}

// ListVacanciesHandler serves list and map views. The client sends a
// monotonically increasing seq with each request and drops any response whose
// seq is older than the last one it rendered.
func ListVacanciesHandler(svr server.Server, repo vacancyQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f, page, view := vacancy.ParseFiltersFromQuery(q)
		seq, _ := strconv.ParseInt(q.Get("seq"), 10, 64)

		if view == vacancy.ViewMap {
			serveVacancyMap(svr, repo, w, r, f, seq)
			return
		}

		pageSize := svr.GetConfig().VacanciesPerPage
		if pageSize <= 0 {
			pageSize = 10
		}
		vacancies, total, err := repo.QueryWithRetry(r.Context(), page, pageSize, f)
		if err != nil {
			if clientGone(r, err) {
				return
			}
			svr.Log(err, "unable to query vacancies")
			svr.JSON(w, http.StatusServiceUnavailable, vacancyPage{
				Items:    []*vacancy.Vacancy{},
				Page:     page,
				PageSize: pageSize,
				Seq:      seq,
				Error:    svr.RetryLaterMessage(),
			})
			return
		}
		svr.JSON(w, http.StatusOK, vacancyPage{
			Items:    vacancies,
			Total:    total,
			Page:     page,
			PageSize: pageSize,
			Pages:    int(math.Ceil(float64(total) / float64(pageSize))),
			Seq:      seq,
		})
	}
}

func serveVacancyMap(svr server.Server, repo vacancyQuerier, w http.ResponseWriter, r *http.Request, f vacancy.Filters, seq int64) {
	key := server.CacheKeyMapPrefix + f.CacheKey()
	if cached, ok := svr.CacheGet(key); ok {
		var out vacancyMap
		if err := json.Unmarshal(cached, &out); err == nil {
			out.Seq = seq
			svr.JSON(w, http.StatusOK, out)
			return
		}
	}
	all, err := repo.AllForMap(r.Context(), f)
	if err != nil {
		if clientGone(r, err) {
			return
		}
		svr.Log(err, "unable to fetch vacancies for map")
		svr.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"items": []*vacancy.Vacancy{},
			"seq":   seq,
			"view":  string(vacancy.ViewMap),
			"error": svr.RetryLaterMessage(),
		})
		return
	}
	located := make([]*vacancy.Vacancy, 0, len(all))
	for _, v := range all {
		if v.HasLocation {
			located = append(located, v)
		}
	}
	items, err := json.Marshal(located)
	if err != nil {
		svr.Log(err, "unable to marshal map vacancies")
		svr.JSONError(w, http.StatusInternalServerError, svr.RetryLaterMessage())
		return
	}
	out := vacancyMap{Items: items, Total: len(located), View: string(vacancy.ViewMap)}
	if b, err := json.Marshal(out); err == nil {
		if err := svr.CacheSet(key, b); err != nil {
			svr.Log(err, "unable to cache map vacancies")
		}
	}
	out.Seq = seq
	svr.JSON(w, http.StatusOK, out)
}

func VacancyBySlugHandler(svr server.Server, repo vacancyQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := mux.Vars(r)["slug"]
		v, err := repo.GetBySlug(r.Context(), slug)
		if errors.Is(err, vacancy.ErrNotFound) {
			svr.JSONError(w, http.StatusNotFound, "This vacancy is no longer available.")
			return
		}
		if err != nil {
			if clientGone(r, err) {
				return
			}
			svr.Log(err, "unable to get vacancy "+slug)
			svr.JSONError(w, http.StatusServiceUnavailable, svr.RetryLaterMessage())
			return
		}
		svr.JSON(w, http.StatusOK, v)
	}
}

func CategoriesHandler(svr server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svr.JSON(w, http.StatusOK, map[string]interface{}{"items": vacancy.Categories()})
	}
}

// clientGone reports whether err is only the request being abandoned.
func clientGone(r *http.Request, err error) bool {
	return r.Context().Err() != nil && errors.Is(err, context.Canceled)
}
