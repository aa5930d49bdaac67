package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apprenticewatch/apprenticewatch/internal/server"
	"github.com/apprenticewatch/apprenticewatch/internal/vacancy"
	"github.com/gorilla/feeds"
	"github.com/snabb/sitemap"
)

const (
	rssFeedSize = 20
	// a single sitemap file holds at most 50k urls
	sitemapMaxURLs = 50000
)

type latestVacancies interface {
	LatestN(ctx context.Context, n int, f vacancy.Filters) ([]*vacancy.Vacancy, error)
}

func ServeRSSFeed(svr server.Server, repo latestVacancies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cached, ok := svr.CacheGet(server.CacheKeyFeed); ok {
			svr.XML(w, http.StatusOK, cached)
			return
		}
		vacancies, err := repo.LatestN(r.Context(), rssFeedSize, vacancy.Filters{})
		if err != nil {
			svr.Log(err, "unable to retrieve vacancies for RSS Feed")
			svr.XML(w, http.StatusInternalServerError, []byte{})
			return
		}
		cfg := svr.GetConfig()
		siteURL := cfg.SiteURL()
		feed := &feeds.Feed{
			Title:       cfg.SiteName + " Apprenticeships",
			Link:        &feeds.Link{Href: siteURL},
			Description: "The latest apprenticeship vacancies in the UK",
			Author:      &feeds.Author{Name: cfg.SiteName, Email: cfg.SupportEmail},
			Created:     time.Now(),
		}
		for _, v := range vacancies {
			feed.Items = append(feed.Items, &feeds.Item{
				Id:          v.ID,
				Title:       feedTitle(v),
				Link:        &feeds.Link{Href: fmt.Sprintf("%s/vacancy/%s", siteURL, v.Slug)},
				Description: v.Description,
				Author:      &feeds.Author{Name: v.Employer.Name},
				Created:     v.PostedDate,
			})
		}
		rssFeed, err := feed.ToRss()
		if err != nil {
			svr.Log(err, "unable to convert rss feed to xml")
			svr.XML(w, http.StatusInternalServerError, []byte{})
			return
		}
		if err := svr.CacheSet(server.CacheKeyFeed, []byte(rssFeed)); err != nil {
			svr.Log(err, "unable to cache rss feed")
		}
		svr.XML(w, http.StatusOK, []byte(rssFeed))
	}
}

func feedTitle(v *vacancy.Vacancy) string {
	parts := []string{v.Title}
	if v.Employer.Name != "" {
		parts = append(parts, "with "+v.Employer.Name)
	}
	title := strings.Join(parts, " ")
	if v.Address.Locality != "" {
		title += " - " + v.Address.Locality
	}
	return title
}

func SitemapHandler(svr server.Server, repo latestVacancies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cached, ok := svr.CacheGet(server.CacheKeySitemap); ok {
			svr.XML(w, http.StatusOK, cached)
			return
		}
		vacancies, err := repo.LatestN(r.Context(), sitemapMaxURLs-1, vacancy.Filters{})
		if err != nil {
			svr.Log(err, "unable to retrieve vacancies for sitemap")
			svr.TEXT(w, http.StatusInternalServerError, "unable to fetch sitemap")
			return
		}
		siteURL := svr.GetConfig().SiteURL()
		now := time.Now().UTC()
		sm := sitemap.New()
		sm.Add(&sitemap.URL{Loc: siteURL + "/", LastMod: &now, ChangeFreq: sitemap.Daily})
		for _, v := range vacancies {
			posted := v.PostedDate
			sm.Add(&sitemap.URL{
				Loc:        fmt.Sprintf("%s/vacancy/%s", siteURL, v.Slug),
				LastMod:    &posted,
				ChangeFreq: sitemap.Weekly,
			})
		}
		buf := new(bytes.Buffer)
		if _, err := sm.WriteTo(buf); err != nil {
			svr.Log(err, "sitemap.WriteTo")
			svr.TEXT(w, http.StatusInternalServerError, "unable to write sitemap")
			return
		}
		if err := svr.CacheSet(server.CacheKeySitemap, buf.Bytes()); err != nil {
			svr.Log(err, "unable to cache sitemap")
		}
		svr.XML(w, http.StatusOK, buf.Bytes())
	}
}
