package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/apprenticewatch/apprenticewatch/internal/config"
	"github.com/apprenticewatch/apprenticewatch/internal/cvoptimise"
	"github.com/apprenticewatch/apprenticewatch/internal/database"
	"github.com/apprenticewatch/apprenticewatch/internal/event"
	"github.com/apprenticewatch/apprenticewatch/internal/handler"
	"github.com/apprenticewatch/apprenticewatch/internal/middleware"
	"github.com/apprenticewatch/apprenticewatch/internal/revalidate"
	"github.com/apprenticewatch/apprenticewatch/internal/savedvacancy"
	"github.com/apprenticewatch/apprenticewatch/internal/server"
	"github.com/apprenticewatch/apprenticewatch/internal/vacancy"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("unable to load config")
	}
	logger := newLogger(cfg.Env)

	conn, err := database.GetDbConn(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to postgres")
	}
	defer database.CloseDbConn(conn)

	sessionStore := sessions.NewCookieStore(cfg.SessionKey)
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.Secure = cfg.Env != "dev"

	svr := server.NewServer(cfg, conn, mux.NewRouter(), sessionStore, logger)

	bus := event.NewBus()
	vacancyRepo := vacancy.NewRepository(conn,
		vacancy.WithLogger(logger.With().Str("component", "vacancy").Logger()),
		vacancy.WithRetryPolicy(vacancy.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay}),
		vacancy.WithMapBatchSize(cfg.MapBatchSize),
	)
	savedService := savedvacancy.NewService(
		savedvacancy.NewRepository(conn),
		vacancyRepo,
		bus,
		logger.With().Str("component", "saved").Logger(),
	)

	ctx := context.Background()
	var store cvoptimise.FingerprintStore = cvoptimise.NewMemoryStore()
	if cfg.RedisURL != "" {
		rdb, err := cvoptimise.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to connect to redis")
		}
		defer rdb.Close()
		store = cvoptimise.NewRedisStore(rdb, cfg.CVCooldown)
	}
	guard := cvoptimise.NewGuard(cvoptimise.GuardConfig{
		CVMinLength:             cfg.CVMinLength,
		JobDescriptionMinLength: cfg.JobDescriptionMinLength,
		Cooldown:                cfg.CVCooldown,
		DailyQuota:              cfg.CVDailyQuota,
	}, store, logger.With().Str("component", "cv_guard").Logger())
	analyser, err := cvoptimise.NewGeminiAnalyser(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to create gemini client")
	}
	defer analyser.Close()
	cvService := cvoptimise.NewService(guard, analyser, cvoptimise.NewRepository(conn), logger.With().Str("component", "cv").Logger())

	revalidator := revalidate.NewClient(cfg.RevalidateURL, cfg.RevalidateSecret)

	svr.RegisterRoute("/health", handler.HealthHandler(svr, conn), []string{"GET"})
	svr.RegisterRoute("/rss", handler.ServeRSSFeed(svr, vacancyRepo), []string{"GET"})
	svr.RegisterRoute("/sitemap.xml", handler.SitemapHandler(svr, vacancyRepo), []string{"GET"})

	// vacancies
	svr.RegisterRoute("/api/vacancies", handler.ListVacanciesHandler(svr, vacancyRepo), []string{"GET"})
	svr.RegisterRoute("/api/vacancies/{slug}", handler.VacancyBySlugHandler(svr, vacancyRepo), []string{"GET"})
	svr.RegisterRoute("/api/categories", handler.CategoriesHandler(svr), []string{"GET"})

	// session
	svr.RegisterRoute("/api/session", handler.CreateSessionHandler(svr), []string{"POST"})
	svr.RegisterRoute("/api/session", handler.DeleteSessionHandler(svr), []string{"DELETE"})

	// saved vacancies
	svr.RegisterRoute("/api/saved", authed(svr, handler.ListSavedHandler(svr, savedService)), []string{"GET"})
	svr.RegisterRoute("/api/saved", authed(svr, handler.RemoveAllSavedHandler(svr, savedService)), []string{"DELETE"})
	svr.RegisterRoute("/api/saved/ids", authed(svr, handler.SavedIDsHandler(svr, savedService)), []string{"GET"})
	svr.RegisterRoute("/api/saved/events", authed(svr, handler.SavedEventsHandler(svr, bus)), []string{"GET"})
	svr.RegisterRoute("/api/saved/{vacancyID}", authed(svr, handler.IsSavedHandler(svr, savedService)), []string{"GET"})
	svr.RegisterRoute("/api/saved/{vacancyID}", authed(svr, handler.SaveVacancyHandler(svr, savedService)), []string{"POST", "PUT"})
	svr.RegisterRoute("/api/saved/{vacancyID}", authed(svr, handler.UnsaveVacancyHandler(svr, savedService)), []string{"DELETE"})

	// cv optimisation
	svr.RegisterRoute("/api/cv/optimise", authed(svr, handler.OptimiseCVHandler(svr, cvService)), []string{"POST"})
	svr.RegisterRoute("/api/cv/optimisations", authed(svr, handler.ListOptimisationsHandler(svr, cvService)), []string{"GET"})
	svr.RegisterRoute("/api/cv/optimisations/{id}", authed(svr, handler.GetOptimisationHandler(svr, cvService)), []string{"GET"})

	// admin
	svr.RegisterRoute(
		"/x/vacancy/{id}/flags",
		middleware.MachineAuthenticatedMiddleware(cfg.MachineToken, handler.UpdateVacancyFlagsHandler(svr, vacancyRepo, revalidator)),
		[]string{"PUT"},
	)

	logger.Info().Str("env", cfg.Env).Str("port", cfg.Port).Msg("starting server")
	if err := svr.Run(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func authed(svr server.Server, next http.HandlerFunc) http.HandlerFunc {
	return middleware.UserAuthenticatedMiddleware(svr.SessionStore, svr.GetJWTSigningKey(), next)
}

// newLogger writes human readable output in dev and JSON everywhere else.
func newLogger(env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "apprenticewatch").Logger()
}
