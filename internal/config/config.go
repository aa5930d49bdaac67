package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	Port                    string
	DatabaseURL             string
	Env                     string // either prod or dev, will disable https and few other bits
	SessionKey              []byte
	JwtSigningKey           []byte // identity provider JWT secret used to verify access tokens
	MachineToken            string // protects admin routes
	SentryDSN               string
	SupportEmail            string // displayed in retry-later error messages
	SiteName                string
	SiteHost                string
	URLProtocol             string
	VacanciesPerPage        int           // configures how many vacancies are shown per page result
	MapBatchSize            int           // rows fetched per round trip by the map view
	MapCacheTTL             time.Duration // how long map view results stay cached
	RetryAttempts           int           // total attempts for listing and map reads
	RetryDelay              time.Duration // fixed delay between attempts
	GeminiAPIKey            string
	GeminiModel             string
	CVMinLength             int
	JobDescriptionMinLength int
	CVCooldown              time.Duration
	CVDailyQuota            int    // successful analyses per user per 24h
	RedisURL                string // when empty cv guard state is kept in memory
	RevalidateURL           string
	RevalidateSecret        string
}

func LoadConfig() (Config, error) {
	// .env is optional, real environment always wins
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		return Config{}, fmt.Errorf("PORT cannot be empty")
	}
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL cannot be empty")
	}
	env := strings.ToLower(os.Getenv("ENV"))
	if env == "" {
		env = "dev"
	}
	sessionKeyString := os.Getenv("SESSION_KEY")
	if sessionKeyString == "" {
		return Config{}, fmt.Errorf("SESSION_KEY cannot be empty")
	}
	sessionKeyBytes, err := base64.StdEncoding.DecodeString(sessionKeyString)
	if err != nil {
		return Config{}, errors.Wrapf(err, "unable to decode session key to bytes")
	}
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		return Config{}, fmt.Errorf("JWT_SIGNING_KEY cannot be empty")
	}
	geminiAPIKey := os.Getenv("GEMINI_API_KEY")
	if geminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY cannot be empty")
	}

	vacanciesPerPage, err := intFromEnv("VACANCIES_PER_PAGE", 10)
	if err != nil {
		return Config{}, err
	}
	mapBatchSize, err := intFromEnv("MAP_BATCH_SIZE", 1000)
	if err != nil {
		return Config{}, err
	}
	retryAttempts, err := intFromEnv("RETRY_ATTEMPTS", 3)
	if err != nil {
		return Config{}, err
	}
	cvMinLength, err := intFromEnv("CV_MIN_LENGTH", 200)
	if err != nil {
		return Config{}, err
	}
	jobDescriptionMinLength, err := intFromEnv("JOB_DESCRIPTION_MIN_LENGTH", 50)
	if err != nil {
		return Config{}, err
	}
	cvDailyQuota, err := intFromEnv("CV_DAILY_QUOTA", 20)
	if err != nil {
		return Config{}, err
	}
	retryDelay, err := durationFromEnv("RETRY_DELAY", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	cvCooldown, err := durationFromEnv("CV_COOLDOWN", 20*time.Second)
	if err != nil {
		return Config{}, err
	}
	mapCacheTTL, err := durationFromEnv("MAP_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	if vacanciesPerPage <= 0 {
		return Config{}, fmt.Errorf("VACANCIES_PER_PAGE must be positive")
	}
	if mapBatchSize <= 0 {
		return Config{}, fmt.Errorf("MAP_BATCH_SIZE must be positive")
	}
	if retryAttempts <= 0 {
		return Config{}, fmt.Errorf("RETRY_ATTEMPTS must be positive")
	}

	geminiModel := os.Getenv("GEMINI_MODEL")
	if geminiModel == "" {
		geminiModel = "gemini-1.5-flash"
	}
	supportEmail := os.Getenv("SUPPORT_EMAIL")
	if supportEmail == "" {
		supportEmail = "support@apprenticewatch.com"
	}
	siteName := os.Getenv("SITE_NAME")
	if siteName == "" {
		siteName = "ApprenticeWatch"
	}
	siteHost := os.Getenv("SITE_HOST")
	if siteHost == "" {
		siteHost = "apprenticewatch.com"
	}
	urlProtocol := "https"
	if env == "dev" {
		urlProtocol = "http"
	}

	return Config{
		Port:                    port,
		DatabaseURL:             databaseURL,
		Env:                     env,
		SessionKey:              sessionKeyBytes,
		JwtSigningKey:           []byte(jwtSigningKey),
		MachineToken:            os.Getenv("MACHINE_TOKEN"),
		SentryDSN:               os.Getenv("SENTRY_DSN"),
		SupportEmail:            supportEmail,
		SiteName:                siteName,
		SiteHost:                siteHost,
		URLProtocol:             urlProtocol,
		VacanciesPerPage:        vacanciesPerPage,
		MapBatchSize:            mapBatchSize,
		MapCacheTTL:             mapCacheTTL,
		RetryAttempts:           retryAttempts,
		RetryDelay:              retryDelay,
		GeminiAPIKey:            geminiAPIKey,
		GeminiModel:             geminiModel,
		CVMinLength:             cvMinLength,
		JobDescriptionMinLength: jobDescriptionMinLength,
		CVCooldown:              cvCooldown,
		CVDailyQuota:            cvDailyQuota,
		RedisURL:                os.Getenv("REDIS_URL"),
		RevalidateURL:           os.Getenv("REVALIDATE_URL"),
		RevalidateSecret:        os.Getenv("REVALIDATE_SECRET"),
	}, nil
}

// ToolConfig is the subset of settings the maintenance commands need.
type ToolConfig struct {
	DatabaseURL      string
	RevalidateURL    string
	RevalidateSecret string
}

// LoadToolConfig reads only what the maintenance commands use, so they run
// without the web server's secrets.
func LoadToolConfig() (ToolConfig, error) {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return ToolConfig{}, fmt.Errorf("DATABASE_URL cannot be empty")
	}
	return ToolConfig{
		DatabaseURL:      databaseURL,
		RevalidateURL:    os.Getenv("REVALIDATE_URL"),
		RevalidateSecret: os.Getenv("REVALIDATE_SECRET"),
	}, nil
}

func (c Config) SiteURL() string {
	return fmt.Sprintf("%s://%s", c.URLProtocol, c.SiteHost)
}

func intFromEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Wrapf(err, "unable to convert %s to int", key)
	}
	return n, nil
}

func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Wrapf(err, "unable to parse %s as duration", key)
	}
	return d, nil
}
