package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// Extensions
//
// CREATE EXTENSION pg_trgm;
//
// Table Structure:
//
// CREATE TABLE IF NOT EXISTS vacancy (
// 	id                       VARCHAR(64) NOT NULL UNIQUE,
// 	slug                     VARCHAR(255) DEFAULT NULL,
// 	title                    VARCHAR(255) NOT NULL,
// 	description              TEXT NOT NULL DEFAULT '',
// 	full_description         TEXT DEFAULT NULL,
// 	employer_name            VARCHAR(255) NOT NULL DEFAULT '',
// 	employer_description     TEXT DEFAULT NULL,
// 	employer_website_url     VARCHAR(512) DEFAULT NULL,
// 	employer_contact_name    VARCHAR(255) DEFAULT NULL,
// 	employer_contact_email   VARCHAR(255) DEFAULT NULL,
// 	employer_contact_phone   VARCHAR(64) DEFAULT NULL,
// 	provider_name            VARCHAR(255) DEFAULT NULL,
// 	course_level             INTEGER DEFAULT NULL,
// 	course_route             VARCHAR(255) DEFAULT NULL,
// 	course_title             VARCHAR(255) DEFAULT NULL,
// 	apprenticeship_level     VARCHAR(64) DEFAULT NULL,
// 	posted_date              TIMESTAMP NOT NULL,
// 	closing_date             TIMESTAMP NOT NULL,
// 	start_date               TIMESTAMP DEFAULT NULL,
// 	wage_type                VARCHAR(64) DEFAULT NULL,
// 	wage_unit                VARCHAR(64) DEFAULT NULL,
// 	wage_additional_info     TEXT DEFAULT NULL,
// 	address_line_1           VARCHAR(255) DEFAULT NULL,
// 	address_line_2           VARCHAR(255) DEFAULT NULL,
// 	address_line_3           VARCHAR(255) DEFAULT NULL,
// 	address_locality         VARCHAR(255) DEFAULT NULL,
// 	postcode                 VARCHAR(16) DEFAULT NULL,
// 	latitude                 DOUBLE PRECISION DEFAULT NULL,
// 	longitude                DOUBLE PRECISION DEFAULT NULL,
// 	skills                   TEXT[] DEFAULT NULL,
// 	qualifications           JSONB DEFAULT NULL,
// 	is_active                BOOLEAN NOT NULL DEFAULT TRUE,
// 	is_national_vacancy      BOOLEAN NOT NULL DEFAULT FALSE,
// 	is_disability_confident  BOOLEAN NOT NULL DEFAULT FALSE,
// 	PRIMARY KEY(id)
// );
// CREATE UNIQUE INDEX vacancy_slug_idx ON vacancy (slug);
// CREATE INDEX vacancy_active_closing_idx ON vacancy (is_active, closing_date);
// CREATE INDEX vacancy_title_trgm_idx ON vacancy USING gin (title gin_trgm_ops);
// CREATE INDEX vacancy_locality_trgm_idx ON vacancy USING gin (address_locality gin_trgm_ops);
//
// CREATE TABLE IF NOT EXISTS vacancy_quality_score (
// 	vacancy_id           VARCHAR(64) NOT NULL REFERENCES vacancy (id) ON DELETE CASCADE,
// 	employer_reputation  DOUBLE PRECISION NOT NULL DEFAULT 0,
// 	listing_completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
// 	quality_indicators   DOUBLE PRECISION NOT NULL DEFAULT 0,
// 	time_factors         DOUBLE PRECISION NOT NULL DEFAULT 0,
// 	engagement           DOUBLE PRECISION NOT NULL DEFAULT 0,
// 	manual_boost         DOUBLE PRECISION NOT NULL DEFAULT 0,
// 	total_score          DOUBLE PRECISION NOT NULL DEFAULT 0,
// 	PRIMARY KEY(vacancy_id)
// );
// CREATE INDEX vacancy_quality_score_total_idx ON vacancy_quality_score (total_score DESC);
//
// CREATE TABLE IF NOT EXISTS saved_apprenticeship (
// 	user_id     UUID NOT NULL,
// 	vacancy_id  VARCHAR(64) NOT NULL,
// 	created_at  TIMESTAMP NOT NULL DEFAULT NOW(),
// 	UNIQUE(user_id, vacancy_id)
// );
// CREATE INDEX saved_apprenticeship_user_idx ON saved_apprenticeship (user_id, created_at DESC);
//
// CREATE TABLE IF NOT EXISTS cv_optimisation (
// 	id                 CHAR(27) NOT NULL UNIQUE,
// 	user_id            UUID NOT NULL,
// 	cv_text            TEXT NOT NULL,
// 	job_description    TEXT NOT NULL,
// 	overall_score      INTEGER NOT NULL,
// 	token_count        INTEGER DEFAULT NULL,
// 	processing_time_ms INTEGER DEFAULT NULL,
// 	model_version      VARCHAR(64) DEFAULT NULL,
// 	created_at         TIMESTAMP NOT NULL,
// 	PRIMARY KEY(id)
// );
// CREATE INDEX cv_optimisation_user_idx ON cv_optimisation (user_id, created_at DESC);
//
// CREATE TABLE IF NOT EXISTS cv_optimisation_improvement (
// 	id                CHAR(27) NOT NULL UNIQUE,
// 	optimisation_id   CHAR(27) NOT NULL REFERENCES cv_optimisation (id) ON DELETE CASCADE,
// 	position          INTEGER NOT NULL,
// 	section           VARCHAR(255) NOT NULL,
// 	score             INTEGER NOT NULL,
// 	impact            VARCHAR(16) NOT NULL,
// 	context           TEXT DEFAULT NULL,
// 	suggestions       TEXT NOT NULL,
// 	optimised_content TEXT DEFAULT NULL,
// 	PRIMARY KEY(id)
// );
// CREATE INDEX cv_optimisation_improvement_parent_idx ON cv_optimisation_improvement (optimisation_id, position);

// GetDbConn tries to establish a connection to postgres and return the connection handler
func GetDbConn(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// CloseDbConn closes db conn
func CloseDbConn(conn *sql.DB) {
	conn.Close()
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise, including when fn panics.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rollback failed: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}
