package cvoptimise

import (
	"context"
	"database/sql"
	"time"

	"github.com/apprenticewatch/apprenticewatch/internal/database"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
)

type Repository struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:    db,
		now:   time.Now,
		newID: func() string { return ksuid.New().String() },
	}
}

// Record stores an analysis and its improvements atomically and returns the
// new optimisation.
func (r *Repository) Record(ctx context.Context, userID, cvText, jobDescription string, result *AnalysisResult, meta Metadata) (*Optimisation, error) {
	if result == nil {
		return nil, errors.New("nil analysis result")
	}
	o := &Optimisation{
		ID:             r.newID(),
		UserID:         userID,
		CVText:         cvText,
		JobDescription: jobDescription,
		OverallScore:   result.OverallScore,
		CreatedAt:      r.now().UTC(),
		Metadata:       meta,
		Improvements:   make([]Improvement, 0, len(result.Improvements)),
	}
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cv_optimisation (id, user_id, cv_text, job_description, overall_score, token_count, processing_time_ms, model_version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			o.ID,
			o.UserID,
			o.CVText,
			o.JobDescription,
			o.OverallScore,
			nullInt(int64(meta.TokenCount)),
			nullInt(meta.ProcessingTime.Milliseconds()),
			nullString(meta.ModelVersion),
			o.CreatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert optimisation")
		}
		for i, imp := range result.Improvements {
			imp.ID = r.newID()
			if imp.Suggestions == nil {
				imp.Suggestions = Suggestions{}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO cv_optimisation_improvement (id, optimisation_id, position, section, score, impact, context, suggestions, optimised_content)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				imp.ID,
				o.ID,
				i,
				imp.Section,
				imp.Score,
				string(NormaliseImpact(string(imp.Impact))),
				nullString(imp.Context),
				imp.Suggestions,
				nullString(imp.OptimisedContent),
			)
			if err != nil {
				return errors.Wrapf(err, "insert improvement %d", i)
			}
			imp.Impact = NormaliseImpact(string(imp.Impact))
			o.Improvements = append(o.Improvements, imp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

const optimisationColumns = `id, user_id, cv_text, job_description, overall_score, token_count, processing_time_ms, model_version, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOptimisation(s scanner) (*Optimisation, error) {
	o := &Optimisation{Improvements: []Improvement{}}
	var (
		tokens, processingMs sql.NullInt64
		model                sql.NullString
	)
	err := s.Scan(&o.ID, &o.UserID, &o.CVText, &o.JobDescription, &o.OverallScore, &tokens, &processingMs, &model, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Metadata = Metadata{
		TokenCount:     int(tokens.Int64),
		ProcessingTime: time.Duration(processingMs.Int64) * time.Millisecond,
		ModelVersion:   model.String,
	}
	return o, nil
}

// ListForUser returns the user's optimisations, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID string, withImprovements bool) ([]*Optimisation, error) {
	list := []*Optimisation{}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+optimisationColumns+`
		FROM cv_optimisation
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return list, errors.Wrap(err, "list optimisations")
	}
	defer rows.Close()
	for rows.Next() {
		o, err := scanOptimisation(rows)
		if err != nil {
			return list, errors.Wrap(err, "scan optimisation")
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return list, errors.Wrap(err, "iterate optimisations")
	}
	if !withImprovements || len(list) == 0 {
		return list, nil
	}
	if err := r.attachImprovements(ctx, list); err != nil {
		return list, err
	}
	return list, nil
}

// GetForUser returns ErrNotFound both for unknown ids and for rows owned by
// someone else.
func (r *Repository) GetForUser(ctx context.Context, userID, id string) (*Optimisation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+optimisationColumns+`
		FROM cv_optimisation
		WHERE id = $1 AND user_id = $2`, id, userID)
	o, err := scanOptimisation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get optimisation")
	}
	if err := r.attachImprovements(ctx, []*Optimisation{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repository) attachImprovements(ctx context.Context, list []*Optimisation) error {
	byID := make(map[string]*Optimisation, len(list))
	ids := make([]string, 0, len(list))
	for _, o := range list {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT optimisation_id, id, section, score, impact, context, suggestions, optimised_content
		FROM cv_optimisation_improvement
		WHERE optimisation_id = ANY($1)
		ORDER BY optimisation_id, position ASC`, pq.Array(ids))
	if err != nil {
		return errors.Wrap(err, "list improvements")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			parentID, impact string
			about, optimised sql.NullString
			imp              Improvement
		)
		if err := rows.Scan(&parentID, &imp.ID, &imp.Section, &imp.Score, &impact, &about, &imp.Suggestions, &optimised); err != nil {
			return errors.Wrap(err, "scan improvement")
		}
		imp.Impact = NormaliseImpact(impact)
		imp.Context = about.String
		imp.OptimisedContent = optimised.String
		if o, ok := byID[parentID]; ok {
			o.Improvements = append(o.Improvements, imp)
		}
	}
	return errors.Wrap(rows.Err(), "iterate improvements")
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n > 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
