package savedvacancy

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db}
}

// Insert adds the pair, saving twice leaves a single row.
func (r *Repository) Insert(ctx context.Context, userID, vacancyID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO saved_apprenticeship (user_id, vacancy_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, vacancy_id) DO NOTHING`,
		userID, vacancyID, at.UTC())
	return errors.Wrap(err, "insert saved apprenticeship")
}

func (r *Repository) Delete(ctx context.Context, userID, vacancyID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM saved_apprenticeship WHERE user_id = $1 AND vacancy_id = $2`,
		userID, vacancyID)
	return errors.Wrap(err, "delete saved apprenticeship")
}

func (r *Repository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM saved_apprenticeship WHERE user_id = $1`, userID)
	if err != nil {
		return 0, errors.Wrap(err, "delete saved apprenticeships")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}

func (r *Repository) Exists(ctx context.Context, userID, vacancyID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM saved_apprenticeship WHERE user_id = $1 AND vacancy_id = $2)`,
		userID, vacancyID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check saved apprenticeship")
	}
	return exists, nil
}

// ListForUser returns the user's bookmarks, most recently saved first.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]*Saved, error) {
	saved := []*Saved{}
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, vacancy_id, created_at
		FROM saved_apprenticeship
		WHERE user_id = $1
		ORDER BY created_at DESC, vacancy_id ASC`, userID)
	if err != nil {
		return saved, errors.Wrap(err, "list saved apprenticeships")
	}
	defer rows.Close()
	for rows.Next() {
		s := &Saved{}
		if err := rows.Scan(&s.UserID, &s.VacancyID, &s.CreatedAt); err != nil {
			return saved, errors.Wrap(err, "scan saved apprenticeship")
		}
		saved = append(saved, s)
	}
	if err := rows.Err(); err != nil {
		return saved, errors.Wrap(err, "iterate saved apprenticeships")
	}
	return saved, nil
}
