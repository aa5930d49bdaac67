package vacancy

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultMapBatchSize = 1000

type Repository struct {
	db        *sql.DB
	log       zerolog.Logger
	retry     RetryPolicy
	batchSize int
	now       func() time.Time
}

type Option func(*Repository)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Repository) { r.log = l }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Repository) { r.retry = p }
}

func WithMapBatchSize(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func NewRepository(db *sql.DB, opts ...Option) *Repository {
	r := &Repository{
		db:        db,
		log:       zerolog.Nop(),
		retry:     DefaultRetryPolicy,
		batchSize: DefaultMapBatchSize,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// whereClause accumulates conditions and their positional args. Every `?` in
// a condition is replaced with the next placeholder.
type whereClause struct {
	conds []string
	args  []interface{}
}

func (w *whereClause) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *whereClause) next() string {
	return fmt.Sprintf("$%d", len(w.args)+1)
}

func (w *whereClause) String() string {
	return strings.Join(w.conds, " AND ")
}

// visibleWhere is the end user visibility rule plus the filters
func (r *Repository) visibleWhere(f Filters) *whereClause {
	w := &whereClause{}
	w.add(`v.is_active = TRUE AND v.closing_date > ?`, r.now().UTC())
	if s := strings.TrimSpace(f.Search); s != "" {
		w.add(`(v.title ILIKE '%' || ? || '%' OR v.description ILIKE '%' || ? || '%' OR v.employer_name ILIKE '%' || ? || '%')`, escapeLike(s))
	}
	if l := strings.TrimSpace(f.Location); l != "" {
		w.add(`v.address_locality ILIKE '%' || ? || '%'`, escapeLike(l))
	}
	if level, ok := f.LevelValue(); ok {
		w.add(`v.course_level = ?`, level)
	}
	if c := strings.TrimSpace(f.Category); c != "" {
		w.add(`v.course_route = ?`, c)
	}
	return w
}

// Query returns one page of visible vacancies ordered by quality score and the
// total number of matches. page is 1-indexed, values below 1 mean the first page.
func (r *Repository) Query(ctx context.Context, page, pageSize int, f Filters) ([]*Vacancy, int, error) {
	vacancies := []*Vacancy{}
	if pageSize <= 0 {
		return vacancies, 0, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if page < 1 {
		page = 1
	}
	// no table holds that many rows, so the page is empty but the count is real
	if page > math.MaxInt/pageSize {
		total, err := r.count(ctx, f)
		return vacancies, total, err
	}
	offset := page*pageSize - pageSize
	w := r.visibleWhere(f)
	limitArg := w.next()
	stmt := `SELECT count(*) OVER() AS full_count, ` + vacancyColumns + `
		FROM vacancy v
		LEFT JOIN vacancy_quality_score q ON q.vacancy_id = v.id
		WHERE ` + w.String() + `
		ORDER BY q.total_score DESC NULLS LAST, v.posted_date DESC, v.id ASC
		LIMIT ` + limitArg + ` OFFSET ` + fmt.Sprintf("$%d", len(w.args)+2)
	rows, err := r.db.QueryContext(ctx, stmt, append(w.args, pageSize, offset)...)
	if err != nil {
		return vacancies, 0, errors.Wrap(err, "query vacancies")
	}
	defer rows.Close()
	now := r.now()
	var fullRowsCount int
	for rows.Next() {
		vr := &row{}
		if err := rows.Scan(append([]interface{}{&fullRowsCount}, vr.dest()...)...); err != nil {
			return vacancies, 0, errors.Wrap(err, "scan vacancy")
		}
		vacancies = append(vacancies, vr.toVacancy(now))
	}
	if err := rows.Err(); err != nil {
		return vacancies, 0, errors.Wrap(err, "iterate vacancies")
	}
	// past the last page the window count is unavailable
	if len(vacancies) == 0 && offset > 0 {
		fullRowsCount, err = r.count(ctx, f)
		if err != nil {
			return vacancies, 0, err
		}
	}
	return vacancies, fullRowsCount, nil
}

// QueryWithRetry is Query under the repository retry policy.
func (r *Repository) QueryWithRetry(ctx context.Context, page, pageSize int, f Filters) ([]*Vacancy, int, error) {
	var (
		vacancies []*Vacancy
		total     int
	)
	err := r.retry.Do(ctx, func() error {
		var err error
		vacancies, total, err = r.Query(ctx, page, pageSize, f)
		return err
	}, func(err error, attempt int) {
		r.log.Warn().Err(err).Int("attempt", attempt).Int("page", page).Msg("vacancy query failed, retrying")
	})
	if err != nil {
		return []*Vacancy{}, 0, err
	}
	return vacancies, total, nil
}

func (r *Repository) count(ctx context.Context, f Filters) (int, error) {
	w := r.visibleWhere(f)
	var c int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM vacancy v WHERE `+w.String(), w.args...).Scan(&c)
	if err != nil {
		return 0, errors.Wrap(err, "count vacancies")
	}
	return c, nil
}

// AllForMap returns every visible vacancy matching f, fetched in batches keyed
// on id until a short batch comes back. A failure anywhere restarts the whole
// fetch, so a result never mixes rows from two attempts.
func (r *Repository) AllForMap(ctx context.Context, f Filters) ([]*Vacancy, error) {
	var all []*Vacancy
	err := r.retry.Do(ctx, func() error {
		var err error
		all, err = r.fetchAll(ctx, f)
		return err
	}, func(err error, attempt int) {
		r.log.Warn().Err(err).Int("attempt", attempt).Msg("map vacancy fetch failed, retrying")
	})
	if err != nil {
		return []*Vacancy{}, err
	}
	return all, nil
}

func (r *Repository) fetchAll(ctx context.Context, f Filters) ([]*Vacancy, error) {
	all := []*Vacancy{}
	lastID := ""
	for {
		w := r.visibleWhere(f)
		w.add(`v.id > ?`, lastID)
		stmt := `SELECT ` + vacancyColumns + `
			FROM vacancy v
			LEFT JOIN vacancy_quality_score q ON q.vacancy_id = v.id
			WHERE ` + w.String() + `
			ORDER BY v.id ASC
			LIMIT ` + w.next()
		batch, err := r.list(ctx, stmt, append(w.args, r.batchSize)...)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch map batch after %q", lastID)
		}
		all = append(all, batch...)
		if len(batch) < r.batchSize {
			return all, nil
		}
		lastID = batch[len(batch)-1].ID
	}
}

// LatestN returns the n most recently posted visible vacancies.
func (r *Repository) LatestN(ctx context.Context, n int, f Filters) ([]*Vacancy, error) {
	w := r.visibleWhere(f)
	stmt := `SELECT ` + vacancyColumns + `
		FROM vacancy v
		LEFT JOIN vacancy_quality_score q ON q.vacancy_id = v.id
		WHERE ` + w.String() + `
		ORDER BY v.posted_date DESC, v.id ASC
		LIMIT ` + w.next()
	vacancies, err := r.list(ctx, stmt, append(w.args, n)...)
	if err != nil {
		return []*Vacancy{}, errors.Wrap(err, "latest vacancies")
	}
	return vacancies, nil
}

func (r *Repository) list(ctx context.Context, stmt string, args ...interface{}) ([]*Vacancy, error) {
	vacancies := []*Vacancy{}
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return vacancies, err
	}
	defer rows.Close()
	now := r.now()
	for rows.Next() {
		vr := &row{}
		if err := rows.Scan(vr.dest()...); err != nil {
			return vacancies, err
		}
		vacancies = append(vacancies, vr.toVacancy(now))
	}
	return vacancies, rows.Err()
}

// GetByID returns a single visible vacancy.
func (r *Repository) GetByID(ctx context.Context, id string) (*Vacancy, error) {
	w := r.visibleWhere(Filters{})
	w.add(`v.id = ?`, id)
	return r.one(ctx, `SELECT `+vacancyColumns+`
		FROM vacancy v
		LEFT JOIN vacancy_quality_score q ON q.vacancy_id = v.id
		WHERE `+w.String(), w.args...)
}

// GetBySlug returns a single visible vacancy by slug. Vacancies without a slug
// are addressed by id, so an id is accepted too.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*Vacancy, error) {
	w := r.visibleWhere(Filters{})
	w.add(`(v.slug = ? OR v.id = ?)`, slug)
	return r.one(ctx, `SELECT `+vacancyColumns+`
		FROM vacancy v
		LEFT JOIN vacancy_quality_score q ON q.vacancy_id = v.id
		WHERE `+w.String()+`
		ORDER BY CASE WHEN v.slug = `+fmt.Sprintf("$%d", len(w.args))+` THEN 0 ELSE 1 END
		LIMIT 1`, w.args...)
}

func (r *Repository) one(ctx context.Context, stmt string, args ...interface{}) (*Vacancy, error) {
	vr := &row{}
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(vr.dest()...)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get vacancy")
	}
	return vr.toVacancy(r.now()), nil
}

// SetFlags updates the admin editable flags and returns the vacancy slug, or
// its id when it has none.
func (r *Repository) SetFlags(ctx context.Context, id string, u FlagUpdate) (string, error) {
	if u.Empty() {
		return "", fmt.Errorf("no flags to update for vacancy %s", id)
	}
	var slug string
	err := r.db.QueryRowContext(ctx,
		`UPDATE vacancy SET
			is_active = COALESCE($2, is_active),
			is_national_vacancy = COALESCE($3, is_national_vacancy),
			is_disability_confident = COALESCE($4, is_disability_confident)
		WHERE id = $1
		RETURNING COALESCE(NULLIF(slug, ''), id)`,
		id,
		nullBool(u.IsActive),
		nullBool(u.IsNationalVacancy),
		nullBool(u.IsDisabilityConfident),
	).Scan(&slug)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "update flags for vacancy %s", id)
	}
	return slug, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// escapeLike makes user input match literally inside an ILIKE pattern
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
