package cvoptimise

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	insertOptimisation = regexp.QuoteMeta(`INSERT INTO cv_optimisation (`)
	insertImprovement  = regexp.QuoteMeta(`INSERT INTO cv_optimisation_improvement (`)
	selectOptimisation = regexp.QuoteMeta(`SELECT id, user_id, cv_text, job_description, overall_score, token_count, processing_time_ms, model_version, created_at`)
	selectImprovements = regexp.QuoteMeta(`SELECT optimisation_id, id, section, score, impact, context, suggestions, optimised_content`)
)

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := NewRepository(db)
	repo.now = func() time.Time { return t0 }
	n := 0
	repo.newID = func() string {
		n++
		return fmt.Sprintf("id%d", n)
	}
	return repo, mock
}

func sampleResult() *AnalysisResult {
	return &AnalysisResult{
		OverallScore: 64,
		Improvements: []Improvement{
			{Section: "Skills", Score: 50, Impact: ImpactHigh, Suggestions: Suggestions{"Add Excel", "Add teamwork"}},
			{Section: "Education", Score: 80, Impact: "LOW", Context: "Grades matter"},
		},
	}
}

func TestRecordWritesOneTransaction(t *testing.T) {
	repo, mock := newTestRepository(t)
	meta := Metadata{TokenCount: 900, ProcessingTime: 1500 * time.Millisecond, ModelVersion: "gemini-1.5-flash"}

	mock.ExpectBegin()
	mock.ExpectExec(insertOptimisation).
		WithArgs("id1", testUser, validCV, validJD, 64, int64(900), int64(1500), "gemini-1.5-flash", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertImprovement).
		WithArgs("id2", "id1", 0, "Skills", 50, "high", nil, `["Add Excel","Add teamwork"]`, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertImprovement).
		WithArgs("id3", "id1", 1, "Education", 80, "low", "Grades matter", `[]`, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o, err := repo.Record(context.Background(), testUser, validCV, validJD, sampleResult(), meta)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "id1", o.ID)
	assert.Equal(t, t0, o.CreatedAt)
	require.Len(t, o.Improvements, 2)
	assert.Equal(t, "id2", o.Improvements[0].ID)
	assert.Equal(t, ImpactLow, o.Improvements[1].Impact)
	assert.Equal(t, Suggestions{}, o.Improvements[1].Suggestions)
}

func TestRecordRollsBackWhenImprovementFails(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(insertOptimisation).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertImprovement).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertImprovement).WillReturnError(errors.New("value too long"))
	mock.ExpectRollback()

	o, err := repo.Record(context.Background(), testUser, validCV, validJD, sampleResult(), Metadata{})
	assert.Error(t, err)
	assert.Nil(t, o)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func optimisationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "cv_text", "job_description", "overall_score", "token_count", "processing_time_ms", "model_version", "created_at"})
}

func improvementRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"optimisation_id", "id", "section", "score", "impact", "context", "suggestions", "optimised_content"})
}

func TestListForUserNormalisesSuggestions(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(selectOptimisation).
		WithArgs(testUser).
		WillReturnRows(optimisationRows().
			AddRow("new", testUser, "cv2", "jd2", 70, 1000, 2000, "gemini-1.5-flash", t0).
			AddRow("old", testUser, "cv1", "jd1", 40, nil, nil, nil, t0.Add(-time.Hour)))
	mock.ExpectQuery(selectImprovements).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(improvementRows().
			AddRow("new", "i1", "Skills", 60, "high", nil, `["a","b"]`, nil).
			AddRow("old", "i2", "Skills", 30, "bogus", "ctx", `"[\"legacy\"]"`, "rewrite").
			AddRow("old", "i3", "Education", 45, "low", nil, `just text`, nil))

	list, err := repo.ListForUser(context.Background(), testUser, true)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, 1000, list[0].Metadata.TokenCount)
	assert.Equal(t, 2*time.Second, list[0].Metadata.ProcessingTime)
	require.Len(t, list[0].Improvements, 1)
	assert.Equal(t, Suggestions{"a", "b"}, list[0].Improvements[0].Suggestions)

	assert.Equal(t, "", list[1].Metadata.ModelVersion)
	require.Len(t, list[1].Improvements, 2)
	assert.Equal(t, Suggestions{"legacy"}, list[1].Improvements[0].Suggestions)
	assert.Equal(t, ImpactMedium, list[1].Improvements[0].Impact)
	assert.Equal(t, "rewrite", list[1].Improvements[0].OptimisedContent)
	assert.Equal(t, Suggestions{"just text"}, list[1].Improvements[1].Suggestions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForUserWithoutImprovements(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectQuery(selectOptimisation).
		WillReturnRows(optimisationRows().AddRow("a", testUser, "cv", "jd", 10, nil, nil, nil, t0))

	list, err := repo.ListForUser(context.Background(), testUser, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Improvements)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetForUserHidesOtherUsersRows(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectQuery(selectOptimisation).
		WithArgs("theirs", testUser).
		WillReturnRows(optimisationRows())

	o, err := repo.GetForUser(context.Background(), testUser, "theirs")
	assert.Nil(t, o)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetForUser(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectQuery(selectOptimisation).
		WithArgs("mine", testUser).
		WillReturnRows(optimisationRows().AddRow("mine", testUser, "cv", "jd", 88, 500, 900, "gemini-1.5-flash", t0))
	mock.ExpectQuery(selectImprovements).
		WillReturnRows(improvementRows().AddRow("mine", "i1", "Skills", 90, "low", nil, nil, nil))

	o, err := repo.GetForUser(context.Background(), testUser, "mine")
	require.NoError(t, err)
	assert.Equal(t, 88, o.OverallScore)
	require.Len(t, o.Improvements, 1)
	assert.Equal(t, Suggestions{}, o.Improvements[0].Suggestions)
}
