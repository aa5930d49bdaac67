package savedvacancy

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/apprenticewatch/apprenticewatch/internal/event"
	"github.com/apprenticewatch/apprenticewatch/internal/vacancy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "3f1c2b6e-8a4d-4c1e-9f0a-5b7d2e6c9a10"

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type stubLookup map[string]*vacancy.Vacancy

func (s stubLookup) GetByID(_ context.Context, id string) (*vacancy.Vacancy, error) {
	if id == "broken" {
		return nil, errors.New("connection reset")
	}
	v, ok := s[id]
	if !ok {
		return nil, vacancy.ErrNotFound
	}
	return v, nil
}

func newService(t *testing.T, lookup VacancyLookup) (*Service, sqlmock.Sqlmock, *event.Bus) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	bus := event.NewBus()
	svc := NewService(NewRepository(db), lookup, bus, zerolog.Nop())
	svc.nowFunc = func() time.Time { return fixedNow }
	return svc, mock, bus
}

func record(bus *event.Bus) *[]event.Event {
	var got []event.Event
	bus.Subscribe(userID, func(e event.Event) { got = append(got, e) })
	return &got
}

var insertQuery = regexp.QuoteMeta(`INSERT INTO saved_apprenticeship (user_id, vacancy_id, created_at)`)

func TestSaveIsIdempotent(t *testing.T) {
	svc, mock, bus := newService(t, stubLookup{})
	got := record(bus)

	mock.ExpectExec(insertQuery).WithArgs(userID, "VAC1", fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertQuery).WithArgs(userID, "VAC1", fixedNow).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, svc.Save(context.Background(), userID, "VAC1"))
	require.NoError(t, svc.Save(context.Background(), userID, " VAC1 "))
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, *got, 2)
	assert.Equal(t, event.Saved, (*got)[0].Kind)
	assert.Equal(t, "VAC1", (*got)[0].VacancyID)
	assert.Equal(t, fixedNow, (*got)[0].At)
}

func TestSaveFailureDoesNotPublish(t *testing.T) {
	svc, mock, bus := newService(t, stubLookup{})
	got := record(bus)

	mock.ExpectExec(insertQuery).WillReturnError(errors.New("db down"))

	assert.Error(t, svc.Save(context.Background(), userID, "VAC1"))
	assert.Empty(t, *got)
	_, ok := bus.Last(userID)
	assert.False(t, ok)
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	svc, mock, _ := newService(t, stubLookup{})

	assert.ErrorIs(t, svc.Save(context.Background(), "not-a-uuid", "VAC1"), ErrInvalidUser)
	assert.ErrorIs(t, svc.Save(context.Background(), "", "VAC1"), ErrInvalidUser)
	assert.ErrorIs(t, svc.Save(context.Background(), userID, "  "), ErrInvalidVacancy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveThenUnsave(t *testing.T) {
	svc, mock, bus := newService(t, stubLookup{})
	got := record(bus)
	existsQuery := regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM saved_apprenticeship WHERE user_id = $1 AND vacancy_id = $2)`)

	mock.ExpectExec(insertQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(existsQuery).WithArgs(userID, "VAC1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM saved_apprenticeship WHERE user_id = $1 AND vacancy_id = $2`)).
		WithArgs(userID, "VAC1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(existsQuery).WithArgs(userID, "VAC1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ctx := context.Background()
	require.NoError(t, svc.Save(ctx, userID, "VAC1"))
	saved, err := svc.IsSaved(ctx, userID, "VAC1")
	require.NoError(t, err)
	assert.True(t, saved)
	require.NoError(t, svc.Unsave(ctx, userID, "VAC1"))
	saved, err = svc.IsSaved(ctx, userID, "VAC1")
	require.NoError(t, err)
	assert.False(t, saved)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, *got, 2)
	assert.Equal(t, event.Unsaved, (*got)[1].Kind)
}

func TestUnsaveMissingIsNotAnError(t *testing.T) {
	svc, mock, _ := newService(t, stubLookup{})
	mock.ExpectExec("DELETE FROM saved_apprenticeship").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, svc.Unsave(context.Background(), userID, "VAC404"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func savedRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"user_id", "vacancy_id", "created_at"})
	for i, id := range ids {
		rows.AddRow(userID, id, fixedNow.Add(-time.Duration(i)*time.Hour))
	}
	return rows
}

func TestListSavedSkipsUnresolvable(t *testing.T) {
	lookup := stubLookup{
		"VAC3": {ID: "VAC3", Title: "Chef"},
		"VAC1": {ID: "VAC1", Title: "Electrician"},
	}
	svc, mock, _ := newService(t, lookup)
	mock.ExpectQuery("SELECT user_id, vacancy_id, created_at").
		WithArgs(userID).
		WillReturnRows(savedRows("VAC3", "VAC2", "VAC1"))

	vacancies, err := svc.ListSaved(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, vacancies, 2)
	assert.Equal(t, "VAC3", vacancies[0].ID)
	assert.Equal(t, "VAC1", vacancies[1].ID)
}

func TestListSavedPropagatesLookupFailure(t *testing.T) {
	svc, mock, _ := newService(t, stubLookup{})
	mock.ExpectQuery("SELECT user_id, vacancy_id, created_at").WillReturnRows(savedRows("broken"))

	vacancies, err := svc.ListSaved(context.Background(), userID)
	assert.Error(t, err)
	assert.NotNil(t, vacancies)
}

func TestSavedIDs(t *testing.T) {
	svc, mock, _ := newService(t, stubLookup{})
	mock.ExpectQuery("SELECT user_id, vacancy_id, created_at").WillReturnRows(savedRows("VAC9", "VAC4"))

	ids, err := svc.SavedIDs(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"VAC9", "VAC4"}, ids)
}

func TestRemoveAll(t *testing.T) {
	svc, mock, bus := newService(t, stubLookup{})
	got := record(bus)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM saved_apprenticeship WHERE user_id = $1`)).
		WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := svc.RemoveAll(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, *got, 1)
	assert.Equal(t, event.AllRemoved, (*got)[0].Kind)
	assert.Empty(t, (*got)[0].VacancyID)
}

func TestRemoveAllFailure(t *testing.T) {
	svc, mock, bus := newService(t, stubLookup{})
	got := record(bus)
	mock.ExpectExec("DELETE FROM saved_apprenticeship").WillReturnError(errors.New("timeout"))

	_, err := svc.RemoveAll(context.Background(), userID)
	assert.Error(t, err)
	assert.Empty(t, *got)
}
