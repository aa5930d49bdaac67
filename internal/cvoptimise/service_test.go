package cvoptimise

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyser struct {
	calls  int
	err    error
	result *AnalysisResult
}

func (f *fakeAnalyser) Analyse(context.Context, string, string) (*AnalysisResult, Metadata, error) {
	f.calls++
	if f.err != nil {
		return nil, Metadata{}, f.err
	}
	return f.result, Metadata{TokenCount: 321, ProcessingTime: time.Second, ModelVersion: "fake"}, nil
}

type serviceFixture struct {
	svc      *Service
	analyser *fakeAnalyser
	guard    *Guard
	clock    *clock
	mock     sqlmock.Sqlmock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	repo, mock := newTestRepository(t)
	guard, c := newTestGuard(DefaultGuardConfig, NewMemoryStore())
	analyser := &fakeAnalyser{result: &AnalysisResult{OverallScore: 77, Improvements: []Improvement{}}}
	svc := NewService(guard, analyser, repo, zerolog.Nop())
	svc.now = c.Now
	repo.now = c.Now
	return &serviceFixture{svc: svc, analyser: analyser, guard: guard, clock: c, mock: mock}
}

func (f *serviceFixture) expectRecord() {
	f.mock.ExpectBegin()
	f.mock.ExpectExec(insertOptimisation).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
}

func TestOptimiseHappyPath(t *testing.T) {
	f := newServiceFixture(t)
	f.expectRecord()

	o, err := f.svc.Optimise(context.Background(), testUser, validCV, validJD)
	require.NoError(t, err)
	assert.Equal(t, 77, o.OverallScore)
	assert.Equal(t, "fake", o.Metadata.ModelVersion)
	assert.Equal(t, 1, f.analyser.calls)
	assert.Equal(t, StateDone, f.guard.State(testUser))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOptimiseShortCVMakesNoCall(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Optimise(context.Background(), testUser, validCV[:199], validJD)
	ge := guardErr(t, err)
	assert.Equal(t, KindValidation, ge.Kind)
	assert.Equal(t, 0, f.analyser.calls)
}

func TestOptimiseRepeatIsBlockedWithoutCall(t *testing.T) {
	f := newServiceFixture(t)
	f.expectRecord()
	ctx := context.Background()

	_, err := f.svc.Optimise(ctx, testUser, validCV, validJD)
	require.NoError(t, err)

	f.clock.Advance(3 * time.Second)
	_, err = f.svc.Optimise(ctx, testUser, validCV, validJD)
	assert.Equal(t, KindDuplicate, guardErr(t, err).Kind)

	_, err = f.svc.Optimise(ctx, testUser, validCV+" More detail.", validJD)
	ge := guardErr(t, err)
	assert.Equal(t, KindCooldown, ge.Kind)
	assert.Equal(t, 17, ge.RetryAfterSeconds())
	assert.Equal(t, 1, f.analyser.calls)
}

func TestOptimiseFailureAllowsImmediateRetry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.analyser.err = errors.New("upstream 503")

	_, err := f.svc.Optimise(ctx, testUser, validCV, validJD)
	assert.ErrorIs(t, err, ErrAnalysisFailed)
	assert.Equal(t, StateFailed, f.guard.State(testUser))

	f.analyser.err = nil
	f.expectRecord()
	_, err = f.svc.Optimise(ctx, testUser, validCV, validJD)
	assert.NoError(t, err)
	assert.Equal(t, 2, f.analyser.calls)
}

func TestOptimisePersistenceFailureStillRecordsFingerprint(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.mock.ExpectBegin()
	f.mock.ExpectExec(insertOptimisation).WillReturnError(errors.New("disk full"))
	f.mock.ExpectRollback()

	_, err := f.svc.Optimise(ctx, testUser, validCV, validJD)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAnalysisFailed))

	_, err = f.svc.Optimise(ctx, testUser, validCV, validJD)
	assert.Equal(t, KindDuplicate, guardErr(t, err).Kind)
	assert.Equal(t, 1, f.analyser.calls)
}

func TestOptimiseConcurrentIdenticalRequestsAnalyseOnce(t *testing.T) {
	repo, mock := newTestRepository(t)
	guard, c := newTestGuard(DefaultGuardConfig, NewMemoryStore())
	analyser := &slowAnalyser{release: make(chan struct{})}
	svc := NewService(guard, analyser, repo, zerolog.Nop())
	svc.now, repo.now = c.Now, c.Now
	mock.ExpectBegin()
	mock.ExpectExec(insertOptimisation).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	first := make(chan error, 1)
	go func() {
		_, err := svc.Optimise(ctx, testUser, validCV, validJD)
		first <- err
	}()
	require.Eventually(t, func() bool { return guard.State(testUser) == StateCalling }, time.Second, time.Millisecond)

	_, err := svc.Optimise(ctx, testUser, validCV, validJD)
	assert.Equal(t, KindInFlight, guardErr(t, err).Kind)

	close(analyser.release)
	require.NoError(t, <-first)
	assert.Equal(t, 1, analyser.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}
