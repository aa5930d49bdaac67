package cvoptimise

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Service struct {
	guard    *Guard
	analyser Analyser
	repo     *Repository
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(guard *Guard, analyser Analyser, repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		guard:    guard,
		analyser: analyser,
		repo:     repo,
		log:      log,
		now:      time.Now,
	}
}

// Optimise admits the request through the guard, runs one analysis and
// records it. Guard rejections come back as *GuardError and a failed analysis
// as ErrAnalysisFailed, in both cases without touching the fingerprint.
func (s *Service) Optimise(ctx context.Context, userID, cvText, jobDescription string) (*Optimisation, error) {
	if err := s.guard.Check(ctx, userID, cvText, jobDescription); err != nil {
		return nil, err
	}
	userID = canonicalUser(userID)

	result, meta, err := s.analyser.Analyse(ctx, cvText, jobDescription)
	if err != nil {
		s.guard.RecordFailure(userID)
		s.log.Error().Err(err).Str("user_id", userID).Msg("cv analysis failed")
		return nil, ErrAnalysisFailed
	}

	o, recordErr := s.repo.Record(ctx, userID, cvText, jobDescription, result, meta)
	// the analysis was paid for even if it could not be stored
	if err := s.guard.RecordSuccess(ctx, userID, cvText, jobDescription, s.now()); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("unable to store cv fingerprint")
	}
	if recordErr != nil {
		s.log.Error().Err(recordErr).Str("user_id", userID).Msg("unable to record cv optimisation")
		return nil, errors.Wrap(recordErr, "record optimisation")
	}
	s.log.Info().Str("user_id", userID).Str("optimisation_id", o.ID).Int("score", o.OverallScore).Dur("took", meta.ProcessingTime).Msg("cv optimised")
	return o, nil
}

func (s *Service) History(ctx context.Context, userID string, withImprovements bool) ([]*Optimisation, error) {
	return s.repo.ListForUser(ctx, canonicalUser(userID), withImprovements)
}

func (s *Service) Get(ctx context.Context, userID, id string) (*Optimisation, error) {
	return s.repo.GetForUser(ctx, canonicalUser(userID), id)
}
