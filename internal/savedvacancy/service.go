package savedvacancy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/apprenticewatch/apprenticewatch/internal/event"
	"github.com/apprenticewatch/apprenticewatch/internal/vacancy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// VacancyLookup resolves a saved id to a vacancy that is still visible.
type VacancyLookup interface {
	GetByID(ctx context.Context, id string) (*vacancy.Vacancy, error)
}

type Publisher interface {
	Publish(event.Event)
}

type Service struct {
	repo    *Repository
	lookup  VacancyLookup
	events  Publisher
	log     zerolog.Logger
	nowFunc func() time.Time
}

func NewService(repo *Repository, lookup VacancyLookup, events Publisher, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		lookup:  lookup,
		events:  events,
		log:     log,
		nowFunc: time.Now,
	}
}

func (s *Service) Save(ctx context.Context, userID, vacancyID string) error {
	userID, vacancyID, err := validate(userID, vacancyID)
	if err != nil {
		return err
	}
	now := s.nowFunc().UTC()
	if err := s.repo.Insert(ctx, userID, vacancyID, now); err != nil {
		return err
	}
	s.publish(event.Event{Kind: event.Saved, UserID: userID, VacancyID: vacancyID, At: now})
	return nil
}

func (s *Service) Unsave(ctx context.Context, userID, vacancyID string) error {
	userID, vacancyID, err := validate(userID, vacancyID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID, vacancyID); err != nil {
		return err
	}
	s.publish(event.Event{Kind: event.Unsaved, UserID: userID, VacancyID: vacancyID, At: s.nowFunc().UTC()})
	return nil
}

func (s *Service) IsSaved(ctx context.Context, userID, vacancyID string) (bool, error) {
	userID, vacancyID, err := validate(userID, vacancyID)
	if err != nil {
		return false, err
	}
	return s.repo.Exists(ctx, userID, vacancyID)
}

// ListSaved resolves each bookmark to its vacancy, newest bookmark first.
// Vacancies that are no longer visible are left out.
func (s *Service) ListSaved(ctx context.Context, userID string) ([]*vacancy.Vacancy, error) {
	vacancies := []*vacancy.Vacancy{}
	userID, err := validateUser(userID)
	if err != nil {
		return vacancies, err
	}
	saved, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return vacancies, err
	}
	for _, sv := range saved {
		v, err := s.lookup.GetByID(ctx, sv.VacancyID)
		if errors.Is(err, vacancy.ErrNotFound) {
			s.log.Info().Str("user_id", userID).Str("vacancy_id", sv.VacancyID).Msg("skipping saved vacancy that no longer resolves")
			continue
		}
		if err != nil {
			return vacancies, err
		}
		vacancies = append(vacancies, v)
	}
	return vacancies, nil
}

// SavedIDs returns the saved vacancy ids without resolving them.
func (s *Service) SavedIDs(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	userID, err := validateUser(userID)
	if err != nil {
		return ids, err
	}
	saved, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return ids, err
	}
	for _, sv := range saved {
		ids = append(ids, sv.VacancyID)
	}
	return ids, nil
}

func (s *Service) RemoveAll(ctx context.Context, userID string) (int64, error) {
	userID, err := validateUser(userID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.publish(event.Event{Kind: event.AllRemoved, UserID: userID, At: s.nowFunc().UTC()})
	return n, nil
}

func (s *Service) publish(e event.Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}

func validateUser(userID string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return "", ErrInvalidUser
	}
	return id.String(), nil
}

func validate(userID, vacancyID string) (string, string, error) {
	userID, err := validateUser(userID)
	if err != nil {
		return "", "", err
	}
	vacancyID = strings.TrimSpace(vacancyID)
	if vacancyID == "" {
		return "", "", ErrInvalidVacancy
	}
	return userID, vacancyID, nil
}
