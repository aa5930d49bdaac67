package savedvacancy

import (
	"errors"
	"time"
)

var (
	ErrInvalidUser    = errors.New("invalid user id")
	ErrInvalidVacancy = errors.New("invalid vacancy id")
)

// Saved is a user to vacancy bookmark
type Saved struct {
	UserID    string    `json:"user_id"`
	VacancyID string    `json:"vacancy_id"`
	CreatedAt time.Time `json:"created_at"`
}
