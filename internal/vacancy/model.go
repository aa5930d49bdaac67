package vacancy

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("vacancy not found")

type Vacancy struct {
	ID                    string          `json:"id"`
	Slug                  string          `json:"slug"`
	Title                 string          `json:"title"`
	Description           string          `json:"description"`
	FullDescription       string          `json:"full_description,omitempty"`
	Employer              Employer        `json:"employer"`
	ProviderName          string          `json:"provider_name,omitempty"`
	Course                Course          `json:"course"`
	ApprenticeshipLevel   string          `json:"apprenticeship_level,omitempty"`
	PostedDate            time.Time       `json:"posted_date"`
	ClosingDate           time.Time       `json:"closing_date"`
	StartDate             *time.Time      `json:"start_date,omitempty"`
	Wage                  Wage            `json:"wage"`
	Address               Address         `json:"address"`
	Latitude              float64         `json:"latitude,omitempty"`
	Longitude             float64         `json:"longitude,omitempty"`
	IsActive              bool            `json:"is_active"`
	IsNationalVacancy     bool            `json:"is_national_vacancy"`
	IsDisabilityConfident bool            `json:"is_disability_confident"`
	Skills                []string        `json:"skills"`
	Qualifications        []Qualification `json:"qualifications"`
	QualityScore          *QualityScore   `json:"quality_score,omitempty"`

	// derived on read
	Expired     bool   `json:"expired"`
	HasLocation bool   `json:"has_location"`
	ClosesIn    string `json:"closes_in"`
	PostedAgo   string `json:"posted_ago"`
}

type Employer struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	WebsiteURL   string `json:"website_url,omitempty"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
}

type Course struct {
	Level int    `json:"level,omitempty"`
	Route string `json:"route,omitempty"`
	Title string `json:"title,omitempty"`
}

type Wage struct {
	Type           string `json:"type,omitempty"`
	Unit           string `json:"unit,omitempty"`
	AdditionalInfo string `json:"additional_info,omitempty"`
}

type Address struct {
	Line1    string `json:"line1,omitempty"`
	Line2    string `json:"line2,omitempty"`
	Line3    string `json:"line3,omitempty"`
	Locality string `json:"locality,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

// Qualification is either a plain string requirement (only Subject set) or a
// structured one as sent by the upstream feed.
type Qualification struct {
	Subject           string `json:"subject"`
	QualificationType string `json:"qualificationType,omitempty"`
	Grade             string `json:"grade,omitempty"`
	Weighting         string `json:"weighting,omitempty"`
}

func (q Qualification) IsPlain() bool {
	return q.QualificationType == "" && q.Grade == "" && q.Weighting == ""
}

type QualityScore struct {
	EmployerReputation  float64 `json:"employer_reputation"`
	ListingCompleteness float64 `json:"listing_completeness"`
	QualityIndicators   float64 `json:"quality_indicators"`
	TimeFactors         float64 `json:"time_factors"`
	Engagement          float64 `json:"engagement"`
	ManualBoost         float64 `json:"manual_boost"`
	Total               float64 `json:"total"`
}

// Filters are independently optional and combined with AND.
type Filters struct {
	Search   string
	Location string
	Level    string
	Category string
}

// FlagUpdate carries the admin-editable booleans. Nil fields are left untouched.
type FlagUpdate struct {
	IsActive              *bool
	IsNationalVacancy     *bool
	IsDisabilityConfident *bool
}

func (f FlagUpdate) Empty() bool {
	return f.IsActive == nil && f.IsNationalVacancy == nil && f.IsDisabilityConfident == nil
}
