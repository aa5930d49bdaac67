package vacancy

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"html"
	"strconv"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/lib/pq"
	"github.com/microcosm-cc/bluemonday"
)

// qualifications arrive double encoded from one of the ingestion paths, anything
// deeper than this is treated as text
const maxQualificationDecodeDepth = 3

var (
	strictPolicy = bluemonday.StrictPolicy()
	ugcPolicy    = bluemonday.UGCPolicy()
)

const vacancyColumns = `v.id, v.slug, v.title, v.description, v.full_description,
	v.employer_name, v.employer_description, v.employer_website_url, v.employer_contact_name, v.employer_contact_email, v.employer_contact_phone,
	v.provider_name, v.course_level, v.course_route, v.course_title, v.apprenticeship_level,
	v.posted_date, v.closing_date, v.start_date,
	v.wage_type, v.wage_unit, v.wage_additional_info,
	v.address_line_1, v.address_line_2, v.address_line_3, v.address_locality, v.postcode, v.latitude, v.longitude,
	v.skills, v.qualifications, v.is_active, v.is_national_vacancy, v.is_disability_confident,
	q.employer_reputation, q.listing_completeness, q.quality_indicators, q.time_factors, q.engagement, q.manual_boost, q.total_score`

// row mirrors vacancyColumns
type row struct {
	ID                    string
	Slug                  sql.NullString
	Title                 string
	Description           sql.NullString
	FullDescription       sql.NullString
	EmployerName          sql.NullString
	EmployerDescription   sql.NullString
	EmployerWebsiteURL    sql.NullString
	EmployerContactName   sql.NullString
	EmployerContactEmail  sql.NullString
	EmployerContactPhone  sql.NullString
	ProviderName          sql.NullString
	CourseLevel           sql.NullInt64
	CourseRoute           sql.NullString
	CourseTitle           sql.NullString
	ApprenticeshipLevel   sql.NullString
	PostedDate            time.Time
	ClosingDate           time.Time
	StartDate             sql.NullTime
	WageType              sql.NullString
	WageUnit              sql.NullString
	WageAdditionalInfo    sql.NullString
	AddressLine1          sql.NullString
	AddressLine2          sql.NullString
	AddressLine3          sql.NullString
	AddressLocality       sql.NullString
	Postcode              sql.NullString
	Latitude              sql.NullFloat64
	Longitude             sql.NullFloat64
	Skills                pq.StringArray
	Qualifications        []byte
	IsActive              bool
	IsNationalVacancy     bool
	IsDisabilityConfident bool
	EmployerReputation    sql.NullFloat64
	ListingCompleteness   sql.NullFloat64
	QualityIndicators     sql.NullFloat64
	TimeFactors           sql.NullFloat64
	Engagement            sql.NullFloat64
	ManualBoost           sql.NullFloat64
	TotalScore            sql.NullFloat64
}

func (r *row) dest() []interface{} {
	return []interface{}{
		&r.ID, &r.Slug, &r.Title, &r.Description, &r.FullDescription,
		&r.EmployerName, &r.EmployerDescription, &r.EmployerWebsiteURL, &r.EmployerContactName, &r.EmployerContactEmail, &r.EmployerContactPhone,
		&r.ProviderName, &r.CourseLevel, &r.CourseRoute, &r.CourseTitle, &r.ApprenticeshipLevel,
		&r.PostedDate, &r.ClosingDate, &r.StartDate,
		&r.WageType, &r.WageUnit, &r.WageAdditionalInfo,
		&r.AddressLine1, &r.AddressLine2, &r.AddressLine3, &r.AddressLocality, &r.Postcode, &r.Latitude, &r.Longitude,
		&r.Skills, &r.Qualifications, &r.IsActive, &r.IsNationalVacancy, &r.IsDisabilityConfident,
		&r.EmployerReputation, &r.ListingCompleteness, &r.QualityIndicators, &r.TimeFactors, &r.Engagement, &r.ManualBoost, &r.TotalScore,
	}
}

func (r *row) toVacancy(now time.Time) *Vacancy {
	v := &Vacancy{
		ID:              r.ID,
		Slug:            strings.TrimSpace(r.Slug.String),
		Title:           strings.TrimSpace(r.Title),
		Description:     plainText(r.Description.String),
		FullDescription: ugcPolicy.Sanitize(r.FullDescription.String),
		Employer: Employer{
			Name:         strings.TrimSpace(r.EmployerName.String),
			Description:  plainText(r.EmployerDescription.String),
			WebsiteURL:   r.EmployerWebsiteURL.String,
			ContactName:  r.EmployerContactName.String,
			ContactEmail: r.EmployerContactEmail.String,
			ContactPhone: r.EmployerContactPhone.String,
		},
		ProviderName: r.ProviderName.String,
		Course: Course{
			Level: int(r.CourseLevel.Int64),
			Route: strings.TrimSpace(r.CourseRoute.String),
			Title: r.CourseTitle.String,
		},
		ApprenticeshipLevel: r.ApprenticeshipLevel.String,
		PostedDate:          r.PostedDate.UTC(),
		ClosingDate:         r.ClosingDate.UTC(),
		Wage: Wage{
			Type:           r.WageType.String,
			Unit:           r.WageUnit.String,
			AdditionalInfo: plainText(r.WageAdditionalInfo.String),
		},
		Address: Address{
			Line1:    r.AddressLine1.String,
			Line2:    r.AddressLine2.String,
			Line3:    r.AddressLine3.String,
			Locality: r.AddressLocality.String,
			Postcode: r.Postcode.String,
		},
		Latitude:              r.Latitude.Float64,
		Longitude:             r.Longitude.Float64,
		IsActive:              r.IsActive,
		IsNationalVacancy:     r.IsNationalVacancy,
		IsDisabilityConfident: r.IsDisabilityConfident,
		Skills:                []string{},
		Qualifications:        ParseQualifications(r.Qualifications),
	}
	if v.Slug == "" {
		v.Slug = v.ID
	}
	if r.StartDate.Valid {
		sd := r.StartDate.Time.UTC()
		v.StartDate = &sd
	}
	for _, s := range r.Skills {
		if s = strings.TrimSpace(s); s != "" {
			v.Skills = append(v.Skills, s)
		}
	}
	if r.TotalScore.Valid {
		v.QualityScore = &QualityScore{
			EmployerReputation:  r.EmployerReputation.Float64,
			ListingCompleteness: r.ListingCompleteness.Float64,
			QualityIndicators:   r.QualityIndicators.Float64,
			TimeFactors:         r.TimeFactors.Float64,
			Engagement:          r.Engagement.Float64,
			ManualBoost:         r.ManualBoost.Float64,
			Total:               r.TotalScore.Float64,
		}
	}
	v.HasLocation = v.Latitude != 0 || v.Longitude != 0
	v.Expired = now.After(v.ClosingDate)
	v.ClosesIn = humanize.RelTime(v.ClosingDate, now, "ago", "from now")
	v.PostedAgo = humanize.RelTime(v.PostedDate, now, "ago", "from now")
	return v
}

// plainText strips any markup and returns unescaped text
func plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// ParseQualifications normalises the qualifications column into a list. It
// accepts arrays of strings, arrays of objects, mixed arrays, any of those
// JSON-encoded inside a string, and bare text. It never fails: unreadable
// input becomes an empty list or a single plain qualification.
func ParseQualifications(raw []byte) []Qualification {
	quals := []Qualification{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return quals
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return append(quals, Qualification{Subject: string(raw)})
	}
	return append(quals, qualificationsFromValue(v, 0)...)
}

func qualificationsFromValue(v interface{}, depth int) []Qualification {
	var quals []Qualification
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if depth < maxQualificationDecodeDepth && looksLikeJSON(s) {
			var inner interface{}
			if err := json.Unmarshal([]byte(s), &inner); err == nil {
				return qualificationsFromValue(inner, depth+1)
			}
		}
		quals = append(quals, Qualification{Subject: s})
	case []interface{}:
		for _, item := range t {
			quals = append(quals, qualificationsFromValue(item, depth)...)
		}
	case map[string]interface{}:
		q := Qualification{
			Subject:           stringField(t, "subject"),
			QualificationType: stringField(t, "qualificationType", "qualification_type", "type"),
			Grade:             stringField(t, "grade"),
			Weighting:         stringField(t, "weighting"),
		}
		if q.Subject != "" || q.QualificationType != "" {
			quals = append(quals, q)
		}
	case float64, bool:
		quals = append(quals, Qualification{Subject: scalarString(t)})
	}
	return quals
}

func looksLikeJSON(s string) bool {
	switch s[0] {
	case '[', '{', '"':
		return true
	}
	return false
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := strings.TrimSpace(scalarString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}
