package vacancy

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
)

// MaxPage caps the page parameter well past any real listing.
const MaxPage = 100000

type ViewMode string

const (
	ViewList ViewMode = "list"
	ViewMap  ViewMode = "map"
)

type Category struct {
	Label   string `json:"label"`
	DBValue string `json:"value"`
}

// categories maps the labels shown in the UI and carried in URLs to the course
// routes stored on vacancies
var categories = []Category{
	{"Agriculture & Environment", "Agriculture, environmental and animal care"},
	{"Business & Admin", "Business and administration"},
	{"Care Services", "Care services"},
	{"Catering & Hospitality", "Catering and hospitality"},
	{"Construction", "Construction and the built environment"},
	{"Creative & Design", "Creative and design"},
	{"Digital & Tech", "Digital"},
	{"Education & Childcare", "Education and early years"},
	{"Engineering & Manufacturing", "Engineering and manufacturing"},
	{"Hair & Beauty", "Hair and beauty"},
	{"Health & Science", "Health and science"},
	{"Legal & Finance", "Legal, finance and accounting"},
	{"Protective Services", "Protective services"},
	{"Sales & Marketing", "Sales, marketing and procurement"},
	{"Transport & Logistics", "Transport and logistics"},
}

var categoryIndex = func() map[string]Category {
	idx := make(map[string]Category, len(categories)*2)
	for _, c := range categories {
		idx[slug.Make(c.Label)] = c
		idx[slug.Make(c.DBValue)] = c
	}
	return idx
}()

func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// CategoryToDB resolves a display label, its slug or a raw course route to the
// stored course route. Unknown values are returned trimmed.
func CategoryToDB(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	if c, ok := categoryIndex[slug.Make(label)]; ok {
		return c.DBValue
	}
	return label
}

// CategoryLabel is the inverse of CategoryToDB.
func CategoryLabel(dbValue string) string {
	dbValue = strings.TrimSpace(dbValue)
	if dbValue == "" {
		return ""
	}
	if c, ok := categoryIndex[slug.Make(dbValue)]; ok {
		return c.Label
	}
	return dbValue
}

// ParseFiltersFromQuery reads the listing URL parameters. Anything that can't
// be understood falls back to its default, a bad page number is never an error.
func ParseFiltersFromQuery(query url.Values) (Filters, int, ViewMode) {
	page, err := strconv.Atoi(strings.TrimSpace(query.Get("page")))
	if err != nil || page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	view := ViewList
	if strings.EqualFold(strings.TrimSpace(query.Get("view")), string(ViewMap)) {
		view = ViewMap
	}
	f := Filters{
		Search:   strings.TrimSpace(query.Get("search")),
		Location: strings.TrimSpace(query.Get("location")),
		Level:    strings.TrimSpace(query.Get("level")),
		Category: CategoryToDB(query.Get("category")),
	}
	return f, page, view
}

// Values renders the filters back to URL parameters, omitting empty ones.
func (f Filters) Values() url.Values {
	v := url.Values{}
	if s := strings.TrimSpace(f.Search); s != "" {
		v.Set("search", s)
	}
	if s := strings.TrimSpace(f.Location); s != "" {
		v.Set("location", s)
	}
	if l, ok := f.LevelValue(); ok {
		v.Set("level", strconv.Itoa(l))
	}
	if c := CategoryLabel(f.Category); c != "" {
		v.Set("category", c)
	}
	return v
}

// QueryValues is Values plus page and view, each omitted when default.
func QueryValues(f Filters, page int, view ViewMode) url.Values {
	v := f.Values()
	if page > 1 {
		v.Set("page", strconv.Itoa(page))
	}
	if view == ViewMap {
		v.Set("view", string(ViewMap))
	}
	return v
}

// LevelValue reports the course level to filter on. Non numeric or non
// positive levels are ignored rather than rejected.
func (f Filters) LevelValue() (int, bool) {
	l, err := strconv.Atoi(strings.TrimSpace(f.Level))
	if err != nil || l <= 0 {
		return 0, false
	}
	return l, true
}

// CacheKey is stable for equal filters regardless of how they were spelled.
func (f Filters) CacheKey() string {
	return f.Values().Encode()
}
