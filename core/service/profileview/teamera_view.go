// Package profileview projects a profile into what a profile card shows.
package profileview

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"teamera_server/core/domain"
)

const defaultTitle = "Developer"

var roleTitles = map[domain.Role]string{
	domain.RoleFounder:      "The Founder",
	domain.RoleProfessional: "The Professional",
	domain.RoleInvestor:     "The Investor",
	domain.RoleStudent:      "The Student",
}

// Link is a labelled social link.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// View is the display form of a profile.
type View struct {
	Name       string              `json:"name"`
	Initials   string              `json:"initials"`
	Title      string              `json:"title"`
	Location   string              `json:"location,omitempty"`
	About      string              `json:"about,omitempty"`
	Links      []Link              `json:"links"`
	Experience []domain.Experience `json:"experience"`
	Education  []domain.Education  `json:"education"`
	Skills     []string            `json:"skills"`
}

// RoleTitle maps a role to its display title. Unknown roles are shown
// verbatim and a missing role shows "Developer".
func RoleTitle(role *domain.Role) string {
	if role == nil || *role == "" {
		return defaultTitle
	}
	if t, ok := roleTitles[*role]; ok {
		return t
	}
	return string(*role)
}

// Build returns nil for a nil profile.
func Build(p *domain.Profile) *View {
	if p == nil {
		return nil
	}

	v := &View{
		Name:       p.Name,
		Initials:   Initials(p.Name, p.Email),
		Title:      strings.TrimSpace(domain.Deref(p.Title)),
		Location:   domain.Deref(p.Location),
		About:      domain.Deref(p.Bio),
		Links:      []Link{},
		Experience: make([]domain.Experience, 0, len(p.Experience)),
		Education:  make([]domain.Education, 0, len(p.Education)),
		Skills:     make([]string, 0, len(p.Skills)),
	}
	if v.Title == "" {
		v.Title = RoleTitle(p.Role)
	}

	for _, l := range []Link{
		{"GitHub", domain.Deref(p.GithubURL)},
		{"LinkedIn", domain.Deref(p.LinkedinURL)},
		{"Portfolio", domain.Deref(p.PortfolioURL)},
	} {
		if l.URL != "" {
			v.Links = append(v.Links, l)
		}
	}

	v.Experience = append(v.Experience, p.Experience...)
	v.Education = append(v.Education, p.Education...)

	for _, s := range p.Skills {
		if s.Name != "" {
			v.Skills = append(v.Skills, s.Name)
		}
	}
	return v
}

// Initials takes the first letter of up to two name words, falling back
// to the first letter of email.
func Initials(name, email string) string {
	words := strings.Fields(name)
	if len(words) > 2 {
		words = words[:2]
	}
	var b strings.Builder
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		b.WriteRune(unicode.ToUpper(r))
	}
	if b.Len() > 0 {
		return b.String()
	}
	if r, _ := utf8.DecodeRuneInString(strings.TrimSpace(email)); r != utf8.RuneError {
		return string(unicode.ToUpper(r))
	}
	return "?"
}
