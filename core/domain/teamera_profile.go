package domain

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Role is the self-declared kind of member.
type Role string

const (
	RoleFounder      Role = "founder"
	RoleProfessional Role = "professional"
	RoleInvestor     Role = "investor"
	RoleStudent      Role = "student"
	RoleOther        Role = "other"
)

// Known reports whether r is one of the predefined roles.
func (r Role) Known() bool {
	switch r {
	case RoleFounder, RoleProfessional, RoleInvestor, RoleStudent, RoleOther:
		return true
	}
	return false
}

// SkillKind tells which shape a skill entry had in the store.
type SkillKind int

const (
	// SkillName is a bare string entry: "Go".
	SkillName SkillKind = iota
	// SkillRecord is an object entry: {"name": "Go"}.
	SkillRecord
	// SkillNull is a null entry. It has no name and is written back as null.
	SkillNull
)

// Skill is either a bare name or a record with a name.
// It is written back in the shape it was read.
type Skill struct {
	Name string
	Kind SkillKind
}

// NamedSkill builds a bare-name skill.
func NamedSkill(name string) Skill { return Skill{Name: name, Kind: SkillName} }

// RecordSkill builds a record skill.
func RecordSkill(name string) Skill { return Skill{Name: name, Kind: SkillRecord} }

type skillRecord struct {
	Name string `json:"name"`
}

func (s Skill) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SkillRecord:
		return json.Marshal(skillRecord{Name: s.Name})
	case SkillNull:
		return []byte("null"), nil
	}
	return json.Marshal(s.Name)
}

func (s *Skill) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var rec skillRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		*s = RecordSkill(rec.Name)
		return nil
	}
	if trimmed == "null" {
		*s = Skill{Kind: SkillNull}
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = NamedSkill(name)
	return nil
}

// Experience is one work-experience entry.
type Experience struct {
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Duration     string   `json:"duration"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
}

type experienceBody struct {
	Title        string    `json:"title"`
	Company      string    `json:"company"`
	Duration     string    `json:"duration"`
	Description  string    `json:"description"`
	Technologies *[]string `json:"technologies,omitempty"`
}

// MarshalJSON writes technologies only when the entry has them, so an
// empty list stays [] and an absent one stays absent.
func (e Experience) MarshalJSON() ([]byte, error) {
	body := experienceBody{
		Title:       e.Title,
		Company:     e.Company,
		Duration:    e.Duration,
		Description: e.Description,
	}
	if e.Technologies != nil {
		body.Technologies = &e.Technologies
	}
	return json.Marshal(body)
}

// Education is one education entry.
type Education struct {
	Degree      string `json:"degree"`
	Institution string `json:"institution"`
	Duration    string `json:"duration"`
	Description string `json:"description"`
}

// Profile is the in-memory profile. The store keeps the same data as a
// ProfileRow; see ProfileFromRow and ProfileToRow.
type Profile struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	Bio          *string      `json:"bio,omitempty"`
	Location     *string      `json:"location,omitempty"`
	Title        *string      `json:"title,omitempty"`
	Role         *Role        `json:"role,omitempty"`
	GithubURL    *string      `json:"githubUrl,omitempty"`
	LinkedinURL  *string      `json:"linkedinUrl,omitempty"`
	PortfolioURL *string      `json:"portfolioUrl,omitempty"`
	Skills       []Skill      `json:"skills"`
	Experience   []Experience `json:"experience"`
	Education    []Education  `json:"education"`
	CreatedAt    *time.Time   `json:"createdAt,omitempty"`
	UpdatedAt    *time.Time   `json:"updatedAt,omitempty"`

	// NeedsOnboarding is set locally right after signup. It is never stored.
	NeedsOnboarding bool `json:"needsOnboarding,omitempty"`
}

// NewOnboardingProfile is the minimal profile set immediately after signup.
func NewOnboardingProfile(id, email, name string) *Profile {
	return &Profile{
		ID:              id,
		Email:           email,
		Name:            name,
		Skills:          []Skill{},
		Experience:      []Experience{},
		Education:       []Education{},
		NeedsOnboarding: true,
	}
}

// FallbackProfile is synthesized from the auth record when the stored
// profile cannot be loaded in time.
func FallbackProfile(u *AuthUser) *Profile {
	return &Profile{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.DisplayName(),
		Skills:     []Skill{},
		Experience: []Experience{},
		Education:  []Education{},
	}
}

// HasExtendedFields reports whether anything beyond id/email/name is filled in.
func (p *Profile) HasExtendedFields() bool {
	return nonEmpty(p.Bio) || nonEmpty(p.Location) || nonEmpty(p.Title) ||
		(p.Role != nil && *p.Role != "") ||
		nonEmpty(p.GithubURL) || nonEmpty(p.LinkedinURL) || nonEmpty(p.PortfolioURL) ||
		len(p.Skills) > 0 || len(p.Experience) > 0 || len(p.Education) > 0
}

// OnboardingRequired is true for fresh signups and for profiles with no
// extended fields.
func (p *Profile) OnboardingRequired() bool {
	return p.NeedsOnboarding || !p.HasExtendedFields()
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Bio = clonePtr(p.Bio)
	c.Location = clonePtr(p.Location)
	c.Title = clonePtr(p.Title)
	c.Role = clonePtr(p.Role)
	c.GithubURL = clonePtr(p.GithubURL)
	c.LinkedinURL = clonePtr(p.LinkedinURL)
	c.PortfolioURL = clonePtr(p.PortfolioURL)
	c.CreatedAt = clonePtr(p.CreatedAt)
	c.UpdatedAt = clonePtr(p.UpdatedAt)
	c.Skills = cloneSlice(p.Skills)
	c.Education = cloneSlice(p.Education)
	c.Experience = cloneSlice(p.Experience)
	for i := range c.Experience {
		c.Experience[i].Technologies = cloneSlice(c.Experience[i].Technologies)
	}
	return &c
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref[T ~string](p *T) string {
	if p == nil {
		return ""
	}
	return string(*p)
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
