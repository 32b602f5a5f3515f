package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// ProfilesTable is the store table holding ProfileRow records.
const ProfilesTable = "profiles"

// ProfileRow is a profiles record as the store reads and writes it.
type ProfileRow struct {
	ID             string       `json:"id,omitempty"`
	Email          string       `json:"email,omitempty"`
	Name           string       `json:"name,omitempty"`
	Bio            *string      `json:"bio,omitempty"`
	Location       *string      `json:"location,omitempty"`
	Title          *string      `json:"title,omitempty"`
	Role           *Role        `json:"role,omitempty"`
	GithubURL      *string      `json:"github_url,omitempty"`
	LinkedinURL    *string      `json:"linkedin_url,omitempty"`
	PortfolioURL   *string      `json:"portfolio_url,omitempty"`
	Skills         []Skill      `json:"skills"`
	Education      []Education  `json:"education"`
	WorkExperience []Experience `json:"work_experience"`
	CreatedAt      *time.Time   `json:"created_at,omitempty"`
	UpdatedAt      *time.Time   `json:"updated_at,omitempty"`
}

// ProfileFromRow translates a store row into the in-memory profile.
// Missing sequences become empty ones.
func ProfileFromRow(row *ProfileRow) *Profile {
	if row == nil {
		return nil
	}
	return &Profile{
		ID:           row.ID,
		Email:        row.Email,
		Name:         row.Name,
		Bio:          clonePtr(row.Bio),
		Location:     clonePtr(row.Location),
		Title:        clonePtr(row.Title),
		Role:         clonePtr(row.Role),
		GithubURL:    clonePtr(row.GithubURL),
		LinkedinURL:  clonePtr(row.LinkedinURL),
		PortfolioURL: clonePtr(row.PortfolioURL),
		Skills:       orEmpty(row.Skills),
		Experience:   orEmpty(row.WorkExperience),
		Education:    orEmpty(row.Education),
		CreatedAt:    clonePtr(row.CreatedAt),
		UpdatedAt:    clonePtr(row.UpdatedAt),
	}
}

// ProfileToRow translates the in-memory profile into a store row.
// NeedsOnboarding has no column and is not carried.
func ProfileToRow(p *Profile) *ProfileRow {
	if p == nil {
		return nil
	}
	return &ProfileRow{
		ID:             p.ID,
		Email:          p.Email,
		Name:           p.Name,
		Bio:            clonePtr(p.Bio),
		Location:       clonePtr(p.Location),
		Title:          clonePtr(p.Title),
		Role:           clonePtr(p.Role),
		GithubURL:      clonePtr(p.GithubURL),
		LinkedinURL:    clonePtr(p.LinkedinURL),
		PortfolioURL:   clonePtr(p.PortfolioURL),
		Skills:         orEmpty(p.Skills),
		Education:      orEmpty(p.Education),
		WorkExperience: orEmpty(p.Experience),
		CreatedAt:      clonePtr(p.CreatedAt),
		UpdatedAt:      clonePtr(p.UpdatedAt),
	}
}

// UpdatePayload is the row body sent for an update: identity and
// store-managed timestamps are left out.
func (r *ProfileRow) UpdatePayload() *ProfileRow {
	c := *r
	c.ID = ""
	c.Email = ""
	c.CreatedAt = nil
	c.UpdatedAt = nil
	return &c
}

// InsertPayload is the row body sent for an insert. It always carries
// the identifier and email.
func (r *ProfileRow) InsertPayload(id, email string) *ProfileRow {
	c := r.UpdatePayload()
	c.ID = id
	c.Email = email
	return c
}

// experienceAlias accepts "period" in place of "duration".
type experienceAlias struct {
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Duration     string   `json:"duration"`
	Period       string   `json:"period"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
}

func (e *Experience) UnmarshalJSON(data []byte) error {
	var a experienceAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Experience{
		Title:        a.Title,
		Company:      a.Company,
		Duration:     firstNonEmpty(a.Duration, a.Period),
		Description:  a.Description,
		Technologies: a.Technologies,
	}
	return nil
}

// educationAlias accepts "period" for "duration" and "details" for "description".
type educationAlias struct {
	Degree      string `json:"degree"`
	Institution string `json:"institution"`
	Duration    string `json:"duration"`
	Period      string `json:"period"`
	Description string `json:"description"`
	Details     string `json:"details"`
}

func (e *Education) UnmarshalJSON(data []byte) error {
	var a educationAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Education{
		Degree:      a.Degree,
		Institution: a.Institution,
		Duration:    firstNonEmpty(a.Duration, a.Period),
		Description: firstNonEmpty(a.Description, a.Details),
	}
	return nil
}

// DecodeProfileRow decodes a JSON store record.
func DecodeProfileRow(data []byte) (*ProfileRow, error) {
	var row ProfileRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return cloneSlice(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
