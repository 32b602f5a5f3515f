package domain

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func fullRow() *ProfileRow {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	updated := created.Add(time.Hour)
	role := RoleFounder
	return &ProfileRow{
		ID:           "6f1c2d9e-8f0a-4a8e-9a43-2f1d3c4b5a69",
		Email:        "ada@example.com",
		Name:         "Ada",
		Bio:          StringPtr("Building things"),
		Location:     StringPtr("London"),
		Title:        StringPtr("CTO"),
		Role:         &role,
		GithubURL:    StringPtr("https://github.com/ada"),
		LinkedinURL:  StringPtr("https://linkedin.com/in/ada"),
		PortfolioURL: StringPtr("https://ada.dev"),
		Skills:       []Skill{NamedSkill("Go"), RecordSkill("Postgres")},
		Education: []Education{
			{Degree: "BSc", Institution: "UCL", Duration: "2010-2013", Description: "Maths"},
		},
		WorkExperience: []Experience{
			{Title: "Engineer", Company: "Acme", Duration: "2014-2020", Description: "Backend", Technologies: []string{"Go", "Redis"}},
		},
		CreatedAt: &created,
		UpdatedAt: &updated,
	}
}

func TestProfileRowRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		row  *ProfileRow
	}{
		{"all fields", fullRow()},
		{"only identity", &ProfileRow{
			ID: "id-1", Email: "a@b.co", Name: "A",
			Skills: []Skill{}, Education: []Education{}, WorkExperience: []Experience{},
		}},
		{"experience with empty technologies", &ProfileRow{
			ID: "id-3", Email: "c@d.co", Name: "C",
			Skills:         []Skill{},
			Education:      []Education{},
			WorkExperience: []Experience{{Title: "Lead", Company: "Y", Technologies: []string{}}},
		}},
		{"experience without technologies", &ProfileRow{
			ID: "id-2", Email: "b@c.co", Name: "B",
			Skills:         []Skill{RecordSkill("Rust")},
			Education:      []Education{},
			WorkExperience: []Experience{{Title: "Intern", Company: "X"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProfileToRow(ProfileFromRow(tt.row))
			if !reflect.DeepEqual(got, tt.row) {
				t.Errorf("ProfileToRow(ProfileFromRow(row)) =\n%+v\nwant\n%+v", got, tt.row)
			}
		})
	}
}

func TestProfileRowJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty technologies", `{"title":"Lead","company":"Y","duration":"","description":"x","technologies":[]}`, `"technologies":[]`},
		{"listed technologies", `{"title":"Lead","company":"Y","duration":"","description":"x","technologies":["Go"]}`, `"technologies":["Go"]`},
		{"absent technologies", `{"title":"Lead","company":"Y","duration":"","description":"x"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := DecodeProfileRow([]byte(`{"id":"id-1","skills":["Go",null,{"name":"SQL"}],"work_experience":[` + tt.in + `]}`))
			if err != nil {
				t.Fatalf("DecodeProfileRow: %v", err)
			}
			out, err := json.Marshal(ProfileToRow(ProfileFromRow(row)))
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(out), `"skills":["Go",null,{"name":"SQL"}]`) {
				t.Errorf("skills not preserved: %s", out)
			}
			if tt.want == "" {
				if strings.Contains(string(out), "technologies") {
					t.Errorf("technologies appeared: %s", out)
				}
				return
			}
			if !strings.Contains(string(out), tt.want) {
				t.Errorf("%s missing from %s", tt.want, out)
			}
		})
	}
}

func TestProfileFromRow_FieldMapping(t *testing.T) {
	row := fullRow()
	p := ProfileFromRow(row)

	if Deref(p.GithubURL) != "https://github.com/ada" ||
		Deref(p.LinkedinURL) != "https://linkedin.com/in/ada" ||
		Deref(p.PortfolioURL) != "https://ada.dev" {
		t.Errorf("social links not mapped: %+v", p)
	}
	if !reflect.DeepEqual(p.Experience, row.WorkExperience) {
		t.Errorf("Experience = %+v, want work_experience %+v", p.Experience, row.WorkExperience)
	}
	if p.NeedsOnboarding {
		t.Error("stored profile should not be flagged for onboarding")
	}

	// Mutating the profile must not reach back into the row.
	p.Skills[0] = NamedSkill("changed")
	if row.Skills[0].Name != "Go" {
		t.Error("ProfileFromRow shares the skills slice with the row")
	}
}

func TestProfileFromRow_NilSequences(t *testing.T) {
	p := ProfileFromRow(&ProfileRow{ID: "x"})
	if p.Skills == nil || p.Experience == nil || p.Education == nil {
		t.Errorf("nil sequences should become empty: %+v", p)
	}
}

func TestProfileJSONConventions(t *testing.T) {
	p := ProfileFromRow(fullRow())

	mem, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	store, err := json.Marshal(ProfileToRow(p))
	if err != nil {
		t.Fatal(err)
	}

	var memKeys, storeKeys map[string]any
	_ = json.Unmarshal(mem, &memKeys)
	_ = json.Unmarshal(store, &storeKeys)

	for _, k := range []string{"githubUrl", "linkedinUrl", "portfolioUrl", "experience", "createdAt"} {
		if _, ok := memKeys[k]; !ok {
			t.Errorf("in-memory JSON missing %q", k)
		}
	}
	for _, k := range []string{"github_url", "linkedin_url", "portfolio_url", "work_experience", "created_at"} {
		if _, ok := storeKeys[k]; !ok {
			t.Errorf("store JSON missing %q", k)
		}
	}
	if _, ok := storeKeys["experience"]; ok {
		t.Error("store JSON must not carry the in-memory experience key")
	}
}

func TestSkillJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     Skill
		wantJSON string
	}{
		{"bare string", `"Go"`, NamedSkill("Go"), `"Go"`},
		{"record", `{"name":"Postgres"}`, RecordSkill("Postgres"), `{"name":"Postgres"}`},
		{"record with spaces", ` { "name" : "Kafka" }`, RecordSkill("Kafka"), `{"name":"Kafka"}`},
		{"null", `null`, Skill{Kind: SkillNull}, `null`},
		{"empty string", `""`, NamedSkill(""), `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Skill
			if err := json.Unmarshal([]byte(tt.input), &s); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if s != tt.want {
				t.Errorf("Unmarshal(%s) = %+v, want %+v", tt.input, s, tt.want)
			}
			out, err := json.Marshal(s)
			if err != nil {
				t.Fatal(err)
			}
			if string(out) != tt.wantJSON {
				t.Errorf("Marshal = %s, want %s", out, tt.wantJSON)
			}
		})
	}

	var bad Skill
	if err := json.Unmarshal([]byte(`42`), &bad); err == nil {
		t.Error("numeric skill should fail to decode")
	}
}

func TestDecodeProfileRow_Aliases(t *testing.T) {
	data := []byte(`{
		"id": "u1",
		"email": "u1@example.com",
		"name": "U",
		"skills": ["Go", {"name": "SQL"}],
		"education": [{"degree": "MSc", "institution": "ETH", "period": "2015-2017", "details": "Thesis on Raft"}],
		"work_experience": [{"title": "SRE", "company": "Initech", "period": "2018-", "description": "On call", "technologies": ["k8s"]}]
	}`)

	row, err := DecodeProfileRow(data)
	if err != nil {
		t.Fatalf("DecodeProfileRow() error = %v", err)
	}

	wantEdu := Education{Degree: "MSc", Institution: "ETH", Duration: "2015-2017", Description: "Thesis on Raft"}
	if row.Education[0] != wantEdu {
		t.Errorf("education = %+v, want %+v", row.Education[0], wantEdu)
	}
	if row.WorkExperience[0].Duration != "2018-" {
		t.Errorf("work_experience duration = %q, want period fallback", row.WorkExperience[0].Duration)
	}
	if !reflect.DeepEqual(row.Skills, []Skill{NamedSkill("Go"), RecordSkill("SQL")}) {
		t.Errorf("skills = %+v", row.Skills)
	}

	// Canonical keys win over their aliases.
	var edu Education
	_ = json.Unmarshal([]byte(`{"duration":"a","period":"b","description":"c","details":"d"}`), &edu)
	if edu.Duration != "a" || edu.Description != "c" {
		t.Errorf("canonical keys should win: %+v", edu)
	}
}

func TestProfileRowPayloads(t *testing.T) {
	row := fullRow()

	upd := row.UpdatePayload()
	if upd.ID != "" || upd.Email != "" || upd.CreatedAt != nil || upd.UpdatedAt != nil {
		t.Errorf("UpdatePayload() kept identity or timestamps: %+v", upd)
	}
	if Deref(upd.Bio) != "Building things" {
		t.Error("UpdatePayload() dropped bio")
	}

	ins := row.UpdatePayload().InsertPayload("new-id", "new@example.com")
	if ins.ID != "new-id" || ins.Email != "new@example.com" {
		t.Errorf("InsertPayload() = %+v", ins)
	}
	if row.ID != "6f1c2d9e-8f0a-4a8e-9a43-2f1d3c4b5a69" {
		t.Error("payload builders must not modify the receiver")
	}
}

func TestOnboarding(t *testing.T) {
	fresh := NewOnboardingProfile("id", "a@b.co", "A")
	if !fresh.NeedsOnboarding || fresh.HasExtendedFields() {
		t.Errorf("NewOnboardingProfile() = %+v", fresh)
	}

	stored := ProfileFromRow(fullRow())
	if stored.OnboardingRequired() {
		t.Error("filled profile should not require onboarding")
	}

	empty := ProfileFromRow(&ProfileRow{ID: "id", Name: "A"})
	if !empty.OnboardingRequired() {
		t.Error("profile without extended fields should require onboarding")
	}
}

func TestProfileClone(t *testing.T) {
	p := ProfileFromRow(fullRow())
	c := p.Clone()
	if !reflect.DeepEqual(p, c) {
		t.Fatal("Clone() differs from source")
	}
	c.Experience[0].Technologies[0] = "Rust"
	*c.Bio = "other"
	if p.Experience[0].Technologies[0] != "Go" || *p.Bio != "Building things" {
		t.Error("Clone() is not deep")
	}
}
