package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
)

// ProfileRepository implements out.ProfileStore directly on the project's
// Postgres database. It bypasses row-level security and is meant for the
// server side only.
type ProfileRepository struct {
	db *sqlx.DB
}

var _ out.ProfileStore = (*ProfileRepository)(nil)

func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `
	id, email, name, bio, location, title, role,
	github_url, linkedin_url, portfolio_url,
	skills, education, work_experience, created_at, updated_at`

type profileRecord struct {
	ID             string         `db:"id"`
	Email          sql.NullString `db:"email"`
	Name           sql.NullString `db:"name"`
	Bio            sql.NullString `db:"bio"`
	Location       sql.NullString `db:"location"`
	Title          sql.NullString `db:"title"`
	Role           sql.NullString `db:"role"`
	GithubURL      sql.NullString `db:"github_url"`
	LinkedinURL    sql.NullString `db:"linkedin_url"`
	PortfolioURL   sql.NullString `db:"portfolio_url"`
	Skills         types.JSONText `db:"skills"`
	Education      types.JSONText `db:"education"`
	WorkExperience types.JSONText `db:"work_experience"`
	CreatedAt      sql.NullTime   `db:"created_at"`
	UpdatedAt      sql.NullTime   `db:"updated_at"`
}

func (r *profileRecord) toRow() (*domain.ProfileRow, error) {
	row := &domain.ProfileRow{
		ID:           r.ID,
		Email:        r.Email.String,
		Name:         r.Name.String,
		Bio:          nullPtr(r.Bio),
		Location:     nullPtr(r.Location),
		Title:        nullPtr(r.Title),
		GithubURL:    nullPtr(r.GithubURL),
		LinkedinURL:  nullPtr(r.LinkedinURL),
		PortfolioURL: nullPtr(r.PortfolioURL),
		CreatedAt:    timePtr(r.CreatedAt),
		UpdatedAt:    timePtr(r.UpdatedAt),
	}
	if r.Role.Valid {
		role := domain.Role(r.Role.String)
		row.Role = &role
	}
	if err := unmarshalJSONB(r.Skills, &row.Skills); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(r.Education, &row.Education); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(r.WorkExperience, &row.WorkExperience); err != nil {
		return nil, err
	}
	return row, nil
}

func (a *ProfileRepository) FindByID(ctx context.Context, id string) (*domain.ProfileRow, error) {
	query := `SELECT` + profileColumns + ` FROM profiles WHERE id = $1`

	var rec profileRecord
	if err := a.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError("find", err)
	}
	return rec.toRow()
}

// FindByIDs loads every existing profile among ids.
func (a *ProfileRepository) FindByIDs(ctx context.Context, ids []string) ([]*domain.ProfileRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT` + profileColumns + ` FROM profiles WHERE id = ANY($1) ORDER BY created_at`

	var recs []profileRecord
	if err := a.db.SelectContext(ctx, &recs, query, pq.Array(ids)); err != nil {
		return nil, mapError("find many", err)
	}

	rows := make([]*domain.ProfileRow, 0, len(recs))
	for i := range recs {
		row, err := recs[i].toRow()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (a *ProfileRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := a.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM profiles WHERE id = $1)`, id); err != nil {
		return false, mapError("exists", err)
	}
	return exists, nil
}

func (a *ProfileRepository) Insert(ctx context.Context, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	skills, education, work, err := jsonbColumns(row)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO profiles (
			id, email, name, bio, location, title, role,
			github_url, linkedin_url, portfolio_url,
			skills, education, work_experience, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW()
		)
		RETURNING` + profileColumns

	var rec profileRecord
	err = a.db.GetContext(ctx, &rec, query,
		row.ID, row.Email, row.Name,
		row.Bio, row.Location, row.Title, rolePtr(row.Role),
		row.GithubURL, row.LinkedinURL, row.PortfolioURL,
		skills, education, work,
	)
	if err != nil {
		return nil, mapError("insert", err)
	}
	return rec.toRow()
}

// Update writes the fields present in row. Identity columns are never
// touched; absent optional fields keep their stored value.
func (a *ProfileRepository) Update(ctx context.Context, id string, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	skills, education, work, err := jsonbColumns(row)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE profiles SET
			name = COALESCE(NULLIF($2, ''), name),
			bio = COALESCE($3, bio),
			location = COALESCE($4, location),
			title = COALESCE($5, title),
			role = COALESCE($6, role),
			github_url = COALESCE($7, github_url),
			linkedin_url = COALESCE($8, linkedin_url),
			portfolio_url = COALESCE($9, portfolio_url),
			skills = $10,
			education = $11,
			work_experience = $12,
			updated_at = NOW()
		WHERE id = $1
		RETURNING` + profileColumns

	var rec profileRecord
	err = a.db.GetContext(ctx, &rec, query,
		id, row.Name,
		row.Bio, row.Location, row.Title, rolePtr(row.Role),
		row.GithubURL, row.LinkedinURL, row.PortfolioURL,
		skills, education, work,
	)
	if err != nil {
		return nil, mapError("update", err)
	}
	return rec.toRow()
}

// jsonbColumns encodes the sequence columns as text so the simple query
// protocol sends them as JSON rather than bytea.
func jsonbColumns(row *domain.ProfileRow) (skills, education, work string, err error) {
	var b []byte
	if b, err = json.Marshal(orEmpty(row.Skills)); err != nil {
		return
	}
	skills = string(b)
	if b, err = json.Marshal(orEmpty(row.Education)); err != nil {
		return
	}
	education = string(b)
	if b, err = json.Marshal(orEmpty(row.WorkExperience)); err != nil {
		return
	}
	work = string(b)
	return
}

func unmarshalJSONB[T any](data types.JSONText, dest *[]T) error {
	if len(data) == 0 || string(data) == "null" {
		*dest = []T{}
		return nil
	}
	return json.Unmarshal(data, dest)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func rolePtr(r *domain.Role) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}
