package supabase

import (
	"context"
	"errors"
	"net/http"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
	"teamera_server/pkg/apperr"
)

// ProfileStore reads and writes profiles rows through PostgREST. Requests
// carry the token returned by token, so row-level security sees the user;
// an empty token falls back to the client's key.
type ProfileStore struct {
	client *Client
	token  func() string
}

var _ out.ProfileStore = (*ProfileStore)(nil)

func NewProfileStore(client *Client, token func() string) *ProfileStore {
	if token == nil {
		token = func() string { return "" }
	}
	return &ProfileStore{client: client, token: token}
}

func (s *ProfileStore) from() *Query {
	return s.client.From(domain.ProfilesTable).WithToken(s.token())
}

func (s *ProfileStore) FindByID(ctx context.Context, id string) (*domain.ProfileRow, error) {
	var row domain.ProfileRow
	found, err := s.from().Select("*").Eq("id", id).MaybeSingle().Execute(ctx, &row)
	if err != nil {
		return nil, storeError("find", err)
	}
	if !found {
		return nil, nil
	}
	return &row, nil
}

func (s *ProfileStore) Exists(ctx context.Context, id string) (bool, error) {
	var rows []struct {
		ID string `json:"id"`
	}
	if _, err := s.from().Select("id").Eq("id", id).Limit(1).Execute(ctx, &rows); err != nil {
		return false, storeError("exists", err)
	}
	return len(rows) > 0, nil
}

func (s *ProfileStore) Insert(ctx context.Context, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	var stored domain.ProfileRow
	if _, err := s.from().Insert(row.InsertPayload(row.ID, row.Email)).Single().Execute(ctx, &stored); err != nil {
		return nil, storeError("insert", err)
	}
	return &stored, nil
}

// Update patches the row with id. Identity columns are never sent.
func (s *ProfileStore) Update(ctx context.Context, id string, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	var stored domain.ProfileRow
	_, err := s.from().Update(row.UpdatePayload()).Eq("id", id).Single().Execute(ctx, &stored)
	if err != nil {
		if IsCode(err, CodeNoRows) {
			return nil, apperr.NotFound("profile").WithError(err)
		}
		return nil, storeError("update", err)
	}
	return &stored, nil
}

// storeError keeps the backend message so callers can show it as is.
func storeError(op string, err error) error {
	if apperr.IsAppError(err) {
		return err
	}
	var se *Error
	if !errors.As(err, &se) {
		return apperr.StoreError(op, err)
	}
	if se.Code == CodeUniqueViolation {
		return apperr.AlreadyExists("profile").WithError(err)
	}
	status := se.Status
	if status >= http.StatusInternalServerError {
		status = http.StatusBadGateway
	}
	return apperr.Wrap(err, apperr.CodeStoreError, se.Message, status).WithDetail("operation", op)
}
