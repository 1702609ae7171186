package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"forum-api/internal/model"
	repo "forum-api/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPostgresOAuthRepository_FindClient(t *testing.T) {
	db, mock := newMockDB(t)
	r := repo.NewPostgresOAuthRepository(db)

	rows := sqlmock.NewRows([]string{"id", "client_id", "client_secret", "client_name", "redirect_uris", "scope", "response_types", "grant_types", "is_active"}).
		AddRow(uuid.NewString(), "cid", "secret", "Course Planner", `["https://app.example/cb"]`, "profile email", "code", "authorization_code refresh_token", true)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM oauth_clients WHERE client_id = $1`)).WithArgs("cid").WillReturnRows(rows)

	c, err := r.FindClient(context.Background(), "cid")
	require.NoError(t, err)
	require.Equal(t, model.StringList{"https://app.example/cb"}, c.RedirectURIs)
	require.True(t, c.CheckGrantType("refresh_token"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOAuthRepository_CreateClient(t *testing.T) {
	db, mock := newMockDB(t)
	r := repo.NewPostgresOAuthRepository(db)

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO oauth_clients`)).
		WithArgs("cid", "secret", "App", nil, nil, `["https://a/cb"]`, "profile email", "code", "authorization_code", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id.String(), now))

	c := &model.OAuthClient{
		ClientID: "cid", ClientSecret: "secret", Name: "App",
		RedirectURIs: model.StringList{"https://a/cb"}, Scope: "profile email",
		ResponseTypes: "code", GrantTypes: "authorization_code", IsActive: true,
	}
	require.NoError(t, r.CreateClient(context.Background(), c))
	require.Equal(t, id, c.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOAuthRepository_MarkCodeUsed(t *testing.T) {
	db, mock := newMockDB(t)
	r := repo.NewPostgresOAuthRepository(db)

	id := uuid.New()
	at := time.Now()
	q := regexp.QuoteMeta(`UPDATE oauth_authorization_codes SET used = true, used_at = $2 WHERE id = $1 AND used = false`)

	mock.ExpectExec(q).WithArgs(id, at).WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := r.MarkCodeUsed(context.Background(), id, at)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectExec(q).WithArgs(id, at).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = r.MarkCodeUsed(context.Background(), id, at)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOAuthRepository_FindTokenByRefresh(t *testing.T) {
	db, mock := newMockDB(t)
	r := repo.NewPostgresOAuthRepository(db)

	userID := uuid.New()
	exp := time.Now().Add(time.Hour)
	rows := sqlmock.NewRows([]string{"id", "access_token", "refresh_token", "token_type", "user_id", "client_id", "scope", "expires_in", "expires_at", "revoked"}).
		AddRow(uuid.NewString(), "acc", "ref", "Bearer", userID.String(), "cid", "profile", 3600, exp, false)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM oauth_tokens WHERE refresh_token = $1`)).WithArgs("ref").WillReturnRows(rows)

	tok, err := r.FindTokenByRefresh(context.Background(), "ref")
	require.NoError(t, err)
	require.Equal(t, userID, tok.UserID)
	require.Equal(t, "ref", *tok.RefreshToken)
	require.True(t, tok.IsValid(time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}
