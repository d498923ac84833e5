package repository

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userbase/userbase/internal/model"
)

var columns = []string{"id", "name", "email", "password_hash"}

func newMockRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock, *sql.DB, *bytes.Buffer) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	return NewUserRepository(db, logger), mock, db, &logs
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func requirePersistenceError(t *testing.T, err error, message string) *PersistenceError {
	t.Helper()

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, message, perr.Error())
	return perr
}

func TestFindAll_OrderedRows(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows(columns).
		AddRow(int64(1), "Ada", "ada@example.com", model.PlaceholderPasswordHash).
		AddRow(int64(2), "Grace", "grace@example.com", model.PlaceholderPasswordHash)

	mock.ExpectQuery(q("SELECT id, name, email, password_hash FROM users ORDER BY id ASC")).
		WillReturnRows(rows)

	users, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(1), users[0].ID)
	assert.Equal(t, "Grace", users[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAll_EmptyIsNotNil(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(q("FROM users ORDER BY id ASC")).
		WillReturnRows(sqlmock.NewRows(columns))

	users, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestFindAll_QueryError(t *testing.T) {
	repo, mock, db, logs := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(q("FROM users")).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := repo.FindAll(context.Background())
	perr := requirePersistenceError(t, err, "failed to fetch users")
	assert.Equal(t, "UserRepository.FindAll", perr.Op)
	assert.NotContains(t, err.Error(), "connection reset")

	assert.Contains(t, logs.String(), "UserRepository.FindAll")
	assert.Contains(t, logs.String(), "connection reset by peer")
}

func TestFindByID_Found(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(q("SELECT id, name, email, password_hash FROM users WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(42), "Ada", "ada@example.com", "h"))

	user, found, err := repo.FindByID(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.User{ID: 42, Name: "Ada", Email: "ada@example.com", PasswordHash: "h"}, user)
}

func TestFindByID_Absent(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(q("FROM users WHERE id = $1")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(columns))

	_, found, err := repo.FindByID(context.Background(), 404)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindByEmail_Found(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(q("FROM users WHERE email = $1")).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(3), "Ada", "ada@example.com", "h"))

	user, found, err := repo.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3), user.ID)
}

func TestFindByEmail_Error(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(q("FROM users WHERE email = $1")).
		WithArgs("ada@example.com").
		WillReturnError(errors.New("timeout"))

	_, found, err := repo.FindByEmail(context.Background(), "ada@example.com")
	assert.False(t, found)
	requirePersistenceError(t, err, "failed to fetch user by email")
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users (.+) RETURNING id`).
		WithArgs("Ada", "ada@example.com", model.PlaceholderPasswordHash).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	created, err := repo.Create(context.Background(), model.User{
		Name:         "Ada",
		Email:        "ada@example.com",
		PasswordHash: model.PlaceholderPasswordHash,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), created.ID)
	assert.Equal(t, "Ada", created.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UniqueViolation(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"})
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), model.User{Name: "Ada", Email: "ada@example.com"})
	requirePersistenceError(t, err, "failed to create user")
	assert.ErrorIs(t, err, ErrUniqueEmail)
	assert.NotContains(t, err.Error(), "users_email_key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_CommitFailure(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectCommit().WillReturnError(errors.New("commit failed"))

	_, err := repo.Create(context.Background(), model.User{Name: "Ada", Email: "ada@example.com"})
	perr := requirePersistenceError(t, err, "failed to create user")
	assert.Nil(t, perr.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_BeginFailure(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("begin failed"))

	_, err := repo.Create(context.Background(), model.User{Name: "Ada", Email: "ada@example.com"})
	requirePersistenceError(t, err, "failed to create user")
}

func TestUpdate_EmptyPatchOnlyReads(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(q("FROM users WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(5), "Ada", "ada@example.com", "h"))

	user, found, err := repo.Update(context.Background(), 5, model.UserPatch{})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ada", user.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_EmptyPatchAbsent(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(q("FROM users WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(columns))

	_, found, err := repo.Update(context.Background(), 5, nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdate_SingleField(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE users SET name = $1 WHERE id = $2")).
		WithArgs("Grace", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(q("FROM users WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(5), "Grace", "ada@example.com", "h"))

	user, found, err := repo.Update(context.Background(), 5, model.UserPatch{model.SetName("Grace")})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Grace", user.Name)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_BothFieldsLastWriteWins(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE users SET name = $1, email = $2 WHERE id = $3")).
		WithArgs("Grace", "grace@example.com", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(q("FROM users WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(5), "Grace", "grace@example.com", "h"))

	patch := model.UserPatch{
		model.SetName("Ignored"),
		model.SetEmail("grace@example.com"),
		model.SetName("Grace"),
	}

	_, found, err := repo.Update(context.Background(), 5, patch)
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_MissingRowIsAbsent(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE users SET email = $1 WHERE id = $2")).
		WithArgs("x@example.com", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery(q("FROM users WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(columns))

	_, found, err := repo.Update(context.Background(), 9, model.UserPatch{model.SetEmail("x@example.com")})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdate_UniqueViolation(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE users SET email = $1 WHERE id = $2")).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
	mock.ExpectRollback()

	_, _, err := repo.Update(context.Background(), 5, model.UserPatch{model.SetEmail("taken@example.com")})
	requirePersistenceError(t, err, "failed to update user")
	assert.ErrorIs(t, err, ErrUniqueEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_RereadFailsAfterCommit(t *testing.T) {
	repo, mock, db, logs := newMockRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE users SET name = $1 WHERE id = $2")).
		WithArgs("Grace", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(q("FROM users WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnError(errors.New("connection reset"))

	_, found, err := repo.Update(context.Background(), 5, model.UserPatch{model.SetName("Grace")})
	perr := requirePersistenceError(t, err, msgUpdate)
	assert.Nil(t, perr.Kind)
	assert.False(t, found)
	assert.Contains(t, logs.String(), "re-read")
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Zero(t, db.Stats().InUse, "connection must be released on the error path")
}

func TestUpdate_UnknownChangeRejectedBeforeAcquire(t *testing.T) {
	type rogue struct{ model.SetName }

	repo, mock, db, logs := newMockRepo(t)
	mock.ExpectClose()
	require.NoError(t, db.Close())

	// With the pool closed, acquiring first would surface as a generic failure.
	_, _, err := repo.Update(context.Background(), 5, model.UserPatch{rogue{"x"}})
	requirePersistenceError(t, err, msgUpdate)
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.NotContains(t, logs.String(), "acquire connection")
}

func TestDelete_CommitsEvenWhenAbsent(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(q("DELETE FROM users WHERE id = $1")).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, int64(1-i)))
		mock.ExpectCommit()
	}

	require.NoError(t, repo.Delete(context.Background(), 3))
	require.NoError(t, repo.Delete(context.Background(), 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_ExecError(t *testing.T) {
	repo, mock, db, _ := newMockRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM users")).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), 3)
	requirePersistenceError(t, err, "failed to delete user")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireFailure(t *testing.T) {
	repo, mock, db, logs := newMockRepo(t)
	mock.ExpectClose()
	require.NoError(t, db.Close())

	_, _, err := repo.FindByID(context.Background(), 1)
	requirePersistenceError(t, err, "failed to fetch user by id")
	assert.Contains(t, logs.String(), "acquire connection")
}

func TestBuildUpdate_RejectsUnknownChange(t *testing.T) {
	type rogue struct{ model.SetName }

	_, _, err := buildUpdate(1, model.UserPatch{rogue{"x"}})
	assert.ErrorIs(t, err, ErrUnknownField)
}
