package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"github.com/userbase/userbase/internal/model"
)

const usersTable = "users"

// Column names of the users table.
const (
	colID           = "id"
	colName         = "name"
	colEmail        = "email"
	colPasswordHash = "password_hash"
)

// Operation-specific messages returned to callers.
const (
	msgFindAll     = "failed to fetch users"
	msgFindByID    = "failed to fetch user by id"
	msgFindByEmail = "failed to fetch user by email"
	msgCreate      = "failed to create user"
	msgUpdate      = "failed to update user"
	msgDelete      = "failed to delete user"
)

var userColumns = []string{colID, colName, colEmail, colPasswordHash}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// rowQuerier is satisfied by *sql.Conn and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserRepository persists users.
// Every method holds one pooled connection for its whole duration and
// releases it before returning.
type UserRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewUserRepository creates a UserRepository on top of db.
func NewUserRepository(db *sql.DB, logger *slog.Logger) *UserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// FindAll returns every user ordered by ascending id.
func (r *UserRepository) FindAll(ctx context.Context) ([]model.User, error) {
	const op = "UserRepository.FindAll"

	query, args, err := psql.Select(userColumns...).From(usersTable).OrderBy(colID + " ASC").ToSql()
	if err != nil {
		return nil, r.fail(ctx, op, msgFindAll, fmt.Errorf("build query: %w", err))
	}

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, r.fail(ctx, op, msgFindAll, fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.fail(ctx, op, msgFindAll, err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		var user model.User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash); err != nil {
			return nil, r.fail(ctx, op, msgFindAll, fmt.Errorf("scan user: %w", err))
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, r.fail(ctx, op, msgFindAll, fmt.Errorf("iterate users: %w", err))
	}

	return users, nil
}

// FindByID returns the user with the given id.
// The boolean is false when no such user exists.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (model.User, bool, error) {
	return r.findOne(ctx, "UserRepository.FindByID", msgFindByID, sq.Eq{colID: id})
}

// FindByEmail returns the user with the given email.
// Matching follows the column collation.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.User, bool, error) {
	return r.findOne(ctx, "UserRepository.FindByEmail", msgFindByEmail, sq.Eq{colEmail: email})
}

func (r *UserRepository) findOne(ctx context.Context, op, msg string, where sq.Eq) (model.User, bool, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return model.User{}, false, r.fail(ctx, op, msg, fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()

	user, found, err := selectOne(ctx, conn, where)
	if err != nil {
		return model.User{}, false, r.fail(ctx, op, msg, err)
	}
	return user, found, nil
}

// Create inserts a user and returns it with the store-assigned id.
// A users.email constraint violation yields a PersistenceError of kind ErrUniqueEmail.
func (r *UserRepository) Create(ctx context.Context, user model.User) (model.User, error) {
	const op = "UserRepository.Create"

	query, args, err := psql.Insert(usersTable).
		Columns(colName, colEmail, colPasswordHash).
		Values(user.Name, user.Email, user.PasswordHash).
		Suffix("RETURNING " + colID).
		ToSql()
	if err != nil {
		return model.User{}, r.fail(ctx, op, msgCreate, fmt.Errorf("build query: %w", err))
	}

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return model.User{}, r.fail(ctx, op, msgCreate, fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, r.fail(ctx, op, msgCreate, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	if err := tx.QueryRowContext(ctx, query, args...).Scan(&user.ID); err != nil {
		return model.User{}, r.fail(ctx, op, msgCreate, err)
	}

	if err := tx.Commit(); err != nil {
		return model.User{}, r.fail(ctx, op, msgCreate, fmt.Errorf("commit: %w", err))
	}

	return user, nil
}

// Update applies patch to the user with the given id and returns the
// re-read row. An empty patch performs no write.
// The boolean is false when the user does not exist.
func (r *UserRepository) Update(ctx context.Context, id int64, patch model.UserPatch) (model.User, bool, error) {
	const op = "UserRepository.Update"

	var (
		query string
		args  []any
	)
	if !patch.IsEmpty() {
		var err error
		query, args, err = buildUpdate(id, patch)
		if err != nil {
			return model.User{}, false, r.fail(ctx, op, msgUpdate, err)
		}
	}

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return model.User{}, false, r.fail(ctx, op, msgUpdate, fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()

	if query != "" {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return model.User{}, false, r.fail(ctx, op, msgUpdate, fmt.Errorf("begin transaction: %w", err))
		}
		defer tx.Rollback() //nolint:errcheck

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return model.User{}, false, r.fail(ctx, op, msgUpdate, err)
		}

		if err := tx.Commit(); err != nil {
			return model.User{}, false, r.fail(ctx, op, msgUpdate, fmt.Errorf("commit: %w", err))
		}
	}

	user, found, err := selectOne(ctx, conn, sq.Eq{colID: id})
	if err != nil {
		return model.User{}, false, r.fail(ctx, op, msgUpdate, fmt.Errorf("re-read: %w", err))
	}
	return user, found, nil
}

// Delete removes the user with the given id. Deleting a missing user is not an error.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	const op = "UserRepository.Delete"

	query, args, err := psql.Delete(usersTable).Where(sq.Eq{colID: id}).ToSql()
	if err != nil {
		return r.fail(ctx, op, msgDelete, fmt.Errorf("build query: %w", err))
	}

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return r.fail(ctx, op, msgDelete, fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return r.fail(ctx, op, msgDelete, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return r.fail(ctx, op, msgDelete, err)
	}

	if err := tx.Commit(); err != nil {
		return r.fail(ctx, op, msgDelete, fmt.Errorf("commit: %w", err))
	}

	return nil
}

// buildUpdate maps each change to its fixed column. Later changes to the
// same column replace earlier ones.
func buildUpdate(id int64, patch model.UserPatch) (string, []any, error) {
	columns := make([]string, 0, len(patch))
	values := make(map[string]any, len(patch))

	for _, change := range patch {
		column, value, err := changeColumn(change)
		if err != nil {
			return "", nil, err
		}
		if _, seen := values[column]; !seen {
			columns = append(columns, column)
		}
		values[column] = value
	}

	builder := psql.Update(usersTable)
	for _, column := range columns {
		builder = builder.Set(column, values[column])
	}

	query, args, err := builder.Where(sq.Eq{colID: id}).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build query: %w", err)
	}
	return query, args, nil
}

func changeColumn(change model.UserChange) (string, any, error) {
	switch c := change.(type) {
	case model.SetName:
		return colName, string(c), nil
	case model.SetEmail:
		return colEmail, string(c), nil
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownField, change)
	}
}

func selectOne(ctx context.Context, q rowQuerier, where sq.Eq) (model.User, bool, error) {
	query, args, err := psql.Select(userColumns...).From(usersTable).Where(where).ToSql()
	if err != nil {
		return model.User{}, false, fmt.Errorf("build query: %w", err)
	}

	var user model.User
	err = q.QueryRowContext(ctx, query, args...).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	return user, true, nil
}

// fail logs err with operation context and returns the coarse error.
func (r *UserRepository) fail(ctx context.Context, op, msg string, err error) error {
	r.logger.LogAttrs(ctx, slog.LevelError, "user repository failure",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return &PersistenceError{
		Op:      op,
		Message: msg,
		Kind:    classify(err),
	}
}
