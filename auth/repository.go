package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicatePhone signals that the phone number is already registered.
	ErrDuplicatePhone = errors.New("auth: phone already exists")
)

// Repository handles data access for accounts.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByPhone(ctx context.Context, phone string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	FullName     string
	Phone        string
	Email        *string
	PasswordHash string
	Roles        []Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed account repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, full_name, phone, email, password_hash, roles, bi, address, created_at, updated_at`

// CreateUser inserts a new user with hashed password.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	insertSQL := fmt.Sprintf(`
		INSERT INTO users (full_name, phone, email, password_hash, roles)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s
	`, userColumns)

	user, err := scanUser(r.pool.QueryRow(ctx, insertSQL,
		params.FullName, params.Phone, params.Email, params.PasswordHash, rolesToText(params.Roles)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicatePhone
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}

	return user, nil
}

// GetUserByPhone retrieves a user by phone number.
func (r *PGRepository) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM users WHERE phone = $1`, userColumns)

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by phone: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}

	return user, nil
}

// UpdateProfile applies the non-nil fields of update.
func (r *PGRepository) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error) {
	set := []string{"updated_at = now()"}
	args := []any{userID}

	appendField := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, strings.TrimSpace(*value))
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	appendField("full_name", update.FullName)
	appendField("email", update.Email)
	appendField("bi", update.BI)
	appendField("address", update.Address)

	updateSQL := fmt.Sprintf(`UPDATE users SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(set, ", "), userColumns)

	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: update profile: %w", err)
	}

	return user, nil
}

func rolesToText(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user  User
		roles []string
	)
	err := row.Scan(
		&user.ID,
		&user.FullName,
		&user.Phone,
		&user.Email,
		&user.PasswordHash,
		&roles,
		&user.BI,
		&user.Address,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	user.Roles = make([]Role, len(roles))
	for i, r := range roles {
		user.Roles[i] = Role(r)
	}
	return user, nil
}
