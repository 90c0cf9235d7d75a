package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrUsernameTaken is returned when an insert collides with an existing username.
	ErrUsernameTaken = errors.New("username already exists")
)

const uniqueViolation = "23505"

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) (User, error)
	FindByID(ctx context.Context, id int64) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	Update(ctx context.Context, id int64, changes Changes) error
	Delete(ctx context.Context, id int64) error
	ListNeedingHelp(ctx context.Context) ([]HelpRequest, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresRepository builds a Postgres-backed user repository. Each call
// is bounded by timeout when it is positive.
func NewPostgresRepository(db *pgxpool.Pool, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, timeout: timeout}
}

func (r *PostgresRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Create inserts a new user and returns it with its assigned id.
func (r *PostgresRepository) Create(ctx context.Context, user User) (User, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	const query = `INSERT INTO users (username, password, name, address, telephone, help)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at`
	var createdAt time.Time
	err := r.db.QueryRow(ctx, query, user.Username, user.PasswordHash, user.Name, user.Address, user.Telephone, user.Help).
		Scan(&user.ID, &createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	user.CreatedAt = createdAt.UTC()
	return user, nil
}

// FindByID fetches a user by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (User, error) {
	return r.findOne(ctx, `WHERE id = $1`, id)
}

// FindByUsername fetches a user by username.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	return r.findOne(ctx, `WHERE username = $1`, username)
}

func (r *PostgresRepository) findOne(ctx context.Context, where string, arg any) (User, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	row := r.db.QueryRow(ctx, `SELECT id, username, password, name, address, telephone, help, created_at
        FROM users `+where, arg)
	var (
		user      User
		createdAt time.Time
	)
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Name, &user.Address, &user.Telephone, &user.Help, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("select user: %w", err)
	}
	user.CreatedAt = createdAt.UTC()
	return user, nil
}

// Update writes every non-nil field of changes in a single statement.
func (r *PostgresRepository) Update(ctx context.Context, id int64, changes Changes) error {
	if changes.Empty() {
		return nil
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query, args := buildUpdate(id, changes)
	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildUpdate renders the single UPDATE statement for changes. Columns are
// emitted in a fixed order and the id is always the last placeholder.
func buildUpdate(id int64, changes Changes) (string, []any) {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if changes.PasswordHash != nil {
		set("password", *changes.PasswordHash)
	}
	if changes.Name != nil {
		set("name", *changes.Name)
	}
	if changes.Address != nil {
		set("address", *changes.Address)
	}
	if changes.Telephone != nil {
		set("telephone", *changes.Telephone)
	}
	if changes.Help != nil {
		set("help", *changes.Help)
	}
	args = append(args, id)
	return fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)), args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Delete removes the user. Deleting a missing user is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if _, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ListNeedingHelp returns the public projection of every user flagged for help.
func (r *PostgresRepository) ListNeedingHelp(ctx context.Context) ([]HelpRequest, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT id, name, address, telephone FROM users WHERE help = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users needing help: %w", err)
	}
	defer rows.Close()

	out := make([]HelpRequest, 0)
	for rows.Next() {
		var hr HelpRequest
		if err := rows.Scan(&hr.ID, &hr.Name, &hr.Address, &hr.Telephone); err != nil {
			return nil, fmt.Errorf("scan user needing help: %w", err)
		}
		out = append(out, hr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users needing help: %w", err)
	}
	return out, nil
}
