package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
)

// uniqueViolation is the SQLSTATE Postgres reports for a duplicate key.
const uniqueViolation = "23505"

const userColumns = `id, user_name, name, email, password_hash, role, avatar, status, created_at, updated_at`

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

var _ repository.UserRepository = (*UserStore)(nil)

// Create inserts a new user row. Postgres generates the UUID and timestamps.
func (s *UserStore) Create(ctx context.Context, u models.User) (*models.User, error) {
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.Avatar == "" {
		u.Avatar = models.DefaultAvatar
	}
	if u.Status == "" {
		u.Status = models.StatusOffline
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (user_name, name, email, password_hash, role, avatar, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		u.UserName, u.Name, u.Email, u.PasswordHash, u.Role, u.Avatar, u.Status,
	)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

// UpsertProfile keeps the stored name and email unless new non-empty
// values are given.
func (s *UserStore) UpsertProfile(ctx context.Context, userName, name, email string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (user_name, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_name) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
			updated_at = now()`,
		userName, name, email,
	)
	if err != nil {
		return fmt.Errorf("upsert user profile: %w", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_name = $1`, userName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by name: %w", err)
	}
	return u, nil
}

func (s *UserStore) List(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY name, user_name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *UserStore) SetStatus(ctx context.Context, userName string, status models.Status) error {
	return s.update(ctx, "set status", `UPDATE users SET status = $2, updated_at = now() WHERE user_name = $1`, userName, status)
}

func (s *UserStore) SetAvatar(ctx context.Context, userName, avatar string) error {
	return s.update(ctx, "set avatar", `UPDATE users SET avatar = $2, updated_at = now() WHERE user_name = $1`, userName, avatar)
}

func (s *UserStore) update(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.UserName,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.Avatar,
		&u.Status,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
