package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository"
)

type userRepository struct {
	db DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(db DBTX) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, telegram_id, chat_id, telegram_username, first_name, last_name, email, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var email sql.NullString
	err := row.Scan(
		&user.ID,
		&user.TelegramID,
		&user.ChatID,
		&user.TelegramUsername,
		&user.FirstName,
		&user.LastName,
		&email,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Email = email.String
	return user, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (telegram_id, chat_id, telegram_username, first_name, last_name, email, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	out := *user
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	out.UpdatedAt = out.CreatedAt
	out.IsActive = true

	err := r.db.QueryRowContext(ctx, query,
		out.TelegramID,
		out.ChatID,
		out.TelegramUsername,
		out.FirstName,
		out.LastName,
		nullString(out.Email),
		out.IsActive,
		out.CreatedAt,
		out.UpdatedAt,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &out, nil
}

func (r *userRepository) getOne(ctx context.Context, what, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by %s: %w", what, err)
	}
	return user, nil
}

func (r *userRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return r.getOne(ctx, "telegram ID", `telegram_id = $1`, telegramID)
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, "ID", `id = $1`, id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "username", `telegram_username <> '' AND lower(telegram_username) = lower($1)`, username)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email", `lower(email) = lower($1)`, email)
}

func (r *userRepository) LockByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, "ID for update", `id = $1 FOR UPDATE`, id)
}

func (r *userRepository) Update(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		UPDATE users
		SET chat_id = $2, telegram_username = $3, first_name = $4, last_name = $5,
			email = $6, is_active = $7, updated_at = $8
		WHERE id = $1`

	out := *user
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, query,
		out.ID,
		out.ChatID,
		out.TelegramUsername,
		out.FirstName,
		out.LastName,
		nullString(out.Email),
		out.IsActive,
		out.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return nil, fmt.Errorf("failed to update user %d: %w", out.ID, err)
	}

	return &out, nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
