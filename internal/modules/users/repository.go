// Package users provides persistence for user accounts and their cash balances.
package users

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omerros/trackfolio/internal/domain"
)

const userColumns = `id, email, first_name, last_name, cash, created_at, updated_at`

// Repository handles user database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new user repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "users").Logger(),
	}
}

// Create inserts a new user. Cash starts at the given opening balance.
func (r *Repository) Create(email, firstName, lastName string, openingCash domain.Money) (domain.User, error) {
	now := time.Now()
	user := domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Cash:      openingCash.Round2(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.db.Exec(
		`INSERT INTO users (id, email, first_name, last_name, cash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.FirstName, user.LastName, user.Cash,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	r.log.Info().Str("user_id", user.ID).Msg("User created")
	return user, nil
}

// GetByID returns a user or domain.ErrNotFound.
func (r *Repository) GetByID(id string) (domain.User, error) {
	row := r.db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

// GetCashTx reads a user's cash balance inside an open transaction.
// Returns domain.ErrNotFound if the user does not exist; the caller is
// expected to abort the surrounding atomic unit.
func (r *Repository) GetCashTx(tx *sql.Tx, userID string) (domain.Money, error) {
	var cash domain.Money
	err := tx.QueryRow("SELECT cash FROM users WHERE id = ?", userID).Scan(&cash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Money{}, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Money{}, fmt.Errorf("failed to read cash for user %s: %w", userID, err)
	}
	return cash, nil
}

// SetCashTx writes a user's cash balance inside an open transaction.
func (r *Repository) SetCashTx(tx *sql.Tx, userID string, cash domain.Money) error {
	res, err := tx.Exec(
		"UPDATE users SET cash = ?, updated_at = ? WHERE id = ?",
		cash.Round2(), time.Now().Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update cash for user %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cash update for user %s: %w", userID, err)
	}
	if affected == 0 {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

// UpdateProfile updates the mutable profile fields.
func (r *Repository) UpdateProfile(id, firstName, lastName string) (domain.User, error) {
	res, err := r.db.Exec(
		"UPDATE users SET first_name = ?, last_name = ?, updated_at = ? WHERE id = ?",
		firstName, lastName, time.Now().Unix(), id,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to update user profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to check profile update: %w", err)
	}
	if affected == 0 {
		return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return r.GetByID(id)
}

func scanUser(row *sql.Row) (domain.User, error) {
	var user domain.User
	var createdAt, updatedAt int64

	err := row.Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName,
		&user.Cash, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("user: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to scan user: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	user.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return user, nil
}
