// Package credit tracks per-user credit balances as an append-only ledger.
package credit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInsufficientCredits = errors.New("insufficient credits")

const (
	ReasonMonthlyGrant = "monthly_grant"
	ReasonSignupGrant  = "signup_grant"
	ReasonChatMessage  = "chat_message"
	ReasonDeployment   = "deployment"
)

type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	Ref       string    `json:"ref,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Repository struct {
	DB *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{DB: db}
}

func (r *Repository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE user_id = $1
	`, userID).Scan(&balance)
	return balance, err
}

func (r *Repository) Ledger(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, user_id, delta, reason, ref, created_at
		FROM credit_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.Ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) Grant(ctx context.Context, userID string, amount int64, reason, ref string) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO credit_ledger (id, user_id, delta, reason, ref)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), userID, amount, reason, ref)
	return err
}

// Debit inserts a negative entry only when the current balance covers it.
// The balance check and the insert are one statement, so the underlying
// per-statement atomicity is enough to stop the balance going negative.
func (r *Repository) Debit(ctx context.Context, userID string, amount int64, reason, ref string) error {
	if amount <= 0 {
		return nil
	}
	tag, err := r.DB.Exec(ctx, `
		INSERT INTO credit_ledger (id, user_id, delta, reason, ref)
		SELECT $1, $2, -$3::bigint, $4, $5
		WHERE COALESCE((SELECT SUM(delta) FROM credit_ledger WHERE user_id = $2), 0) >= $3
	`, uuid.NewString(), userID, amount, reason, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientCredits
	}
	return nil
}
