package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const chatColumns = `id, project_id, user_id, title, created_at, updated_at`
const messageColumns = `id, chat_id, role, content, token_cost, created_at`

type Repository struct {
	DB *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{DB: db}
}

func (r *Repository) Create(ctx context.Context, projectID, userID, title string) (*Chat, error) {
	id := uuid.NewString()
	row := r.DB.QueryRow(ctx, `
		INSERT INTO chats (id, project_id, user_id, title)
		VALUES ($1, $2, $3, $4)
		RETURNING `+chatColumns, id, projectID, userID, title)
	return scanChat(row)
}

func (r *Repository) FindByID(ctx context.Context, id string) (*Chat, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id)
	c, err := scanChat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	return err
}

func (r *Repository) AddMessage(ctx context.Context, chatID, role, content string, tokenCost int) (*Message, error) {
	id := uuid.NewString()
	row := r.DB.QueryRow(ctx, `
		INSERT INTO chat_messages (id, chat_id, role, content, token_cost)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+messageColumns, id, chatID, role, content, tokenCost)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	_, _ = r.DB.Exec(ctx, `UPDATE chats SET updated_at = NOW() WHERE id = $1`, chatID)
	return msg, nil
}

func (r *Repository) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE chat_id = $1
		ORDER BY created_at
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func scanChat(row pgx.Row) (*Chat, error) {
	var c Chat
	if err := row.Scan(&c.ID, &c.ProjectID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.TokenCost, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
