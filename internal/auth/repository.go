package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, name, email, email_verified, password_hash, image, theme, totp_secret, two_factor_enabled, role, created_at, updated_at`

type UserRepository struct {
	DB *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{DB: db}
}

type OAuthAccount struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r *UserRepository) Create(ctx context.Context, name *string, email string, passwordHash *string, verified *time.Time) (*User, error) {
	id := uuid.NewString()

	query := `
		INSERT INTO users (id, name, email, password_hash, email_verified, role, theme)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns

	row := r.DB.QueryRow(ctx, query, id, name, strings.ToLower(email), passwordHash, verified, RoleUser, "system")
	return scanUser(row)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *UserRepository) SetEmailVerified(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `UPDATE users SET email_verified = NOW(), updated_at = NOW() WHERE id = $1`, userID)
	return err
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, name *string, theme *string) (*User, error) {
	sets := []string{`updated_at = NOW()`}
	args := []interface{}{}
	idx := 1

	if name != nil {
		sets = append(sets, fmt.Sprintf(`name = $%d`, idx))
		args = append(args, name)
		idx++
	}
	if theme != nil {
		sets = append(sets, fmt.Sprintf(`theme = $%d`, idx))
		args = append(args, theme)
		idx++
	}

	if len(args) == 0 {
		return r.FindByID(ctx, userID)
	}

	args = append(args, userID)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`, strings.Join(sets, ", "), idx, userColumns)

	row := r.DB.QueryRow(ctx, query, args...)
	return scanUser(row)
}

func (r *UserRepository) UpdateEmail(ctx context.Context, userID, email string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE users
		SET email = $1, email_verified = NULL, updated_at = NOW()
		WHERE id = $2
		RETURNING `+userColumns, strings.ToLower(email), userID)
	return scanUser(row)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID, hashed string) error {
	_, err := r.DB.Exec(ctx, `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, hashed, userID)
	return err
}

func (r *UserRepository) UpdateImage(ctx context.Context, userID, image string) error {
	_, err := r.DB.Exec(ctx, `UPDATE users SET image = $1, updated_at = NOW() WHERE id = $2`, image, userID)
	return err
}

func (r *UserRepository) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

func (r *UserRepository) UpdateTOTPSecret(ctx context.Context, userID string, secret *string) error {
	_, err := r.DB.Exec(ctx, `UPDATE users SET totp_secret = $1, updated_at = NOW() WHERE id = $2`, secret, userID)
	return err
}

func (r *UserRepository) EnableTwoFactor(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `UPDATE users SET two_factor_enabled = TRUE, updated_at = NOW() WHERE id = $1`, userID)
	return err
}

func (r *UserRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE users
		SET two_factor_enabled = FALSE, totp_secret = NULL, updated_at = NOW()
		WHERE id = $1
	`, userID)
	return err
}

func (r *UserRepository) FindByOAuth(ctx context.Context, provider, accountID string) (*User, error) {
	query := `
		SELECT ` + prefixColumns("u", userColumns) + `
		FROM users u
		INNER JOIN oauth_accounts oa ON oa.user_id = u.id
		WHERE oa.provider = $1 AND oa.provider_account_id = $2
	`
	row := r.DB.QueryRow(ctx, query, provider, accountID)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *UserRepository) LinkOAuthAccount(ctx context.Context, userID, provider, accountID string) (*OAuthAccount, error) {
	id := uuid.NewString()
	now := time.Now()
	row := r.DB.QueryRow(ctx, `
		INSERT INTO oauth_accounts (id, user_id, provider, provider_account_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, provider_account_id) DO UPDATE SET user_id = EXCLUDED.user_id, updated_at = EXCLUDED.updated_at
		RETURNING id, user_id, provider, provider_account_id, created_at, updated_at
	`, id, userID, provider, accountID, now, now)

	var oa OAuthAccount
	if err := row.Scan(&oa.ID, &oa.UserID, &oa.Provider, &oa.ProviderAccountID, &oa.CreatedAt, &oa.UpdatedAt); err != nil {
		return nil, err
	}
	return &oa, nil
}

func (r *UserRepository) HasOAuthAccount(ctx context.Context, userID string) (bool, error) {
	row := r.DB.QueryRow(ctx, `SELECT 1 FROM oauth_accounts WHERE user_id = $1 LIMIT 1`, userID)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateAuthToken stores the SHA-256 hash of a single-use token. Any
// previous unconsumed tokens of the same type are superseded.
func (r *UserRepository) CreateAuthToken(ctx context.Context, userID, tokenType, token string, expires time.Time) (*AuthToken, error) {
	if err := r.DeleteAuthTokens(ctx, userID, tokenType); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	hashed := HashString(token)
	_, err := r.DB.Exec(ctx, `
		INSERT INTO auth_tokens (id, user_id, type, token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, userID, tokenType, hashed, expires)
	if err != nil {
		return nil, err
	}
	return &AuthToken{ID: id, UserID: userID, Type: tokenType, TokenHash: hashed, ExpiresAt: expires}, nil
}

func (r *UserRepository) DeleteAuthTokens(ctx context.Context, userID, tokenType string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM auth_tokens WHERE user_id = $1 AND type = $2`, userID, tokenType)
	return err
}

// ConsumeAuthToken redeems a token in one statement: the row is only updated
// when it is unused and unexpired, so a second redemption finds nothing.
func (r *UserRepository) ConsumeAuthToken(ctx context.Context, tokenType, token string) (*AuthToken, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE auth_tokens
		SET used_at = NOW()
		WHERE type = $1 AND token_hash = $2 AND used_at IS NULL AND expires_at > NOW()
		RETURNING id, user_id, type, token_hash, expires_at, used_at, created_at
	`, tokenType, HashString(token))

	at, err := scanAuthToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return at, err
}

// ConsumeAuthTokenForUser is the user-scoped variant used for short
// verification codes, where the code alone is not globally unique.
func (r *UserRepository) ConsumeAuthTokenForUser(ctx context.Context, userID, tokenType, token string) (*AuthToken, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE auth_tokens
		SET used_at = NOW()
		WHERE user_id = $1 AND type = $2 AND token_hash = $3 AND used_at IS NULL AND expires_at > NOW()
		RETURNING id, user_id, type, token_hash, expires_at, used_at, created_at
	`, userID, tokenType, HashString(token))

	at, err := scanAuthToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return at, err
}

func scanAuthToken(row pgx.Row) (*AuthToken, error) {
	var (
		at     AuthToken
		usedAt sql.NullTime
	)
	if err := row.Scan(&at.ID, &at.UserID, &at.Type, &at.TokenHash, &at.ExpiresAt, &usedAt, &at.CreatedAt); err != nil {
		return nil, err
	}
	at.UsedAt = nullTimePtr(usedAt)
	return &at, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		id               string
		name             sql.NullString
		email            string
		emailVerified    sql.NullTime
		passwordHash     sql.NullString
		image            sql.NullString
		theme            sql.NullString
		totpSecret       sql.NullString
		twoFactorEnabled bool
		role             string
		createdAt        time.Time
		updatedAt        time.Time
	)

	if err := row.Scan(
		&id,
		&name,
		&email,
		&emailVerified,
		&passwordHash,
		&image,
		&theme,
		&totpSecret,
		&twoFactorEnabled,
		&role,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	return &User{
		ID:               id,
		Name:             nullStringPtr(name),
		Email:            email,
		EmailVerified:    nullTimePtr(emailVerified),
		PasswordHash:     nullStringPtr(passwordHash),
		Image:            nullStringPtr(image),
		Theme:            stringOrDefault(theme, "system"),
		TOTPSecret:       nullStringPtr(totpSecret),
		TwoFactorEnabled: twoFactorEnabled,
		Role:             role,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func nullStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func stringOrDefault(ns sql.NullString, def string) string {
	if ns.Valid {
		return ns.String
	}
	return def
}
