package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const projectColumns = `id, user_id, name, template, visibility, created_at, updated_at`
const fileColumns = `id, project_id, path, size, content_hash, updated_at`
const deploymentColumns = `id, project_id, user_id, status, build_id, url, error, created_at, updated_at`

type Repository struct {
	DB *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{DB: db}
}

func (r *Repository) Create(ctx context.Context, userID, name, template, visibility string) (*Project, error) {
	id := uuid.NewString()
	row := r.DB.QueryRow(ctx, `
		INSERT INTO projects (id, user_id, name, template, visibility)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+projectColumns, id, userID, name, template, visibility)
	return scanProject(row)
}

func (r *Repository) FindByID(ctx context.Context, id string) (*Project, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (r *Repository) Update(ctx context.Context, id string, name, visibility *string) (*Project, error) {
	sets := []string{`updated_at = NOW()`}
	args := []interface{}{}
	idx := 1

	if name != nil {
		sets = append(sets, fmt.Sprintf(`name = $%d`, idx))
		args = append(args, name)
		idx++
	}
	if visibility != nil {
		sets = append(sets, fmt.Sprintf(`visibility = $%d`, idx))
		args = append(args, visibility)
		idx++
	}
	if len(args) == 0 {
		return r.FindByID(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE projects SET %s WHERE id = $%d RETURNING %s`, strings.Join(sets, ", "), idx, projectColumns)
	return scanProject(r.DB.QueryRow(ctx, query, args...))
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return err
}

func (r *Repository) Touch(ctx context.Context, id string) error {
	_, err := r.DB.Exec(ctx, `UPDATE projects SET updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *Repository) UpsertFile(ctx context.Context, projectID, path string, size int64, contentHash string) (*File, error) {
	id := uuid.NewString()
	row := r.DB.QueryRow(ctx, `
		INSERT INTO project_files (id, project_id, path, size, content_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, path) DO UPDATE SET size = EXCLUDED.size, content_hash = EXCLUDED.content_hash, updated_at = NOW()
		RETURNING `+fileColumns, id, projectID, path, size, contentHash)
	return scanFile(row)
}

func (r *Repository) ListFiles(ctx context.Context, projectID string) ([]File, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+fileColumns+` FROM project_files
		WHERE project_id = $1
		ORDER BY path
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (r *Repository) FindFile(ctx context.Context, projectID, path string) (*File, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+fileColumns+` FROM project_files
		WHERE project_id = $1 AND path = $2
	`, projectID, path)
	f, err := scanFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (r *Repository) DeleteFile(ctx context.Context, projectID, path string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM project_files WHERE project_id = $1 AND path = $2`, projectID, path)
	return err
}

func (r *Repository) CreateDeployment(ctx context.Context, projectID, userID string) (*Deployment, error) {
	id := uuid.NewString()
	row := r.DB.QueryRow(ctx, `
		INSERT INTO deployments (id, project_id, user_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+deploymentColumns, id, projectID, userID, DeployStatusQueued)
	return scanDeployment(row)
}

func (r *Repository) FindDeployment(ctx context.Context, id string) (*Deployment, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, id)
	d, err := scanDeployment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *Repository) UpdateDeployment(ctx context.Context, id, status, buildID string, url, errMsg *string) (*Deployment, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE deployments
		SET status = $1, build_id = $2, url = $3, error = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING `+deploymentColumns, status, buildID, url, errMsg, id)
	return scanDeployment(row)
}

func scanProject(row pgx.Row) (*Project, error) {
	var p Project
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Template, &p.Visibility, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanFile(row pgx.Row) (*File, error) {
	var f File
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &f.ContentHash, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func scanDeployment(row pgx.Row) (*Deployment, error) {
	var (
		d       Deployment
		buildID sql.NullString
		url     sql.NullString
		errMsg  sql.NullString
	)
	if err := row.Scan(&d.ID, &d.ProjectID, &d.UserID, &d.Status, &buildID, &url, &errMsg, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if buildID.Valid {
		d.BuildID = buildID.String
	}
	if url.Valid {
		d.URL = &url.String
	}
	if errMsg.Valid {
		d.Error = &errMsg.String
	}
	return &d, nil
}
