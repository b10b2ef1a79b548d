package project

import "time"

type Project struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Template   string    `json:"template"`
	Visibility string    `json:"visibility"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// File is metadata only; contents live in object storage under
// projects/<projectID>/<path>.
type File struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"contentHash"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

const (
	DeployStatusQueued   = "queued"
	DeployStatusBuilding = "building"
	DeployStatusReady    = "ready"
	DeployStatusFailed   = "failed"
)

type Deployment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	BuildID   string    `json:"buildId,omitempty"`
	URL       *string   `json:"url,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (f File) ObjectKey() string {
	return "projects/" + f.ProjectID + "/" + f.Path
}

func ObjectKey(projectID, path string) string {
	return "projects/" + projectID + "/" + path
}

func ObjectPrefix(projectID string) string {
	return "projects/" + projectID + "/"
}
