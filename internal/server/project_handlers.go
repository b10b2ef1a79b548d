package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"codeloom/internal/project"
	"codeloom/internal/storage"
)

// maxConcurrentUploads caps how many files of a batch save are in flight at
// once against the object store.
const maxConcurrentUploads = 5

const maxFileSize = 2 << 20 // per file, bytes

type createProjectRequest struct {
	Name       string `json:"name"`
	Template   string `json:"template"`
	Visibility string `json:"visibility"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 100 {
		writeError(w, http.StatusBadRequest, "Project name must be between 1 and 100 characters.")
		return
	}
	if req.Visibility == "" {
		req.Visibility = "private"
	}
	if req.Visibility != "private" && req.Visibility != "public" {
		writeError(w, http.StatusBadRequest, "Invalid visibility value")
		return
	}

	proj, err := s.Projects.Create(r.Context(), sess.UserID, req.Name, req.Template, req.Visibility)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	writeJSON(w, http.StatusCreated, proj)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	projects, err := s.Projects.ListForUser(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch projects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

// ownedProject loads the project from the URL and enforces ownership. Writes
// the error response itself and returns nil when the caller should stop.
func (s *Server) ownedProject(w http.ResponseWriter, r *http.Request) *project.Project {
	sess := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")

	proj, err := s.Projects.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch project")
		return nil
	}
	if proj == nil || proj.UserID != sess.UserID {
		// Same response for missing and foreign projects.
		writeError(w, http.StatusNotFound, "Project not found")
		return nil
	}
	return proj
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	proj := s.ownedProject(w, r)
	if proj == nil {
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

type updateProjectRequest struct {
	Name       *string `json:"name"`
	Visibility *string `json:"visibility"`
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	proj := s.ownedProject(w, r)
	if proj == nil {
		return
	}

	var req updateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" || len(trimmed) > 100 {
			writeError(w, http.StatusBadRequest, "Project name must be between 1 and 100 characters.")
			return
		}
		req.Name = &trimmed
	}
	if req.Visibility != nil && *req.Visibility != "private" && *req.Visibility != "public" {
		writeError(w, http.StatusBadRequest, "Invalid visibility value")
		return
	}

	updated, err := s.Projects.Update(r.Context(), proj.ID, req.Name, req.Visibility)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update project")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	proj := s.ownedProject(w, r)
	if proj == nil {
		return
	}

	if err := s.Objects.DeletePrefix(r.Context(), project.ObjectPrefix(proj.ID)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete project files")
		return
	}
	if err := s.Projects.Delete(r.Context(), proj.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	proj := s.ownedProject(w, r)
	if proj == nil {
		return
	}

	files, err := s.Projects.ListFiles(r.Context(), proj.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

type saveFileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type saveFilesRequest struct {
	Files []saveFileEntry `json:"files"`
}

type saveFileResult struct {
	Path  string `json:"path"`
	Size  int64  `json:"size,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleSaveFiles(w http.ResponseWriter, r *http.Request) {
	proj := s.ownedProject(w, r)
	if proj == nil {
		return
	}

	var req saveFilesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided")
		return
	}
	if len(req.Files) > 200 {
		writeError(w, http.StatusBadRequest, "Too many files in one batch")
		return
	}
	for _, f := range req.Files {
		if !validFilePath(f.Path) {
			writeError(w, http.StatusBadRequest, "Invalid file path: "+f.Path)
			return
		}
		if len(f.Content) > maxFileSize {
			writeError(w, http.StatusBadRequest, "File too large: "+f.Path)
			return
		}
	}

	results := make([]saveFileResult, len(req.Files))
	var mu sync.Mutex
	failed := false

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(maxConcurrentUploads)
	for i, f := range req.Files {
		i, f := i, f
		g.Go(func() error {
			data := []byte(f.Content)
			res := saveFileResult{Path: f.Path}

			if err := s.Objects.Put(ctx, project.ObjectKey(proj.ID, f.Path), data, "text/plain; charset=utf-8"); err != nil {
				res.Error = "upload failed"
			} else if _, err := s.Projects.UpsertFile(ctx, proj.ID, f.Path, int64(len(data)), hashBytes(data)); err != nil {
				res.Error = "metadata update failed"
			} else {
				res.Size = int64(len(data))
			}

			mu.Lock()
			results[i] = res
			if res.Error != "" {
				failed = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	_ = s.Projects.Touch(r.Context(), proj.ID)

	status := http.StatusOK
	if failed {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]interface{}{"results": results})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	proj := s.ownedProject(w, r)
	if proj == nil {
		return
	}

	path := chi.URLParam(r, "*")
	if !validFilePath(path) {
		writeError(w, http.StatusBadRequest, "Invalid file path")
		return
	}

	file, err := s.Projects.FindFile(r.Context(), proj.ID, path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch file")
		return
	}
	if file == nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	data, err := s.Objects.Get(r.Context(), file.ObjectKey())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to fetch file content")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":      file.Path,
		"size":      file.Size,
		"hash":      file.ContentHash,
		"content":   string(data),
		"updatedAt": file.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	proj := s.ownedProject(w, r)
	if proj == nil {
		return
	}

	path := chi.URLParam(r, "*")
	if !validFilePath(path) {
		writeError(w, http.StatusBadRequest, "Invalid file path")
		return
	}

	file, err := s.Projects.FindFile(r.Context(), proj.ID, path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch file")
		return
	}
	if file == nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	if err := s.Objects.Delete(r.Context(), file.ObjectKey()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to delete file content")
		return
	}
	if err := s.Projects.DeleteFile(r.Context(), proj.ID, path); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete file")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validFilePath(path string) bool {
	if path == "" || len(path) > 512 {
		return false
	}
	if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return false
	}
	if strings.Contains(path, "\x00") || strings.Contains(path, "\\") {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
