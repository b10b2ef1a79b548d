package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"codeloom/internal/builder"
	"codeloom/internal/credit"
	"codeloom/internal/project"
)

const deploymentCreditCost = 5

type createDeploymentRequest struct {
	ProjectID string `json:"projectId"`
	Wait      bool   `json:"wait"`
}

func (s *Server) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req createDeploymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	}

	ctx := r.Context()
	proj, err := s.Projects.FindByID(ctx, req.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch project")
		return
	}
	if proj == nil || proj.UserID != sess.UserID {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}

	files, err := s.Projects.ListFiles(ctx, proj.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch project files")
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "Project has no files to deploy")
		return
	}

	if err := s.Credits.Debit(ctx, sess.UserID, deploymentCreditCost, credit.ReasonDeployment, proj.ID); err != nil {
		if errors.Is(err, credit.ErrInsufficientCredits) {
			writeError(w, http.StatusPaymentRequired, "Not enough credits.")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to debit credits")
		return
	}

	dep, err := s.Projects.CreateDeployment(ctx, proj.ID, sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create deployment")
		return
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}

	status, err := s.Builder.StartBuild(ctx, builder.BuildRequest{ProjectID: proj.ID, Files: paths})
	if err != nil {
		log.Printf("deployment %s: start build failed: %v", dep.ID, err)
		msg := "build worker unavailable"
		dep, _ = s.Projects.UpdateDeployment(ctx, dep.ID, project.DeployStatusFailed, "", nil, &msg)
		writeJSON(w, http.StatusBadGateway, dep)
		return
	}

	dep, err = s.Projects.UpdateDeployment(ctx, dep.ID, project.DeployStatusBuilding, status.BuildID, nil, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update deployment")
		return
	}

	if req.Wait {
		final, err := s.Builder.WaitForDone(ctx, status.BuildID)
		if err != nil {
			if errors.Is(err, builder.ErrBuildTimeout) {
				writeJSON(w, http.StatusAccepted, dep)
				return
			}
			writeError(w, http.StatusBadGateway, "Build status unavailable")
			return
		}
		dep = s.applyBuildStatus(r, dep, final)
	}

	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) ownedDeployment(w http.ResponseWriter, r *http.Request) *project.Deployment {
	sess := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")

	dep, err := s.Projects.FindDeployment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch deployment")
		return nil
	}
	if dep == nil || dep.UserID != sess.UserID {
		writeError(w, http.StatusNotFound, "Deployment not found")
		return nil
	}
	return dep
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	dep := s.ownedDeployment(w, r)
	if dep == nil {
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) handleDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	dep := s.ownedDeployment(w, r)
	if dep == nil {
		return
	}

	// Terminal rows are served from the database without bothering the worker.
	if dep.Status == project.DeployStatusReady || dep.Status == project.DeployStatusFailed || dep.BuildID == "" {
		writeJSON(w, http.StatusOK, dep)
		return
	}

	status, err := s.Builder.Status(r.Context(), dep.BuildID)
	if err != nil {
		if errors.Is(err, builder.ErrBuildNotFound) {
			msg := "build not found on worker"
			dep, _ = s.Projects.UpdateDeployment(r.Context(), dep.ID, project.DeployStatusFailed, dep.BuildID, nil, &msg)
			writeJSON(w, http.StatusOK, dep)
			return
		}
		writeError(w, http.StatusBadGateway, "Build status unavailable")
		return
	}

	dep = s.applyBuildStatus(r, dep, status)
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) applyBuildStatus(r *http.Request, dep *project.Deployment, status *builder.BuildStatus) *project.Deployment {
	mapped := dep.Status
	var url, errMsg *string

	switch status.Status {
	case "queued":
		mapped = project.DeployStatusQueued
	case "building":
		mapped = project.DeployStatusBuilding
	case "ready":
		mapped = project.DeployStatusReady
		if status.URL != "" {
			url = &status.URL
		}
	case "failed":
		mapped = project.DeployStatusFailed
		if status.Error != "" {
			errMsg = &status.Error
		}
	}

	updated, err := s.Projects.UpdateDeployment(r.Context(), dep.ID, mapped, dep.BuildID, url, errMsg)
	if err != nil {
		log.Printf("deployment %s: status update failed: %v", dep.ID, err)
		return dep
	}
	return updated
}
