package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeloom/internal/project"
)

func (e *testEnv) loginUser(t *testing.T, email string) string {
	t.Helper()
	e.addVerifiedUser(email, "Sup3r$ecret")
	access, _ := e.login(email, "Sup3r$ecret")
	require.NotEmpty(t, access)
	return access
}

func (e *testEnv) createProject(t *testing.T, access, name string) project.Project {
	t.Helper()
	rec := e.do(http.MethodPost, "/api/projects", map[string]interface{}{
		"name": name,
	}, withBearer(access))
	require.Equal(t, http.StatusCreated, rec.Code)
	var p project.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestProjectCRUD(t *testing.T) {
	env := newTestEnv()
	access := env.loginUser(t, "dev@example.com")

	p := env.createProject(t, access, "my-app")
	assert.Equal(t, "private", p.Visibility)

	rec := env.do(http.MethodGet, "/api/projects/"+p.ID, nil, withBearer(access))
	assert.Equal(t, http.StatusOK, rec.Code)

	newName := "renamed-app"
	rec = env.do(http.MethodPatch, "/api/projects/"+p.ID, map[string]interface{}{
		"name": newName,
	}, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	var updated project.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, newName, updated.Name)

	rec = env.do(http.MethodDelete, "/api/projects/"+p.ID, nil, withBearer(access))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/projects/"+p.ID, nil, withBearer(access))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectOwnershipEnforced(t *testing.T) {
	env := newTestEnv()
	owner := env.loginUser(t, "owner@example.com")
	intruder := env.loginUser(t, "intruder@example.com")

	p := env.createProject(t, owner, "secret-app")

	// Foreign projects answer exactly like missing ones.
	rec := env.do(http.MethodGet, "/api/projects/"+p.ID, nil, withBearer(intruder))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	missing := env.do(http.MethodGet, "/api/projects/does-not-exist", nil, withBearer(intruder))
	assert.Equal(t, missing.Body.String(), rec.Body.String())
}

func TestSaveFilesBatch(t *testing.T) {
	env := newTestEnv()
	access := env.loginUser(t, "dev@example.com")
	p := env.createProject(t, access, "my-app")

	rec := env.do(http.MethodPut, "/api/projects/"+p.ID+"/files", map[string]interface{}{
		"files": []map[string]string{
			{"path": "index.html", "content": "<html></html>"},
			{"path": "src/app.js", "content": "console.log(1)"},
			{"path": "src/style.css", "content": "body {}"},
		},
	}, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []saveFileResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	for _, res := range resp.Results {
		assert.Empty(t, res.Error)
		assert.NotZero(t, res.Size)
	}

	files, err := env.projects.ListFiles(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	data, err := env.objects.Get(context.Background(), project.ObjectKey(p.ID, "src/app.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))
}

func TestSaveFilesConcurrencyCap(t *testing.T) {
	env := newTestEnv()
	access := env.loginUser(t, "dev@example.com")
	p := env.createProject(t, access, "my-app")

	env.objects.putDelay = 10 * time.Millisecond

	files := make([]map[string]string, 40)
	for i := range files {
		files[i] = map[string]string{
			"path":    "file-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26)) + ".txt",
			"content": "data",
		}
	}

	rec := env.do(http.MethodPut, "/api/projects/"+p.ID+"/files", map[string]interface{}{
		"files": files,
	}, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.LessOrEqual(t, env.objects.maxInFlight, maxConcurrentUploads)
	assert.Greater(t, env.objects.maxInFlight, 1, "uploads should overlap")
}

func TestSaveFilesRejectsBadPaths(t *testing.T) {
	env := newTestEnv()
	access := env.loginUser(t, "dev@example.com")
	p := env.createProject(t, access, "my-app")

	for _, bad := range []string{"../escape.txt", "/abs.txt", "a//b.txt", "dir/../../x", ""} {
		rec := env.do(http.MethodPut, "/api/projects/"+p.ID+"/files", map[string]interface{}{
			"files": []map[string]string{{"path": bad, "content": "x"}},
		}, withBearer(access))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "path %q", bad)
	}
}

func TestGetAndDeleteFile(t *testing.T) {
	env := newTestEnv()
	access := env.loginUser(t, "dev@example.com")
	p := env.createProject(t, access, "my-app")

	rec := env.do(http.MethodPut, "/api/projects/"+p.ID+"/files", map[string]interface{}{
		"files": []map[string]string{{"path": "src/app.js", "content": "let x = 1"}},
	}, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/projects/"+p.ID+"/files/src/app.js", nil, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	var file struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
	assert.Equal(t, "src/app.js", file.Path)
	assert.Equal(t, "let x = 1", file.Content)

	rec = env.do(http.MethodDelete, "/api/projects/"+p.ID+"/files/src/app.js", nil, withBearer(access))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/projects/"+p.ID+"/files/src/app.js", nil, withBearer(access))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidFilePath(t *testing.T) {
	assert.True(t, validFilePath("index.html"))
	assert.True(t, validFilePath("src/components/App.tsx"))
	assert.False(t, validFilePath("/etc/passwd"))
	assert.False(t, validFilePath("a/../b"))
	assert.False(t, validFilePath("trailing/"))
	assert.False(t, validFilePath("back\\slash"))
	assert.False(t, validFilePath(""))
}
