// Package builder talks to the external build worker that turns a project's
// files into a deployable bundle.
package builder

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBuildNotFound = errors.New("build not found")
	ErrBuildTimeout  = errors.New("build did not finish in time")
)

const (
	pollInterval    = 2 * time.Second
	pollMaxAttempts = 30
)

type BuildRequest struct {
	ProjectID string   `json:"projectId"`
	Files     []string `json:"files"`
}

type BuildStatus struct {
	BuildID string `json:"buildId"`
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (b BuildStatus) Done() bool {
	return b.Status == "ready" || b.Status == "failed"
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 10 * time.Minute,
			},
		},
	}
}

// StartBuild submits a build job and returns the worker-assigned build id.
func (c *Client) StartBuild(ctx context.Context, req BuildRequest) (*BuildStatus, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var status BuildStatus
	if err := c.do(ctx, http.MethodPost, "/build", body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Status(ctx context.Context, buildID string) (*BuildStatus, error) {
	var status BuildStatus
	if err := c.do(ctx, http.MethodGet, "/build/"+buildID+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WaitForDone polls the worker at a fixed interval until the build reaches a
// terminal state or the attempt budget runs out.
func (c *Client) WaitForDone(ctx context.Context, buildID string) (*BuildStatus, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < pollMaxAttempts; attempt++ {
		status, err := c.Status(ctx, buildID)
		if err != nil && !errors.Is(err, ErrBuildNotFound) {
			return nil, err
		}
		if status != nil && status.Done() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return nil, ErrBuildTimeout
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Request-Timestamp", ts)
	req.Header.Set("X-Request-Nonce", nonce)
	req.Header.Set("X-Request-Signature", signRequest(c.apiKey, ts, nonce, method, path))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrBuildNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("builder worker returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func signRequest(apiKey, ts, nonce, method, path string) string {
	payload := fmt.Sprintf("%s\n%s\n%s\n%s", ts, nonce, method, path)
	mac := hmac.New(sha256.New, []byte(apiKey))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
