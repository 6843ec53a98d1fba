// Package client is a small HTTP client for the chronicle service. It is
// what a conversational agent embeds to submit turns and recall memories
// without depending on chronicle's internals.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fablecore/chronicle/internal/types"
)

// Client talks to one chronicle server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the given base URL and API key.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server, carrying the RFC 7807
// problem fields when the server supplied them.
type APIError struct {
	StatusCode int
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("chronicle: %d %s: %s", e.StatusCode, e.Title, e.Detail)
	}
	return fmt.Sprintf("chronicle: unexpected status %d", e.StatusCode)
}

// Health fetches the server health status.
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var resp types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitTurn submits a completed conversational turn for analysis and
// returns the ids of the maintenance tasks it enqueued. The returned
// tasks run asynchronously; this call does not wait for them.
func (c *Client) SubmitTurn(ctx context.Context, req types.TurnRequest) (*types.TurnResponse, error) {
	var resp types.TurnResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/turns", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Recall runs a similarity query over the composite-document index.
func (c *Client) Recall(ctx context.Context, req types.RecallRequest) (*types.RecallResponse, error) {
	var resp types.RecallResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/recall", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetEntry fetches one lore entry by id.
func (c *Client) GetEntry(ctx context.Context, id string) (*types.LoreEntry, error) {
	var entry types.LoreEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/entries/"+id, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEntryNote fetches the session note overlaying an entry for one session.
func (c *Client) GetEntryNote(ctx context.Context, entryID, sessionID string) (*types.SessionNote, error) {
	var note types.SessionNote
	path := fmt.Sprintf("/api/v1/entries/%s/note?session_id=%s", entryID, sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// GetNoteUpdateTask fetches one note-update task by id.
func (c *Client) GetNoteUpdateTask(ctx context.Context, id string) (*types.NoteUpdateTask, error) {
	var task types.NoteUpdateTask
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/note-updates/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// RetryNoteUpdateTask requeues a failed note-update task.
func (c *Client) RetryNoteUpdateTask(ctx context.Context, id string) (*types.NoteUpdateTask, error) {
	var task types.NoteUpdateTask
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/note-updates/"+id+"/retry", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetEntityCreationTask fetches one entity-creation task by id.
func (c *Client) GetEntityCreationTask(ctx context.Context, id string) (*types.EntityCreationTask, error) {
	var task types.EntityCreationTask
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/entity-creations/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// RetryEntityCreationTask requeues a failed entity-creation task.
func (c *Client) RetryEntityCreationTask(ctx context.Context, id string) (*types.EntityCreationTask, error) {
	var task types.EntityCreationTask
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/entity-creations/"+id+"/retry", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// do sends an authenticated request and decodes the JSON response into
// out. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// Problem details are best effort; the status code alone is enough.
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
