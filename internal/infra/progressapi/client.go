package progressapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/studymesh/recall/internal/domain/entities"
)

// Client posts coalesced progress events to an external bulk endpoint.
// The endpoint accepts the whole batch or rejects it; there is no
// partial-item reporting.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type bulkEvent struct {
	UserID     string            `json:"user_id"`
	CourseID   string            `json:"course_id"`
	ChapterID  string            `json:"chapter_id"`
	Kind       string            `json:"kind"`
	Progress   float64           `json:"progress"`
	Completed  bool              `json:"completed"`
	Final      bool              `json:"final,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// WriteBatch sends one partition's events as a JSON array. Any non-2xx
// response counts as a failed attempt.
func (c *Client) WriteBatch(ctx context.Context, updates []entities.ProgressUpdate) error {
	events := make([]bulkEvent, len(updates))
	for i, u := range updates {
		events[i] = bulkEvent{
			UserID:     u.UserID,
			CourseID:   u.CourseID,
			ChapterID:  u.ChapterID,
			Kind:       string(u.Kind),
			Progress:   u.Progress,
			Completed:  u.Completed,
			Final:      u.Final,
			Meta:       u.Meta,
			OccurredAt: u.OccurredAt,
		}
	}

	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal bulk events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post bulk events: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("bulk endpoint returned %s", resp.Status)
	}

	return nil
}
