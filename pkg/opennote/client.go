package opennote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.opennote.me/v1"

// Client talks to the OpenNote generation API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type VideoRequest struct {
	Model          string        `json:"model"`
	Messages       []ChatMessage `json:"messages"`
	Title          string        `json:"title"`
	IncludeSources bool          `json:"include_sources"`
	SearchFor      string        `json:"search_for,omitempty"`
	SourceCount    int           `json:"source_count,omitempty"`
	Length         int           `json:"length,omitempty"`
	UploadToS3     bool          `json:"upload_to_s3"`
}

type VideoCreated struct {
	VideoID string `json:"video_id"`
}

type VideoStatus struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
	Response struct {
		S3URL string `json:"s3_url"`
	} `json:"response"`
}

type SetRequest struct {
	SetDescription string   `json:"set_description"`
	Count          int      `json:"count"`
	Difficulty     string   `json:"difficulty"`
	QuestionTypes  []string `json:"question_types,omitempty"`
}

type SetCreated struct {
	SetID string `json:"set_id"`
}

type SetStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func clampRange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (c *Client) CreateVideo(ctx context.Context, req VideoRequest) (VideoCreated, error) {
	if req.Model == "" {
		req.Model = "picasso"
	}
	if req.SourceCount != 0 {
		req.SourceCount = clampRange(req.SourceCount, 1, 5)
	}
	if req.Length != 0 {
		req.Length = clampRange(req.Length, 1, 5)
	}

	var out VideoCreated
	if err := c.do(ctx, http.MethodPost, "/video/create", req, &out); err != nil {
		return out, err
	}
	if out.VideoID == "" {
		return out, fmt.Errorf("opennote video/create: no video_id in response")
	}
	return out, nil
}

func (c *Client) GetVideoStatus(ctx context.Context, videoID string) (VideoStatus, error) {
	var out VideoStatus
	err := c.do(ctx, http.MethodGet, "/video/status/"+videoID, nil, &out)
	return out, err
}

func (c *Client) CreateFlashcards(ctx context.Context, req SetRequest) (SetCreated, error) {
	var out SetCreated
	if err := c.do(ctx, http.MethodPost, "/interactives/flashcards/create", req, &out); err != nil {
		return out, err
	}
	if out.SetID == "" {
		return out, fmt.Errorf("opennote flashcards/create: no set_id in response")
	}
	return out, nil
}

func (c *Client) CreatePractice(ctx context.Context, req SetRequest) (SetCreated, error) {
	var out SetCreated
	if err := c.do(ctx, http.MethodPost, "/interactives/practice/create", req, &out); err != nil {
		return out, err
	}
	if out.SetID == "" {
		return out, fmt.Errorf("opennote practice/create: no set_id in response")
	}
	return out, nil
}

func (c *Client) GetPracticeStatus(ctx context.Context, setID string) (SetStatus, error) {
	var out SetStatus
	err := c.do(ctx, http.MethodGet, "/interactives/practice/status/"+setID, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("opennote %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("opennote %s: status %d, body: %s", path, resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
