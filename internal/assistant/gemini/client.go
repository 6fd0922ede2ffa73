// Package gemini implements the assistant over the Gemini generateContent
// REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"finai/internal/core"
	"finai/internal/ports"
)

const (
	DefaultModel    = "gemini-2.0-flash"
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultTimeout  = 60 * time.Second
)

// FallbackAdvice is returned when the model answers with no text.
const FallbackAdvice = "Sorry, I could not process your request."

type Config struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a ports.Assistant backed by Gemini.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

var _ ports.Assistant = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", core.ErrAssistantUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{config: cfg, http: hc, logger: logger}, nil
}

// DraftTable asks the model for a table structure and normalizes it.
func (c *Client) DraftTable(ctx context.Context, prompt string) (core.TableDraft, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return core.TableDraft{}, core.ErrEmptyPrompt
	}

	text, err := c.generate(ctx, buildDraftPrompt(prompt), &generationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   draftSchema,
	})
	if err != nil {
		return core.TableDraft{}, err
	}

	draft, err := parseDraft(text)
	if err != nil {
		c.logger.WarnContext(ctx, "Discarding malformed table draft",
			"error", err,
			"response", truncate(text, 200))
		return core.TableDraft{}, err
	}
	c.logger.InfoContext(ctx, "Drafted table",
		"name", draft.Name,
		"columns", len(draft.Columns),
		"rows", len(draft.Rows))
	return draft, nil
}

// Advise answers a free-form question with the owner's tables as context.
func (c *Client) Advise(ctx context.Context, tables []core.Table, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", core.ErrEmptyPrompt
	}
	text, err := c.generate(ctx, buildAdvicePrompt(tables, prompt), nil)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FallbackAdvice, nil
	}
	return text, nil
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
	ResponseSchema   *schema `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// generate sends one prompt and returns the text of the first candidate.
func (c *Client) generate(ctx context.Context, prompt string, gc *generationConfig) (string, error) {
	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s",
		strings.TrimRight(c.config.Endpoint, "/"), c.config.Model, url.QueryEscape(c.config.APIKey))

	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: gc,
	})
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}
	c.logger.DebugContext(ctx, "Gemini call finished",
		"model", c.config.Model,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("gemini returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
		}
		return "", fmt.Errorf("%w: decode gemini response: %v", core.ErrMalformedDraft, err)
	}
	if gr.Error != nil {
		return "", fmt.Errorf("gemini error %d (%s): %s", gr.Error.Code, gr.Error.Status, gr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if len(gr.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
