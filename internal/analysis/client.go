// Package analysis talks to an OpenAI-compatible vision model and turns
// chart images into validated analysis text.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/httpclient"
	"github.com/gabriel-vasile/mimetype"
)

const defaultHTTPTimeout = 120 * time.Second

// Client implements domain.Analyzer for OpenAI-compatible chat completion APIs.
// It keeps no state between calls.
type Client struct {
	apiKey  string
	apiBase string
	model   string
	tmpl    *Template
	client  *http.Client
	logger  *slog.Logger
}

type Config struct {
	APIKey     string
	APIBase    string
	Model      string        // overrides the template's model when set
	Timeout    time.Duration // HTTP client timeout; default 120s
	HTTPClient *http.Client
	Template   *Template
	Logger     *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Template == nil {
		cfg.Template = MustDefaultTemplate()
	}
	if cfg.Model == "" {
		cfg.Model = cfg.Template.Model
	}
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		cfg.HTTPClient = httpclient.Shared(timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		tmpl:    cfg.Template,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

// Model reports the model name sent with each request.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// chatMessage content is a string for the system role and a list of parts
// for the multimodal user message.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze validates the image, submits it with the instruction template and
// returns text attributed to req.DisplayName.
func (c *Client) Analyze(ctx context.Context, ar domain.AnalysisRequest) (string, error) {
	image := ar.Image
	mime, err := SniffImage(image)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(c.buildRequest(image, mime))
	if err != nil {
		return "", &domain.ProviderError{Op: "chat", Err: fmt.Errorf("marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &domain.ProviderError{Op: "chat", Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &domain.ProviderError{Op: "chat", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.ProviderError{Op: "chat", StatusCode: resp.StatusCode, Err: readAPIError(resp.Body)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &domain.ProviderError{Op: "chat", Err: fmt.Errorf("decode: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &domain.ProviderError{Op: "chat", Err: errors.New("response has no choices")}
	}

	text := out.Choices[0].Message.Content
	c.logger.Debug("analysis response",
		"chat_id", ar.ChatID,
		"model", c.model,
		"finish_reason", out.Choices[0].FinishReason,
		"tokens", out.Usage.TotalTokens,
		"duration", time.Since(start),
	)
	if err := Check(text); err != nil {
		return "", err
	}
	return Attribute(ar.DisplayName, text), nil
}

func (c *Client) buildRequest(image []byte, mime string) chatRequest {
	temp := c.tmpl.Temperature
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
	return chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.tmpl.System},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: c.tmpl.User},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL, Detail: c.tmpl.Detail}},
			}},
		},
		MaxTokens:   c.tmpl.MaxTokens,
		Temperature: &temp,
	}
}

// Healthy checks that the provider is reachable and accepts the API key.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.ProviderError{Op: "models", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return &domain.ProviderError{Op: "models", StatusCode: resp.StatusCode, Err: errors.New("invalid API key")}
	}
	if resp.StatusCode != http.StatusOK {
		return &domain.ProviderError{Op: "models", StatusCode: resp.StatusCode, Err: errors.New("unexpected status")}
	}
	return nil
}

// SniffImage reports the MIME type of data, or an *domain.InvalidImageError
// when it is empty or not an image.
func SniffImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", &domain.InvalidImageError{Reason: "empty image"}
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", &domain.InvalidImageError{Reason: "unsupported content type " + mt.String()}
	}
	return mt.String(), nil
}

func readAPIError(r io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body apiErrorBody
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		return errors.New(body.Error.Message)
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = "empty response body"
	}
	return errors.New(msg)
}
