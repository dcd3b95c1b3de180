package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Generator turns a prompt and a size class into raw image bytes.
type Generator interface {
	Generate(ctx context.Context, prompt, size string) (data []byte, mime string, err error)
}

// Client calls an OpenAI-compatible images API.
type Client struct {
	client   *resty.Client
	endpoint string
	model    string
}

// ClientConfig holds generation API settings.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewClient builds a generation client with a hard request timeout so a stuck
// upstream becomes a failure instead of a hang.
func NewClient(cfg ClientConfig) *Client {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-image-1"
	}
	return &Client{
		client:   client,
		endpoint: baseURL + "/images/generations",
		model:    model,
	}
}

type imagesRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	Size         string `json:"size"`
	OutputFormat string `json:"output_format"`
}

type imagesResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate requests a single PNG image for the prompt at the given size.
func (c *Client) Generate(ctx context.Context, prompt, size string) ([]byte, string, error) {
	var out imagesResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(imagesRequest{Model: c.model, Prompt: prompt, Size: size, OutputFormat: "png"}).
		SetResult(&out).
		SetError(&out).
		Post(c.endpoint)
	if err != nil {
		return nil, "", fmt.Errorf("generation request: %w", err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return nil, "", fmt.Errorf("generation api: %s", out.Error.Message)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("generation api: status %d", resp.StatusCode())
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, "", errors.New("generation api: no image data returned")
	}
	data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, "", fmt.Errorf("decode image payload: %w", err)
	}
	return data, "image/png", nil
}

var _ Generator = (*Client)(nil)
