package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/version"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// apiKeyHeader authenticates requests to the provider.
const apiKeyHeader = "x-goog-api-key"

// GeminiClient implements Generator against the Gemini REST API.
type GeminiClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// GeminiOption customizes a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(url string) GeminiOption {
	return func(c *GeminiClient) { c.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) GeminiOption {
	return func(c *GeminiClient) { c.http = hc }
}

// NewGeminiClient creates a REST client for the configured default model.
func NewGeminiClient(cfg config.LLMConfig, apiKey string, opts ...GeminiOption) *GeminiClient {
	c := &GeminiClient{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// generateRequest is the REST request body.
type generateRequest struct {
	Contents          []Content   `json:"contents"`
	SystemInstruction *Content    `json:"systemInstruction,omitempty"`
	Tools             []Tool      `json:"tools,omitempty"`
	ToolConfig        *toolConfig `json:"toolConfig,omitempty"`
}

type toolConfig struct {
	FunctionCallingConfig functionCallingConfig `json:"functionCallingConfig"`
}

type functionCallingConfig struct {
	Mode string `json:"mode"`
}

// generateResponse is the REST response body.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []responsePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

type responsePart struct {
	Text         string        `json:"text,omitempty"`
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
}

// Generate submits the request and parses text and function calls from the
// first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body := generateRequest{
		Contents: []Content{{Role: "user", Parts: req.Parts}},
		Tools:    req.Tools,
	}
	if req.SystemInstruction != "" {
		body.SystemInstruction = &Content{Parts: []Part{{Text: req.SystemInstruction}}}
	}
	if req.RequireFunction {
		body.ToolConfig = &toolConfig{
			FunctionCallingConfig: functionCallingConfig{Mode: "ANY"},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(apiKeyHeader, c.apiKey)
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, &ProviderError{Err: fmt.Errorf("no candidates in response")}
	}

	result := &Result{}
	for _, part := range parsed.Candidates[0].Content.Parts {
		if part.Text != "" {
			result.Text += part.Text
		}
		if part.FunctionCall != nil {
			result.FunctionCalls = append(result.FunctionCalls, *part.FunctionCall)
		}
	}
	return result, nil
}

// VideoPart wraps MP4 bytes as an inline content part.
func VideoPart(data []byte) Part {
	return Part{InlineData: &InlineData{
		MimeType: "video/mp4",
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

// TextPart wraps a prompt string as a content part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// retryBaseDelay spaces retries of malformed replies.
const retryBaseDelay = 200 * time.Millisecond

// GenerateWithRetry retries Generate when the request fails or the reply
// fails validation. validate extracts the stage's result from the raw
// reply; each failure consumes one attempt.
func GenerateWithRetry[T any](
	ctx context.Context,
	g Generator,
	req *Request,
	attempts int,
	validate func(*Result) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(retryBaseDelay * time.Duration(attempt-1)):
			}
		}

		result, err := g.Generate(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		value, err := validate(result)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	return zero, fmt.Errorf("no valid reply after %d attempts: %w", attempts, lastErr)
}
