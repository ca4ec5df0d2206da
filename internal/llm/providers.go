package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	openAIDefaultBaseURL    = "https://api.openai.com/v1"
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
)

var errNoContent = errors.New("response carries no text content")

func chatMessages(p Prompt) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if p.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})
}

func chatRequest(cfg Config, p Prompt) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    chatMessages(p),
		Temperature: cfg.Temperature,
		MaxTokens:   maxTokens(cfg, p),
	}
}

func parseChatCompletion(body []byte) (string, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoContent
	}
	return resp.Choices[0].Message.Content, nil
}

// openAIProvider speaks the OpenAI chat completions API and anything
// compatible with it.
type openAIProvider struct{}

func (openAIProvider) Name() string       { return "openai" }
func (openAIProvider) NeedsBaseURL() bool { return false }

func (openAIProvider) BuildRequest(ctx context.Context, cfg Config, p Prompt) (*http.Request, error) {
	base := cfg.BaseURL
	if base == "" {
		base = openAIDefaultBaseURL
	}
	req, err := newJSONRequest(ctx, base+"/chat/completions", chatRequest(cfg, p))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	return req, nil
}

func (openAIProvider) ParseResponse(body []byte) (string, error) {
	return parseChatCompletion(body)
}

// azureProvider posts to a full deployment URL and authenticates with
// the api-key header.
type azureProvider struct{}

func (azureProvider) Name() string       { return "azure" }
func (azureProvider) NeedsBaseURL() bool { return true }

func (azureProvider) BuildRequest(ctx context.Context, cfg Config, p Prompt) (*http.Request, error) {
	req, err := newJSONRequest(ctx, cfg.BaseURL, chatRequest(cfg, p))
	if err != nil {
		return nil, err
	}
	req.Header.Set("api-key", cfg.APIKey)
	return req, nil
}

func (azureProvider) ParseResponse(body []byte) (string, error) {
	return parseChatCompletion(body)
}

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string     `json:"model"`
	MaxTokens   int        `json:"max_tokens"`
	Temperature float32    `json:"temperature"`
	Messages    []chatTurn `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicProvider struct{}

func (anthropicProvider) Name() string       { return "anthropic" }
func (anthropicProvider) NeedsBaseURL() bool { return false }

func (anthropicProvider) BuildRequest(ctx context.Context, cfg Config, p Prompt) (*http.Request, error) {
	base := cfg.BaseURL
	if base == "" {
		base = anthropicDefaultBaseURL
	}
	body := anthropicRequest{
		Model:       cfg.Model,
		MaxTokens:   maxTokens(cfg, p),
		Temperature: cfg.Temperature,
		Messages:    []chatTurn{{Role: "user", Content: joinPrompt(p)}},
	}
	req, err := newJSONRequest(ctx, base+"/messages", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (anthropicProvider) ParseResponse(body []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			return c.Text, nil
		}
	}
	return "", errNoContent
}

type qianfanRequest struct {
	Messages        []chatTurn `json:"messages"`
	Temperature     float32    `json:"temperature"`
	MaxOutputTokens int        `json:"max_output_tokens"`
}

type qianfanResponse struct {
	Result    string `json:"result"`
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// qianfanProvider passes the credential as an access_token query
// parameter and takes a single user message.
type qianfanProvider struct{}

func (qianfanProvider) Name() string       { return "qianfan" }
func (qianfanProvider) NeedsBaseURL() bool { return true }

func (qianfanProvider) BuildRequest(ctx context.Context, cfg Config, p Prompt) (*http.Request, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("access_token", cfg.APIKey)
	u.RawQuery = q.Encode()

	body := qianfanRequest{
		Messages:        []chatTurn{{Role: "user", Content: joinPrompt(p)}},
		Temperature:     cfg.Temperature,
		MaxOutputTokens: maxTokens(cfg, p),
	}
	return newJSONRequest(ctx, u.String(), body)
}

func (qianfanProvider) ParseResponse(body []byte) (string, error) {
	var resp qianfanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if resp.ErrorCode != 0 {
		return "", fmt.Errorf("provider error %d: %s", resp.ErrorCode, resp.ErrorMsg)
	}
	if resp.Result == "" {
		return "", errNoContent
	}
	return resp.Result, nil
}

type tongyiRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []chatTurn `json:"messages"`
	} `json:"input"`
	Parameters struct {
		Temperature float32 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	} `json:"parameters"`
}

type tongyiResponse struct {
	Output struct {
		Text    string `json:"text"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
}

type tongyiProvider struct{}

func (tongyiProvider) Name() string       { return "tongyi" }
func (tongyiProvider) NeedsBaseURL() bool { return true }

func (tongyiProvider) BuildRequest(ctx context.Context, cfg Config, p Prompt) (*http.Request, error) {
	var body tongyiRequest
	body.Model = cfg.Model
	if p.System != "" {
		body.Input.Messages = append(body.Input.Messages, chatTurn{Role: "system", Content: p.System})
	}
	body.Input.Messages = append(body.Input.Messages, chatTurn{Role: "user", Content: p.User})
	body.Parameters.Temperature = cfg.Temperature
	body.Parameters.MaxTokens = maxTokens(cfg, p)

	req, err := newJSONRequest(ctx, cfg.BaseURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	return req, nil
}

func (tongyiProvider) ParseResponse(body []byte) (string, error) {
	var resp tongyiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Output.Text) != "" {
		return resp.Output.Text, nil
	}
	if len(resp.Output.Choices) > 0 {
		return resp.Output.Choices[0].Message.Content, nil
	}
	return "", errNoContent
}
