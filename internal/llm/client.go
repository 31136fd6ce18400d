package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanmaizon/taskplan/internal/domain"
)

const (
	chatCompletionsPath = "/chat/completions"
	maxResponseBytes    = 8 << 20
)

// Completer performs one chat completion against a provider and returns the
// text of the first choice.
type Completer interface {
	Complete(ctx context.Context, provider ProviderConfig, messages []domain.ChatMessage) (string, error)
}

type ClientOptions struct {
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// ChatClient talks to OpenAI-compatible chat-completion endpoints in JSON mode.
type ChatClient struct {
	client     *http.Client
	maxRetries int
}

func NewChatClient(opts ClientOptions) *ChatClient {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &ChatClient{
		client:     client,
		maxRetries: boundMaxRetries(opts.MaxRetries),
	}
}

type chatRequest struct {
	Model          string               `json:"model"`
	Messages       []domain.ChatMessage `json:"messages"`
	ResponseFormat responseFormat       `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *ChatClient) Complete(ctx context.Context, provider ProviderConfig, messages []domain.ChatMessage) (string, error) {
	return observeProviderOperation(ctx, string(provider.Selector), "chat_completion", func() (string, error) {
		return c.call(ctx, provider, messages)
	})
}

func (c *ChatClient) call(ctx context.Context, provider ProviderConfig, messages []domain.ChatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:          provider.ModelID,
		Messages:       messages,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(provider.BaseURL, "/") + chatCompletionsPath

	totalAttempts := c.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < totalAttempts; attempt++ {
		content, err := c.send(ctx, provider, endpoint, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !shouldRetryError(err) || attempt == totalAttempts-1 {
			break
		}
		if waitErr := waitForBackoff(ctx, attempt); waitErr != nil {
			return "", waitErr
		}
	}
	return "", lastErr
}

func (c *ChatClient) send(ctx context.Context, provider ProviderConfig, endpoint string, body []byte) (string, error) {
	name := string(provider.Selector)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &ProviderCallError{Provider: name, Err: err}
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Authorization", "Bearer "+provider.APIKey)

	response, err := c.client.Do(request)
	if err != nil {
		return "", &ProviderCallError{Provider: name, Err: err}
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return "", &ProviderCallError{Provider: name, StatusCode: response.StatusCode, Err: err}
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		message := strings.TrimSpace(string(raw))
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			message = parsed.Error.Message
		}
		if len(message) > 512 {
			message = message[:512]
		}
		return "", &ProviderCallError{Provider: name, StatusCode: response.StatusCode, Message: message}
	}

	if decodeErr != nil {
		return "", &MalformedResponseError{Provider: name, Reason: "undecodable completion envelope", Err: decodeErr}
	}
	if parsed.Error != nil {
		return "", &ProviderCallError{Provider: name, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &MalformedResponseError{Provider: name, Reason: "no choices", Err: errors.New("empty choices array")}
	}
	return parsed.Choices[0].Message.Content, nil
}
