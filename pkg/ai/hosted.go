package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
)

// HostedDispatcher calls the authenticated chat-completion endpoint. The
// full transcript is sent as {role, content} pairs together with the
// configured token budget and sampling temperature; the reply comes back
// in a nested choices structure.
type HostedDispatcher struct {
	endpoint    string
	apiKey      string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewHostedDispatcher validates the hosted branch of the provider config.
func NewHostedDispatcher(cfg domain.APIConfig) (*HostedDispatcher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: hosted endpoint required", ErrDispatch)
	}
	return &HostedDispatcher{
		endpoint:    endpoint,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Dispatch implements Dispatcher over the hosted-completion protocol.
func (d *HostedDispatcher) Dispatch(ctx context.Context, transcript []domain.Message) (string, error) {
	messages := make([]wireMessage, 0, len(transcript))
	for _, m := range transcript {
		messages = append(messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(hostedRequest{
		Messages:    messages,
		MaxTokens:   d.maxTokens,
		Temperature: d.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrDispatch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrDispatch, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: hosted request: %v", ErrDispatch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: hosted api status %s", ErrDispatch, resp.Status)
	}

	var parsed hostedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode hosted response: %v", ErrDispatch, err)
	}
	if len(parsed.Choices) > 0 {
		if text := strings.TrimSpace(parsed.Choices[0].Message.Content); text != "" {
			return text, nil
		}
	}
	// Some gateways flatten the reply into a top-level message field.
	if text := strings.TrimSpace(parsed.Message); text != "" {
		return text, nil
	}
	return "", fmt.Errorf("%w: hosted response missing reply", ErrDispatch)
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type hostedRequest struct {
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type hostedResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Message string `json:"message"`
}
