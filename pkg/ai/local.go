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

// LocalDispatcher calls a locally hosted inference webhook. Unlike the
// hosted protocol it sends no credentials: only the latest user message
// plus the prior transcript as history, and reads a flat message field
// back.
type LocalDispatcher struct {
	webhookURL string
	httpClient *http.Client
}

// NewLocalDispatcher validates the local branch of the provider config.
func NewLocalDispatcher(cfg domain.APIConfig) (*LocalDispatcher, error) {
	url := strings.TrimSpace(cfg.WebhookURL)
	if url == "" {
		return nil, fmt.Errorf("%w: webhook URL required", ErrDispatch)
	}
	return &LocalDispatcher{
		webhookURL: url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Dispatch implements Dispatcher over the local-webhook protocol. The
// transcript's last entry is the message being submitted; everything
// before it is sent as history.
func (d *LocalDispatcher) Dispatch(ctx context.Context, transcript []domain.Message) (string, error) {
	if len(transcript) == 0 {
		return "", fmt.Errorf("%w: empty transcript", ErrDispatch)
	}
	latest := transcript[len(transcript)-1]
	history := transcript[:len(transcript)-1]

	body, err := json.Marshal(localRequest{
		Message: latest.Content,
		History: history,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrDispatch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrDispatch, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: webhook request: %v", ErrDispatch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: webhook status %s", ErrDispatch, resp.Status)
	}

	var parsed localResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode webhook response: %v", ErrDispatch, err)
	}
	text := strings.TrimSpace(parsed.Message)
	if text == "" {
		return "", fmt.Errorf("%w: webhook response missing message", ErrDispatch)
	}
	return text, nil
}

type localRequest struct {
	Message string           `json:"message"`
	History []domain.Message `json:"history"`
}

type localResponse struct {
	Message string `json:"message"`
}
