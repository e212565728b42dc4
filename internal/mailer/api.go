package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APISender delivers through a provider's HTTP send API. The underlying
// http.Client pools connections and is safe for concurrent use.
type APISender struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewAPISender(baseURL, apiKey string) *APISender {
	return &APISender{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiSendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Body    string            `json:"body,omitempty"`
	HTML    string            `json:"html,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type apiSendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiErrorResponse struct {
	Error string `json:"error"`
}

// Send posts the message to the provider's send endpoint
func (s *APISender) Send(ctx context.Context, params *SendParams) (*SendResult, error) {
	payload := apiSendRequest{
		From:    formatFrom(params.From, params.FromName),
		To:      []string{params.To},
		Subject: params.Subject,
		Body:    params.Text,
		HTML:    params.HTML,
		Headers: params.Headers,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/send", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp apiErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errResp); err != nil || errResp.Error == "" {
			return nil, fmt.Errorf("provider HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("provider error: %s", errResp.Error)
	}

	var sendResp apiSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &SendResult{ProviderMessageID: sendResp.ID}, nil
}
