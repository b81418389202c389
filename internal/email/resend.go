package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// resendClient is the concrete Sender backed by the Resend API.
type resendClient struct {
	apiKey     string
	fromAddr   string // e.g. "noreply@reportbrief.ca"
	fromName   string // e.g. "ReportBrief"
	httpClient *http.Client
}

// NewResendClient returns a Sender that delivers email via Resend.
//
// Transient faults (network errors, 429, 5xx) are retried with exponential
// backoff inside the one delivery attempt. This is transport-level retry
// only — a job that still fails after the backoff window is marked failed
// and never requeued.
func NewResendClient(apiKey, fromAddr, fromName string) Sender {
	return &resendClient{
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ─── RESEND API SHAPES ────────────────────────────────────────────────────────

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Name       string `json:"name"`
		Message    string `json:"message"`
		StatusCode int    `json:"statusCode"`
	} `json:"error"`
}

// ─── SENDER IMPLEMENTATION ────────────────────────────────────────────────────

// Send delivers one email and returns Resend's message id.
func (c *resendClient) Send(ctx context.Context, to, subject, html string) (string, error) {
	var id string

	attempt := func() error {
		var err error
		id, err = c.sendOnce(ctx, to, subject, html)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	if err := backoff.Retry(attempt, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return id, nil
}

func (c *resendClient) sendOnce(ctx context.Context, to, subject, html string) (string, error) {
	from := fmt.Sprintf("%s <%s>", c.fromName, c.fromAddr)

	reqBody := resendRequest{
		From:    from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("email: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.resend.com/emails",
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("email: build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors are retryable.
		return "", fmt.Errorf("email: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("email: read response: %w", err)
	}

	// 429 and 5xx are worth retrying; any other non-2xx is a permanent
	// rejection of this message.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("email: Resend status %d: %.200s", resp.StatusCode, string(respBytes))
	}

	var parsed resendResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("email: unmarshal response (status %d): %w", resp.StatusCode, err))
	}

	if parsed.Error != nil {
		return "", backoff.Permanent(fmt.Errorf("email: Resend error %s: %s", parsed.Error.Name, parsed.Error.Message))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", backoff.Permanent(fmt.Errorf("email: unexpected status %d: %.200s", resp.StatusCode, string(respBytes)))
	}

	return parsed.ID, nil
}
