package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when a
// signing secret is configured.
const SignatureHeader = "X-Plantwatch-Signature"

// Channel delivers rendered content.
type Channel interface {
	Send(ctx context.Context, content string) error
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel posts rendered alarm text to a chat-bot style webhook.
// Transport errors and 5xx responses are retried; 4xx responses are not.
type WebhookChannel struct {
	url     string
	client  *http.Client
	secret  []byte
	retries int
	backoff time.Duration
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithSigningSecret signs each body into SignatureHeader.
func WithSigningSecret(secret string) WebhookOption {
	return func(ch *WebhookChannel) {
		if secret != "" {
			ch.secret = []byte(secret)
		}
	}
}

// WithRetries sets how many extra attempts follow a retryable failure. The
// wait doubles after each attempt, starting at backoff.
func WithRetries(retries int, backoff time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if retries > 0 {
			ch.retries = retries
		}
		if backoff > 0 {
			ch.backoff = backoff
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		backoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook channel: non-2xx response %d", e.code)
}

// Send posts content as a text message.
func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	body, err := json.Marshal(webhookPayload{MsgType: "text", Text: webhookText{Content: content}})
	if err != nil {
		return err
	}

	wait := w.backoff
	for attempt := 0; ; attempt++ {
		err = w.post(ctx, body)
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.code < 500 {
			return err
		}
		if attempt >= w.retries {
			return fmt.Errorf("webhook channel: giving up after %d attempts: %w", attempt+1, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
}

func (w *WebhookChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(w.secret) > 0 {
		mac := hmac.New(sha256.New, w.secret)
		mac.Write(body)
		req.Header.Set(SignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}
