// Package telegram delivers alert messages through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/coinwatch/internal/reliability"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// messagesPerSecond is Telegram's published bot send envelope.
const messagesPerSecond = 30

// APIError is a non-200 reply from the Bot API.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int // Seconds; only set on 429
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram API error %d: %s (retry after %ds)", e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

// IsTransient reports whether a send failure is worth retrying. Rate limits,
// server errors and network failures are transient; other API rejections
// (bad markup, unknown chat) are permanent.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return err != nil
}

// Client sends messages through the Bot API. Sends are paced to the bot
// envelope and routed through the chat_send circuit breaker.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	breakers   *reliability.BreakerManager
	log        zerolog.Logger
}

// NewClient creates a Telegram client. breakers is optional.
func NewClient(token string, breakers *reliability.BreakerManager, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.telegram.org",
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(messagesPerSecond), messagesPerSecond),
		breakers:   breakers,
		log:        log.With().Str("component", "telegram").Logger(),
	}
}

// SetToken swaps the bot token at runtime (settings overlay).
func (c *Client) SetToken(token string) {
	c.token = token
}

// Send delivers one message. parseMode defaults to Markdown when empty.
func (c *Client) Send(ctx context.Context, chatID, text, parseMode string) error {
	if c.token == "" {
		return errors.New("telegram bot token not configured")
	}
	if parseMode == "" {
		parseMode = "Markdown"
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send pacing interrupted: %w", err)
	}

	do := func() (interface{}, error) {
		return nil, c.sendMessage(ctx, chatID, text, parseMode)
	}

	var err error
	if c.breakers != nil {
		_, err = c.breakers.Execute(reliability.BreakerChatSend, do)
	} else {
		_, err = do()
	}
	return err
}

func (c *Client) sendMessage(ctx context.Context, chatID, text, parseMode string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)

	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": parseMode,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	apiErr := &APIError{Code: resp.StatusCode}
	var reply struct {
		Description string `json:"description"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&reply); decodeErr == nil {
		apiErr.Description = reply.Description
		apiErr.RetryAfter = reply.Parameters.RetryAfter
	}
	return apiErr
}

// EscapeMarkdown escapes the characters Telegram's Markdown parser treats as
// markup. Applied to user-derived substrings, never to whole templates.
func EscapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
