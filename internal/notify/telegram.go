package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

const (
	// MaxMessageLength is the Bot API limit for sendMessage text.
	MaxMessageLength = 4096
	// maxRetryAfter caps how long a single 429 is waited out.
	maxRetryAfter = time.Minute
)

// APIError is a failed Bot API call.
type APIError struct {
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.StatusCode, e.Description)
}

// IsTransient reports whether err may succeed on retry: network failures,
// rate limiting and 5xx responses.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return err != nil
}

// Telegram sends messages through the Bot API.
type Telegram struct {
	client  *http.Client
	baseURL string
	token   string
	chatID  string
}

// NewTelegram creates a Telegram notifier. An empty baseURL uses the
// public API.
func NewTelegram(baseURL, token, chatID string) *Telegram {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Telegram{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
	}
}

func (t *Telegram) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// Notify sends msg, waiting out one rate-limit response if the server asks.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	err := t.send(ctx, Format(msg))
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 && apiErr.RetryAfter <= maxRetryAfter {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(apiErr.RetryAfter):
		}
		err = t.send(ctx, Format(msg))
	}
	return err
}

func (t *Telegram) send(ctx context.Context, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the token; report only the cause.
		var uerr interface{ Unwrap() error }
		if errors.As(err, &uerr) && uerr.Unwrap() != nil {
			err = uerr.Unwrap()
		}
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Description: "unparseable response"}
	}
	if apiResp.OK {
		return nil
	}

	apiErr := &APIError{StatusCode: apiResp.ErrorCode, Description: apiResp.Description}
	if apiErr.StatusCode == 0 {
		apiErr.StatusCode = resp.StatusCode
	}
	if apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
	}
	return apiErr
}

// maxTitleLength caps the bold headline of a message.
const maxTitleLength = 256

// Format renders msg as Telegram HTML of at most MaxMessageLength runes.
// Text is cut before escaping so an entity is never split.
func Format(msg Message) string {
	icon := "\U0001F6A8" // rotating light
	if msg.Resolved {
		icon = "✅" // check mark
	}
	head := fmt.Sprintf("%s <b>%s</b>\n\n", icon, escapeWithin(msg.Title, maxTitleLength))
	return head + escapeWithin(msg.Body, MaxMessageLength-utf8.RuneCountInString(head))
}

// EscapeHTML escapes the characters Telegram's HTML mode reserves.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// escapeWithin escapes s and keeps the result within max runes. When s does
// not fit, it is cut on a whole character and ends with an ellipsis.
func escapeWithin(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if escaped := EscapeHTML(s); utf8.RuneCountInString(escaped) <= max {
		return escaped
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		piece := EscapeHTML(string(r))
		w := utf8.RuneCountInString(piece)
		if n+w > max-1 {
			break
		}
		b.WriteString(piece)
		n += w
	}
	return b.String() + "…"
}
