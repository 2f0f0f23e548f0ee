package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const telegramMaxResponseBytes = 1 << 20

// TelegramSender delivers TelegramPayload events through the Bot API.
type TelegramSender struct {
	token   string
	baseURL string
	http    *http.Client
}

// Compile-time interface check.
var _ Sender = (*TelegramSender)(nil)

// NewTelegramSender creates a sender for the given bot token.
func NewTelegramSender(token, baseURL string) *TelegramSender {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramSender{
		token:   token,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type telegramSendRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Result      struct {
		MessageID int `json:"message_id"`
	} `json:"result"`
}

// Send posts a sendMessage call. The recipient overrides the payload's
// chat id when the payload left it unset, so producers can target by
// participant reference alone.
func (s *TelegramSender) Send(ctx context.Context, recipient string, payload Payload) (SendResult, error) {
	tp, ok := payload.(TelegramPayload)
	if !ok {
		return SendResult{}, fmt.Errorf("%w: telegram sender got %s payload", ErrUnknownPlatform, payload.Platform())
	}

	chatID := tp.ChatID
	if chatID == 0 {
		parsed, err := strconv.ParseInt(recipient, 10, 64)
		if err != nil {
			return SendResult{}, &PermanentError{Reason: "recipient is not a chat id", Err: err}
		}
		chatID = parsed
	}

	body, err := json.Marshal(telegramSendRequest{ChatID: chatID, Text: tp.Text})
	if err != nil {
		return SendResult{}, fmt.Errorf("telegram: marshal sendMessage: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("telegram: create sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		// Wrap without the raw URL to avoid leaking the token-bearing
		// endpoint in error messages.
		return SendResult{}, fmt.Errorf("telegram: sendMessage request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, telegramMaxResponseBytes))
	if err != nil {
		return SendResult{}, fmt.Errorf("telegram: read sendMessage response: %w", err)
	}

	var api telegramResponse
	if err := json.Unmarshal(raw, &api); err != nil {
		return SendResult{}, fmt.Errorf("telegram: decode sendMessage response: %w", err)
	}

	if !api.OK {
		apiErr := fmt.Errorf("telegram: sendMessage: %d %s", api.ErrorCode, api.Description)
		// 4xx except rate limiting means the request itself is bad:
		// unknown chat, blocked bot, malformed text. Retrying cannot fix it.
		if api.ErrorCode >= 400 && api.ErrorCode < 500 && api.ErrorCode != http.StatusTooManyRequests {
			return SendResult{}, &PermanentError{Reason: api.Description, Err: apiErr}
		}
		return SendResult{}, apiErr
	}

	return SendResult{CorrelationID: strconv.Itoa(api.Result.MessageID)}, nil
}
