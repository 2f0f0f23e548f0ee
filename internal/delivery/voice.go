package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VoiceSender triggers outbound calls through a voice-agent API.
type VoiceSender struct {
	endpoint string
	token    string
	http     *http.Client
}

// Compile-time interface check.
var _ Sender = (*VoiceSender)(nil)

// NewVoiceSender creates a sender posting call requests to endpoint.
func NewVoiceSender(endpoint, token string) *VoiceSender {
	return &VoiceSender{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type voiceCallRequest struct {
	Recipient string `json:"recipient"`
	Prompt    string `json:"prompt"`
	AgentID   string `json:"agent_id,omitempty"`
}

type voiceCallResponse struct {
	CallID string `json:"call_id"`
}

// Send requests an outbound call for the recipient.
func (s *VoiceSender) Send(ctx context.Context, recipient string, payload Payload) (SendResult, error) {
	vp, ok := payload.(VoicePayload)
	if !ok {
		return SendResult{}, fmt.Errorf("%w: voice sender got %s payload", ErrUnknownPlatform, payload.Platform())
	}

	body, err := json.Marshal(voiceCallRequest{
		Recipient: recipient,
		Prompt:    vp.Prompt,
		AgentID:   vp.AgentID,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("voice: marshal call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("voice: create call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("voice: call request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, fmt.Errorf("voice: read call response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return SendResult{}, &PermanentError{
			Reason: fmt.Sprintf("voice agent rejected call: %d", resp.StatusCode),
		}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return SendResult{}, fmt.Errorf("voice: call request returned %d", resp.StatusCode)
	}

	var call voiceCallResponse
	if err := json.Unmarshal(raw, &call); err != nil {
		return SendResult{}, fmt.Errorf("voice: decode call response: %w", err)
	}

	return SendResult{CorrelationID: call.CallID}, nil
}
