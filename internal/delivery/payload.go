// Package delivery manages time-scheduled cross-platform message events:
// creation, due-event sweeps, platform routing, retry with exponential
// backoff, and stale-backlog cleanup.
package delivery

import (
	"encoding/json"
	"fmt"
)

// Platform identifiers the system can route to.
const (
	PlatformTelegram = "telegram"
	PlatformVoice    = "voice"
)

// Payload is a platform-tagged delivery payload. Each platform has its own
// concrete variant; the envelope codec selects the variant by the platform
// discriminator.
type Payload interface {
	// Platform returns the platform discriminator.
	Platform() string

	// Validate reports permanent defects that make delivery pointless.
	Validate() error
}

// TelegramPayload is a text message for a Telegram chat.
type TelegramPayload struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// Platform implements Payload.
func (TelegramPayload) Platform() string { return PlatformTelegram }

// Validate implements Payload.
func (p TelegramPayload) Validate() error {
	if p.Text == "" {
		return fmt.Errorf("%w: telegram payload missing text", ErrEmptyPayload)
	}
	return nil
}

// VoicePayload is a prompt for an outbound voice call.
type VoicePayload struct {
	Prompt  string `json:"prompt"`
	AgentID string `json:"agent_id"`
}

// Platform implements Payload.
func (VoicePayload) Platform() string { return PlatformVoice }

// Validate implements Payload.
func (p VoicePayload) Validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("%w: voice payload missing prompt", ErrEmptyPayload)
	}
	return nil
}

// envelope is the persisted JSON form: the discriminator next to the raw
// variant so rows stay decodable as platforms are added.
type envelope struct {
	Platform string          `json:"platform"`
	Payload  json.RawMessage `json:"payload"`
}

// MarshalPayload encodes a payload into its tagged envelope.
func MarshalPayload(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("delivery: marshal %s payload: %w", p.Platform(), err)
	}
	return json.Marshal(envelope{Platform: p.Platform(), Payload: raw})
}

// UnmarshalPayload decodes a tagged envelope back into its variant.
// An unrecognized platform is a permanent error: no retry can fix it.
func UnmarshalPayload(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("delivery: decode payload envelope: %w", err)
	}

	switch env.Platform {
	case PlatformTelegram:
		var p TelegramPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("delivery: decode telegram payload: %w", err)
		}
		return p, nil
	case PlatformVoice:
		var p VoicePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("delivery: decode voice payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, env.Platform)
	}
}
