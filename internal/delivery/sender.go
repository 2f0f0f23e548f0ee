package delivery

import "context"

// SendResult is the sender's acknowledgment of a successful delivery.
type SendResult struct {
	// CorrelationID is the platform's message/call identifier, when the
	// platform provides one.
	CorrelationID string
}

// Sender delivers one payload to one recipient on its platform. A nil
// error means the platform accepted the message. Errors are classified by
// Classify: wrap input defects in *PermanentError to bypass the retry
// budget.
type Sender interface {
	Send(ctx context.Context, recipient string, payload Payload) (SendResult, error)
}
