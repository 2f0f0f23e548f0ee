// Package conversation owns conversation lifecycle state: session records,
// the processing reservation that serializes enrichment per conversation,
// and the idle-session detector that feeds the pipeline.
package conversation

import "time"

// Status is the lifecycle state of a conversation record.
type Status string

const (
	// StatusActive means the session is open and accumulating messages.
	StatusActive Status = "active"

	// StatusProcessing means an enrichment run holds the reservation.
	StatusProcessing Status = "processing"

	// StatusProcessed means enrichment completed and artifacts are stored.
	StatusProcessed Status = "processed"

	// StatusFailed means enrichment failed; the record may be re-reserved
	// while attempts remain under the cap.
	StatusFailed Status = "failed"
)

// Record is a conversation and its enrichment state. Exactly one status at
// a time; ProcessingStartedAt is non-nil iff Status is processing.
type Record struct {
	ID                  string
	Participant         string
	Platform            string
	Status              Status
	ProcessingAttempts  int
	ProcessingStartedAt *time.Time
	LastMessageAt       time.Time
	CreatedAt           time.Time

	// Enrichment artifacts, present once processed.
	Summary string
	Tone    string

	// FurthestStage is the last pipeline stage reached by the most recent
	// run, recorded on both success and failure.
	FurthestStage string
}

// Message is one entry in a conversation's ordered message log.
type Message struct {
	Role    string
	Content string
	SentAt  time.Time
}

// Artifacts is what a successful pipeline run folds back into the record.
type Artifacts struct {
	Summary       string
	Tone          string
	FurthestStage string
}

// StuckRecord is a conversation found wedged in processing.
type StuckRecord struct {
	ID                  string
	ProcessingAttempts  int
	ProcessingStartedAt time.Time
}

// StaleQuery selects active conversations idle past a cutoff. A platform
// listed in PlatformCutoffs uses its own cutoff instead of the default.
type StaleQuery struct {
	DefaultCutoff   time.Time
	PlatformCutoffs map[string]time.Time
	Limit           int
}
