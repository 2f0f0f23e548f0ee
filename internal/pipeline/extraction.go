package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ferrant/reverie/internal/conversation"
)

// maxResponseBytes bounds extraction service responses.
const maxResponseBytes = 10 << 20

// Bundle is the structured output of the extraction collaborator. The
// pipeline only orchestrates storage of this bundle; its semantics belong
// to the extraction service.
type Bundle struct {
	Facts             []Fact       `json:"facts"`
	Entities          []Entity     `json:"entities"`
	Preferences       []Preference `json:"preferences"`
	Summary           string       `json:"summary"`
	Tone              string       `json:"tone"`
	KeyMoments        []string     `json:"key_moments"`
	NewThreads        []string     `json:"new_threads"`
	ResolvedThreadIDs []string     `json:"resolved_thread_ids"`
	InnerThoughts     []string     `json:"inner_thoughts"`
}

// Fact is one extracted statement with a salience weight in (0, 1].
type Fact struct {
	Content  string  `json:"content"`
	Salience float64 `json:"salience"`
}

// Entity is a named thing the extraction service recognized.
type Entity struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Preference is a key/value preference statement.
type Preference struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Thread is an open conversational thread passed to the extraction
// service for continuity.
type Thread struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

// Extractor analyzes a transcript and returns an enrichment bundle. It
// may be slow or fail; the pipeline treats it as opaque.
type Extractor interface {
	Extract(ctx context.Context, transcript []conversation.Message, openThreads []Thread) (*Bundle, error)
}

// HTTPExtractor calls an extraction service over JSON POST.
type HTTPExtractor struct {
	url   string
	token string
	http  *http.Client
}

// Compile-time interface check.
var _ Extractor = (*HTTPExtractor)(nil)

// NewHTTPExtractor creates an extractor client for the given endpoint.
func NewHTTPExtractor(url, token string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExtractor{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	Transcript  []transcriptEntry `json:"transcript"`
	OpenThreads []Thread          `json:"open_threads"`
}

type transcriptEntry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// Extract posts the transcript and open threads to the extraction service
// and decodes the returned bundle.
func (e *HTTPExtractor) Extract(ctx context.Context, transcript []conversation.Message, openThreads []Thread) (*Bundle, error) {
	reqBody := extractRequest{
		Transcript:  make([]transcriptEntry, len(transcript)),
		OpenThreads: openThreads,
	}
	for i, m := range transcript {
		reqBody.Transcript[i] = transcriptEntry{Role: m.Role, Content: m.Content, SentAt: m.SentAt}
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("pipeline: marshal extract request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pipeline: create extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: extract request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("pipeline: read extract response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pipeline: extraction service returned %d", resp.StatusCode)
	}

	var bundle Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, fmt.Errorf("pipeline: decode extract response: %w", err)
	}

	return &bundle, nil
}

// NopExtractor returns an empty bundle, for deployments with enrichment
// disabled.
type NopExtractor struct{}

// Compile-time interface check.
var _ Extractor = (*NopExtractor)(nil)

// Extract always returns an empty bundle.
func (NopExtractor) Extract(_ context.Context, _ []conversation.Message, _ []Thread) (*Bundle, error) {
	return &Bundle{}, nil
}
