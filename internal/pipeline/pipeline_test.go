package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ferrant/reverie/internal/conversation"
)

// fakeConvStore backs the tracker and the pipeline's reads.
type fakeConvStore struct {
	conversation.Store

	rec        *conversation.Record
	transcript []conversation.Message

	completed *conversation.Artifacts
	failStage string
}

func (s *fakeConvStore) Get(_ context.Context, id string) (*conversation.Record, error) {
	if s.rec == nil || s.rec.ID != id {
		return nil, conversation.ErrNotFound
	}
	return s.rec, nil
}

func (s *fakeConvStore) Transcript(context.Context, string) ([]conversation.Message, error) {
	return s.transcript, nil
}

func (s *fakeConvStore) Complete(_ context.Context, _ string, a conversation.Artifacts, _ time.Time) error {
	s.completed = &a
	s.rec.Status = conversation.StatusProcessed
	return nil
}

func (s *fakeConvStore) Fail(_ context.Context, _ string, furthestStage string) error {
	s.failStage = furthestStage
	s.rec.Status = conversation.StatusFailed
	return nil
}

// fakeArtifacts counts writes and lets individual operations be failed.
type fakeArtifacts struct {
	open []Thread

	upsertFactsErr error
	tagErr         error
	rollupErr      error

	threadsCreated  []string
	threadsResolved []string
	thoughts        []string
	facts           []GraphFact
	rollups         int
	tags            []string
}

func (a *fakeArtifacts) OpenThreads(context.Context, string) ([]Thread, error) {
	return a.open, nil
}

func (a *fakeArtifacts) CreateThreads(_ context.Context, _ string, topics []string) (int, error) {
	a.threadsCreated = append(a.threadsCreated, topics...)
	return len(topics), nil
}

func (a *fakeArtifacts) ResolveThreads(_ context.Context, ids []string) (int, error) {
	a.threadsResolved = append(a.threadsResolved, ids...)
	return len(ids), nil
}

func (a *fakeArtifacts) StoreThoughts(_ context.Context, _, _ string, thoughts []string) (int, error) {
	a.thoughts = append(a.thoughts, thoughts...)
	return len(thoughts), nil
}

func (a *fakeArtifacts) UpsertFacts(_ context.Context, _ string, facts []GraphFact) (int, error) {
	if a.upsertFactsErr != nil {
		return 0, a.upsertFactsErr
	}
	a.facts = append(a.facts, facts...)
	return len(facts), nil
}

func (a *fakeArtifacts) UpsertRollup(context.Context, string, string, string, int) error {
	if a.rollupErr != nil {
		return a.rollupErr
	}
	a.rollups++
	return nil
}

func (a *fakeArtifacts) TagConversation(_ context.Context, _ string, tags []string) (int, error) {
	if a.tagErr != nil {
		return 0, a.tagErr
	}
	a.tags = append(a.tags, tags...)
	return len(tags), nil
}

// stubExtractor returns a fixed bundle or error.
type stubExtractor struct {
	bundle *Bundle
	err    error
}

func (e *stubExtractor) Extract(context.Context, []conversation.Message, []Thread) (*Bundle, error) {
	return e.bundle, e.err
}

func fullBundle() *Bundle {
	return &Bundle{
		Facts:             []Fact{{Content: "likes jazz", Salience: 0.8}},
		Entities:          []Entity{{Name: "Blue Note", Kind: "place"}},
		Preferences:       []Preference{{Key: "contact_time", Value: "evenings"}},
		Summary:           "talked about music",
		Tone:              "upbeat",
		KeyMoments:        []string{"mentioned a concert"},
		NewThreads:        []string{"concert plans"},
		ResolvedThreadIDs: []string{"thr-1"},
		InnerThoughts:     []string{"seems energized"},
	}
}

func testPipeline(convs *fakeConvStore, artifacts *fakeArtifacts, ex Extractor) *Pipeline {
	tracker := conversation.NewTracker(convs, slog.Default(), 3)
	return New(tracker, convs, artifacts, ex, slog.Default())
}

func reservedConversation(transcript int) *fakeConvStore {
	s := &fakeConvStore{
		rec: &conversation.Record{
			ID:          "conv-1",
			Participant: "user-7",
			Status:      conversation.StatusProcessing,
		},
	}
	for i := 0; i < transcript; i++ {
		s.transcript = append(s.transcript, conversation.Message{Role: "user", Content: "hi", SentAt: time.Now()})
	}
	return s
}

func TestRun_FullEnrichment(t *testing.T) {
	t.Parallel()

	convs := reservedConversation(4)
	artifacts := &fakeArtifacts{open: []Thread{{ID: "thr-1", Topic: "concert"}}}
	p := testPipeline(convs, artifacts, &stubExtractor{bundle: fullBundle()})

	res := p.Run(context.Background(), "conv-1")
	if res.Err != nil || !res.Success {
		t.Fatalf("run = %+v", res)
	}
	if res.FurthestStage != StageFinalization {
		t.Errorf("furthest = %q, want finalization", res.FurthestStage)
	}

	want := map[string]int{
		"messages": 4, "threads_new": 1, "threads_resolved": 1,
		"thoughts": 1, "facts": 3, "rollups": 1, "tags": 2,
	}
	for k, v := range want {
		if res.Counts[k] != v {
			t.Errorf("counts[%s] = %d, want %d", k, res.Counts[k], v)
		}
	}

	if convs.completed == nil {
		t.Fatal("conversation not completed")
	}
	if convs.completed.Summary != "talked about music" || convs.completed.Tone != "upbeat" {
		t.Errorf("artifacts = %+v", convs.completed)
	}

	// Entities and preferences are flattened into graph facts.
	if len(artifacts.facts) != 3 {
		t.Fatalf("facts = %+v", artifacts.facts)
	}
	if artifacts.facts[1].Content != "place: Blue Note" || artifacts.facts[1].Kind != "entity" {
		t.Errorf("entity fact = %+v", artifacts.facts[1])
	}
	if artifacts.facts[2].Content != "contact_time = evenings" {
		t.Errorf("preference fact = %+v", artifacts.facts[2])
	}

	// Tone rides in front of the key-moment tags.
	if len(artifacts.tags) != 2 || artifacts.tags[0] != "tone:upbeat" {
		t.Errorf("tags = %v", artifacts.tags)
	}
}

func TestRun_AlreadyProcessedIsNoOp(t *testing.T) {
	t.Parallel()

	convs := reservedConversation(2)
	convs.rec.Status = conversation.StatusProcessed
	artifacts := &fakeArtifacts{}
	p := testPipeline(convs, artifacts, &stubExtractor{bundle: fullBundle()})

	res := p.Run(context.Background(), "conv-1")
	if !res.Skipped || !res.Success {
		t.Fatalf("run = %+v, want skipped", res)
	}
	if artifacts.rollups != 0 || len(artifacts.facts) != 0 {
		t.Error("stages ran on a processed conversation")
	}
}

func TestRun_RequiresReservation(t *testing.T) {
	t.Parallel()

	convs := reservedConversation(2)
	convs.rec.Status = conversation.StatusActive
	p := testPipeline(convs, &fakeArtifacts{}, &stubExtractor{bundle: fullBundle()})

	res := p.Run(context.Background(), "conv-1")
	if !errors.Is(res.Err, ErrNotReserved) {
		t.Fatalf("err = %v, want ErrNotReserved", res.Err)
	}
}

func TestRun_UnknownConversation(t *testing.T) {
	t.Parallel()

	p := testPipeline(&fakeConvStore{}, &fakeArtifacts{}, &stubExtractor{bundle: fullBundle()})
	res := p.Run(context.Background(), "nope")
	if !errors.Is(res.Err, conversation.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", res.Err)
	}
}

func TestRun_EmptyTranscriptAborts(t *testing.T) {
	t.Parallel()

	convs := reservedConversation(0)
	p := testPipeline(convs, &fakeArtifacts{}, &stubExtractor{bundle: fullBundle()})

	res := p.Run(context.Background(), "conv-1")
	if !errors.Is(res.Err, ErrEmptyTranscript) {
		t.Fatalf("err = %v, want ErrEmptyTranscript", res.Err)
	}
	if res.FurthestStage != StageIngestion {
		t.Errorf("furthest = %q, want ingestion", res.FurthestStage)
	}
	if convs.failStage != StageIngestion {
		t.Errorf("fail recorded at %q, want ingestion", convs.failStage)
	}
	if convs.rec.Status != conversation.StatusFailed {
		t.Errorf("status = %q, want failed", convs.rec.Status)
	}
}

func TestRun_ExtractorFailureAborts(t *testing.T) {
	t.Parallel()

	convs := reservedConversation(2)
	artifacts := &fakeArtifacts{}
	p := testPipeline(convs, artifacts, &stubExtractor{err: errors.New("service unavailable")})

	res := p.Run(context.Background(), "conv-1")
	if res.Err == nil || res.FurthestStage != StageExtraction {
		t.Fatalf("run = %+v, want extraction failure", res)
	}
	if convs.failStage != StageExtraction {
		t.Errorf("fail recorded at %q", convs.failStage)
	}
	if len(artifacts.threadsCreated) != 0 {
		t.Error("later stages ran after a critical failure")
	}
}

func TestRun_GraphSyncFailureIsNonCritical(t *testing.T) {
	t.Parallel()

	convs := reservedConversation(2)
	artifacts := &fakeArtifacts{upsertFactsErr: errors.New("graph store down")}
	p := testPipeline(convs, artifacts, &stubExtractor{bundle: fullBundle()})

	res := p.Run(context.Background(), "conv-1")
	if res.Err != nil || !res.Success {
		t.Fatalf("run = %+v, want success despite graph failure", res)
	}
	if _, ok := res.Counts["facts"]; ok {
		t.Error("facts counted despite sync failure")
	}
	if artifacts.rollups != 1 || len(artifacts.tags) == 0 {
		t.Error("stages after graph_sync did not run")
	}
	if convs.completed == nil {
		t.Error("conversation not completed")
	}
}

func TestRun_TaggingFailureIsNonCritical(t *testing.T) {
	t.Parallel()

	convs := reservedConversation(2)
	artifacts := &fakeArtifacts{tagErr: errors.New("tag table locked")}
	p := testPipeline(convs, artifacts, &stubExtractor{bundle: fullBundle()})

	res := p.Run(context.Background(), "conv-1")
	if res.Err != nil || !res.Success {
		t.Fatalf("run = %+v, want success despite tagging failure", res)
	}
}

func TestRun_RollupFailureAborts(t *testing.T) {
	t.Parallel()

	convs := reservedConversation(2)
	artifacts := &fakeArtifacts{rollupErr: errors.New("rollup write failed")}
	p := testPipeline(convs, artifacts, &stubExtractor{bundle: fullBundle()})

	res := p.Run(context.Background(), "conv-1")
	if res.Err == nil || res.FurthestStage != StageRollup {
		t.Fatalf("run = %+v, want rollup failure", res)
	}
	if convs.failStage != StageRollup {
		t.Errorf("fail recorded at %q, want rollup", convs.failStage)
	}
}

func TestNopExtractor(t *testing.T) {
	t.Parallel()

	b, err := NopExtractor{}.Extract(context.Background(), nil, nil)
	if err != nil || b == nil {
		t.Fatalf("extract = (%v, %v)", b, err)
	}
	if b.Summary != "" || len(b.Facts) != 0 {
		t.Errorf("bundle = %+v, want empty", b)
	}
}
