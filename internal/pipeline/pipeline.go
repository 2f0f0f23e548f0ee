// Package pipeline runs idle conversations through the multi-stage
// enrichment flow: ingestion, extraction, thread and thought bookkeeping,
// knowledge-graph sync, daily rollup, secondary-signal tagging, and
// finalization. Stages are strictly ordered per conversation; mutual
// exclusion per conversation id is guaranteed by the tracker's
// reservation, which the caller must hold before Run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ferrant/reverie/internal/conversation"
)

// Stage names, in execution order.
const (
	StageIngestion    = "ingestion"
	StageExtraction   = "extraction"
	StageThreads      = "threads"
	StageThoughts     = "thoughts"
	StageGraphSync    = "graph_sync"
	StageRollup       = "rollup"
	StageTagging      = "tagging"
	StageFinalization = "finalization"
)

// ErrEmptyTranscript aborts a run for a conversation with no messages.
var ErrEmptyTranscript = errors.New("pipeline: empty transcript")

// ErrNotReserved is returned when Run is called for a conversation the
// caller has not reserved.
var ErrNotReserved = errors.New("pipeline: conversation not reserved")

// ArtifactStore persists the side effects of pipeline stages. Implemented
// by internal/store on SQLite.
type ArtifactStore interface {
	OpenThreads(ctx context.Context, participant string) ([]Thread, error)
	CreateThreads(ctx context.Context, participant string, topics []string) (int, error)
	ResolveThreads(ctx context.Context, ids []string) (int, error)
	StoreThoughts(ctx context.Context, conversationID, participant string, thoughts []string) (int, error)
	UpsertFacts(ctx context.Context, participant string, facts []GraphFact) (int, error)
	UpsertRollup(ctx context.Context, participant, day, summary string, conversations int) error
	TagConversation(ctx context.Context, conversationID string, tags []string) (int, error)
}

// GraphFact is one row in the knowledge graph: a fact, entity, or
// preference flattened to content + kind + salience.
type GraphFact struct {
	Content  string
	Kind     string // "fact", "entity", or "preference"
	Salience float64
}

// Result is the ephemeral outcome of one pipeline run. It is folded into
// the conversation record and side-effect writes, never persisted itself.
type Result struct {
	ConversationID string
	Success        bool
	Skipped        bool // already processed, nothing done
	FurthestStage  string
	Counts         map[string]int
	Err            error
}

// Pipeline orchestrates enrichment for one conversation at a time per id.
// Different ids run fully concurrently up to the caller's cap.
type Pipeline struct {
	tracker   *conversation.Tracker
	convs     conversation.Store
	artifacts ArtifactStore
	extractor Extractor
	logger    *slog.Logger
	tracer    trace.Tracer

	now func() time.Time
}

// New creates a Pipeline.
func New(tracker *conversation.Tracker, convs conversation.Store, artifacts ArtifactStore, extractor Extractor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		tracker:   tracker,
		convs:     convs,
		artifacts: artifacts,
		extractor: extractor,
		logger:    logger.With("component", "pipeline"),
		tracer:    otel.Tracer("reverie/pipeline"),
		now:       time.Now,
	}
}

// runState accumulates per-run data across stages.
type runState struct {
	rec        *conversation.Record
	transcript []conversation.Message
	open       []Thread
	bundle     *Bundle
	counts     map[string]int
}

type stageDef struct {
	name     string
	critical bool
	run      func(ctx context.Context, st *runState) error
}

// Run executes all stages for a reserved conversation. Critical-stage
// failures abort the run and transition the conversation to failed,
// recording the furthest stage reached; non-critical failures are logged
// and skipped. Re-running an already-processed conversation is a no-op.
func (p *Pipeline) Run(ctx context.Context, id string) Result {
	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	rec, err := p.convs.Get(ctx, id)
	if err != nil {
		return Result{ConversationID: id, Err: fmt.Errorf("pipeline: load %s: %w", id, err)}
	}

	if rec.Status == conversation.StatusProcessed {
		return Result{ConversationID: id, Success: true, Skipped: true}
	}
	if rec.Status != conversation.StatusProcessing {
		return Result{ConversationID: id, Err: fmt.Errorf("%w: %s is %s", ErrNotReserved, id, rec.Status)}
	}

	st := &runState{rec: rec, counts: make(map[string]int)}

	stages := []stageDef{
		{StageIngestion, true, p.ingest},
		{StageExtraction, true, p.extract},
		{StageThreads, true, p.bookkeepThreads},
		{StageThoughts, true, p.bookkeepThoughts},
		{StageGraphSync, false, p.syncGraph},
		{StageRollup, true, p.rollup},
		{StageTagging, false, p.tag},
	}

	for _, stage := range stages {
		if err := p.runStage(ctx, stage, st); err != nil {
			if !stage.critical {
				p.logger.Warn("non-critical stage failed, continuing",
					"conversation", id,
					"stage", stage.name,
					"error", err,
				)
				continue
			}
			p.logger.Error("critical stage failed, aborting run",
				"conversation", id,
				"stage", stage.name,
				"error", err,
			)
			if ferr := p.tracker.FailProcessing(ctx, id, stage.name); ferr != nil {
				p.logger.Error("fail transition failed", "conversation", id, "error", ferr)
			}
			return Result{ConversationID: id, FurthestStage: stage.name, Counts: st.counts, Err: err}
		}
	}

	// Finalization folds artifacts into the record. The tracker's forced
	// fallback guarantees the record leaves processing even if this write
	// path is unhealthy.
	artifacts := conversation.Artifacts{
		Summary:       st.bundle.Summary,
		Tone:          st.bundle.Tone,
		FurthestStage: StageFinalization,
	}
	if err := p.tracker.CompleteProcessing(ctx, id, artifacts); err != nil {
		return Result{ConversationID: id, FurthestStage: StageFinalization, Counts: st.counts, Err: err}
	}

	p.logger.Info("conversation enriched",
		"conversation", id,
		"participant", rec.Participant,
		"facts", st.counts["facts"],
		"threads_new", st.counts["threads_new"],
	)
	return Result{ConversationID: id, Success: true, FurthestStage: StageFinalization, Counts: st.counts}
}

func (p *Pipeline) runStage(ctx context.Context, stage stageDef, st *runState) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+stage.name)
	defer span.End()

	if err := stage.run(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage.name)
		return err
	}
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, st *runState) error {
	transcript, err := p.convs.Transcript(ctx, st.rec.ID)
	if err != nil {
		return fmt.Errorf("pipeline: load transcript: %w", err)
	}
	if len(transcript) == 0 {
		return ErrEmptyTranscript
	}
	st.transcript = transcript
	st.counts["messages"] = len(transcript)

	open, err := p.artifacts.OpenThreads(ctx, st.rec.Participant)
	if err != nil {
		return fmt.Errorf("pipeline: load open threads: %w", err)
	}
	st.open = open
	return nil
}

func (p *Pipeline) extract(ctx context.Context, st *runState) error {
	bundle, err := p.extractor.Extract(ctx, st.transcript, st.open)
	if err != nil {
		return fmt.Errorf("pipeline: extract: %w", err)
	}
	st.bundle = bundle
	return nil
}

func (p *Pipeline) bookkeepThreads(ctx context.Context, st *runState) error {
	created, err := p.artifacts.CreateThreads(ctx, st.rec.Participant, st.bundle.NewThreads)
	if err != nil {
		return fmt.Errorf("pipeline: create threads: %w", err)
	}
	resolved, err := p.artifacts.ResolveThreads(ctx, st.bundle.ResolvedThreadIDs)
	if err != nil {
		return fmt.Errorf("pipeline: resolve threads: %w", err)
	}
	st.counts["threads_new"] = created
	st.counts["threads_resolved"] = resolved
	return nil
}

func (p *Pipeline) bookkeepThoughts(ctx context.Context, st *runState) error {
	stored, err := p.artifacts.StoreThoughts(ctx, st.rec.ID, st.rec.Participant, st.bundle.InnerThoughts)
	if err != nil {
		return fmt.Errorf("pipeline: store thoughts: %w", err)
	}
	st.counts["thoughts"] = stored
	return nil
}

func (p *Pipeline) syncGraph(ctx context.Context, st *runState) error {
	facts := make([]GraphFact, 0, len(st.bundle.Facts)+len(st.bundle.Entities)+len(st.bundle.Preferences))
	for _, f := range st.bundle.Facts {
		salience := f.Salience
		if salience <= 0 || salience > 1 {
			salience = 1
		}
		facts = append(facts, GraphFact{Content: f.Content, Kind: "fact", Salience: salience})
	}
	for _, e := range st.bundle.Entities {
		facts = append(facts, GraphFact{Content: e.Kind + ": " + e.Name, Kind: "entity", Salience: 1})
	}
	for _, pref := range st.bundle.Preferences {
		facts = append(facts, GraphFact{Content: pref.Key + " = " + pref.Value, Kind: "preference", Salience: 1})
	}

	n, err := p.artifacts.UpsertFacts(ctx, st.rec.Participant, facts)
	if err != nil {
		return fmt.Errorf("pipeline: sync graph: %w", err)
	}
	st.counts["facts"] = n
	return nil
}

func (p *Pipeline) rollup(ctx context.Context, st *runState) error {
	day := p.now().UTC().Format("2006-01-02")
	if err := p.artifacts.UpsertRollup(ctx, st.rec.Participant, day, st.bundle.Summary, 1); err != nil {
		return fmt.Errorf("pipeline: rollup: %w", err)
	}
	st.counts["rollups"] = 1
	return nil
}

func (p *Pipeline) tag(ctx context.Context, st *runState) error {
	tags := st.bundle.KeyMoments
	if st.bundle.Tone != "" {
		tags = append([]string{"tone:" + st.bundle.Tone}, tags...)
	}
	n, err := p.artifacts.TagConversation(ctx, st.rec.ID, tags)
	if err != nil {
		return fmt.Errorf("pipeline: tag: %w", err)
	}
	st.counts["tags"] = n
	return nil
}
