package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/vital/internal/config"
	"github.com/mohammad-safakhou/vital/internal/telemetry"
)

// Pipeline executes the fixed per-turn orchestration: date extraction, daily
// context fetch, personalization gate, optional profile fetch, historical
// retrieval, knowledge retrieval, reasoning, enrichment, dedup/persistence
// and response synthesis. One instance serves all turns; per-turn state
// lives in TurnContext.
type Pipeline struct {
	config    *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	completion CompletionClient
	embeddings EmbeddingClient
	vectors    VectorIndex
	store      LogStore
	knowledge  KnowledgeClient
	enricher   Enricher
	sessions   SessionStore

	// Concurrency control across turns
	semaphore chan struct{}
}

// Deps bundles the external collaborators consumed by the pipeline.
type Deps struct {
	Completion CompletionClient
	Embeddings EmbeddingClient
	Vectors    VectorIndex
	Store      LogStore
	Knowledge  KnowledgeClient
	Enricher   Enricher
	Sessions   SessionStore
}

// New creates a pipeline instance wired to the supplied collaborators.
func New(cfg *config.Config, logger *log.Logger, tele *telemetry.Telemetry, deps Deps) (*Pipeline, error) {
	if deps.Completion == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("log store is required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	maxTurns := cfg.Pipeline.MaxConcurrentTurns
	if maxTurns <= 0 {
		maxTurns = 8
	}
	return &Pipeline{
		config:     cfg,
		logger:     logger,
		telemetry:  tele,
		completion: deps.Completion,
		embeddings: deps.Embeddings,
		vectors:    deps.Vectors,
		store:      deps.Store,
		knowledge:  deps.Knowledge,
		enricher:   deps.Enricher,
		sessions:   deps.Sessions,
		semaphore:  make(chan struct{}, maxTurns),
	}, nil
}

// RunTurn processes one conversational turn end to end. Only an empty query
// or context cancellation produce an error; every external failure inside
// the pipeline degrades per stage instead.
func (p *Pipeline) RunTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	startTime := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return TurnResult{}, fmt.Errorf("query must not be empty")
	}

	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-ctx.Done():
		return TurnResult{}, ctx.Err()
	}

	st := &TurnContext{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Query:     query,
		Now:       time.Now(),
	}

	p.logger.Printf("turn start user=%s session=%s", st.UserID, st.SessionID)

	p.loadSession(ctx, st)
	st.Messages = append(st.Messages, Message{Role: "user", Content: query, CreatedAt: st.Now})
	p.appendSession(ctx, st.SessionID, Message{Role: "user", Content: query, CreatedAt: st.Now})

	p.runStage(ctx, st, StageDateExtraction, p.extractDate)
	p.runStage(ctx, st, StageDailyContext, p.fetchDailyContext)

	// The pipeline's only conditional branch: the personalization gate
	// decides whether the richer profile-aware path executes.
	st.Stage = StageGate
	if needsPersonalization(st.Query) {
		p.runStage(ctx, st, StageProfile, p.fetchProfile)
	}

	p.runStage(ctx, st, StageHistory, p.retrieveHistory)
	p.runStage(ctx, st, StageKnowledge, p.retrieveKnowledge)

	st.Calories = summarizeCalories(st.DailyFood, st.DailyExercise, st.Profile)

	p.runStage(ctx, st, StageReasoning, p.reason)
	p.runStage(ctx, st, StageEnrichment, p.enrichIntents)

	report := p.persistEnriched(ctx, st)

	p.runStage(ctx, st, StageSynthesis, p.synthesizeResponse)

	outcome := "ok"
	if st.Answer.Error != "" {
		outcome = "degraded"
	}
	p.telemetry.RecordTurn(outcome, time.Since(startTime))
	p.logger.Printf("turn done user=%s in %v (outcome=%s)", st.UserID, time.Since(startTime), outcome)

	return TurnResult{
		Answer:     st.Answer,
		Sources:    st.Knowledge.Sources,
		TargetDate: st.TargetDate,
		Persisted:  report.Outcomes(),
		Report:     report,
	}, nil
}

// runStage executes one stage, recording its latency and stage marker.
// Stages never return errors; they degrade internally.
func (p *Pipeline) runStage(ctx context.Context, st *TurnContext, stage string, fn func(context.Context, *TurnContext)) {
	st.Stage = stage
	start := time.Now()
	fn(ctx, st)
	p.telemetry.RecordStage(stage, time.Since(start))
}

// loadSession fills the running message list from the bounded session window.
func (p *Pipeline) loadSession(ctx context.Context, st *TurnContext) {
	if p.sessions == nil || st.SessionID == "" {
		return
	}
	window := p.config.Pipeline.SessionWindow
	recent, err := p.sessions.Recent(ctx, st.SessionID, window)
	if err != nil {
		p.logger.Printf("session load failed for %s: %v", st.SessionID, err)
		return
	}
	st.Messages = recent
}

func (p *Pipeline) appendSession(ctx context.Context, sessionID string, msg Message) {
	if p.sessions == nil || sessionID == "" {
		return
	}
	if err := p.sessions.Append(ctx, sessionID, msg); err != nil {
		p.logger.Printf("session append failed for %s: %v", sessionID, err)
	}
}
