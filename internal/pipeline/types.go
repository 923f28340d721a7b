package pipeline

import (
	"context"
	"time"
)

// Log sources. Entries created by the pipeline itself are always tagged agentic.
const (
	SourceUserInput = "user-input"
	SourceAgentic   = "agentic"
)

// Record kinds used by the relational store and the vector index.
const (
	KindFood        = "food"
	KindExercise    = "exercise"
	KindInteraction = "interaction"
)

// Stage markers recorded on the turn context as the pipeline advances.
const (
	StageDateExtraction = "date_extraction"
	StageDailyContext   = "daily_context"
	StageGate           = "personalization_gate"
	StageProfile        = "profile_fetch"
	StageHistory        = "historical_retrieval"
	StageKnowledge      = "knowledge_retrieval"
	StageReasoning      = "reasoning"
	StageEnrichment     = "enrichment"
	StagePersistence    = "persistence"
	StageSynthesis      = "response_synthesis"
)

// Message is one turn of the running conversation.
type Message struct {
	Role      string    `json:"role"` // user, assistant
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FoodLogEntry is a user-scoped, date-scoped food record.
type FoodLogEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Name      string    `json:"name"`
	MealType  string    `json:"meal_type"` // breakfast, lunch, dinner, snack
	Calories  float64   `json:"calories"`
	ProteinG  float64   `json:"protein_g,omitempty"`
	CarbsG    float64   `json:"carbs_g,omitempty"`
	FatG      float64   `json:"fat_g,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// ExerciseLogEntry is a user-scoped, date-scoped exercise record.
type ExerciseLogEntry struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Date            string    `json:"date"`
	Name            string    `json:"name"`
	ExerciseType    string    `json:"exercise_type"` // cardio, strength, flexibility, sport
	DurationMinutes float64   `json:"duration_minutes,omitempty"`
	CaloriesBurned  float64   `json:"calories_burned"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

// InteractionLogEntry records one full conversational turn.
type InteractionLogEntry struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	SessionID string           `json:"session_id,omitempty"`
	Date      string           `json:"date"`
	Query     string           `json:"query"`
	Answer    StructuredAnswer `json:"answer"`
	CreatedAt time.Time        `json:"created_at"`
}

// UserProfile holds demographic/physiology fields plus derived energy scalars.
// BMR and TDEE are recomputed on load and stay nil when the physiological
// fields are incomplete; a nil TDEE means net calories cannot be computed.
type UserProfile struct {
	UserID        string   `json:"user_id"`
	Age           int      `json:"age,omitempty"`
	Sex           string   `json:"sex,omitempty"` // male, female, other
	HeightCm      float64  `json:"height_cm,omitempty"`
	WeightKg      float64  `json:"weight_kg,omitempty"`
	ActivityLevel string   `json:"activity_level,omitempty"`
	Goal          string   `json:"goal,omitempty"`
	BMR           *float64 `json:"bmr,omitempty"`
	TDEE          *float64 `json:"tdee,omitempty"`
}

// LogIntent is a raw phrase believed to describe a completed food or exercise
// event, extracted from user text and not yet quantified.
type LogIntent struct {
	Kind      string `json:"kind"` // food, exercise
	RawPhrase string `json:"raw_phrase"`
}

// CalorieSummary is the precomputed energy picture handed to the reasoning
// and synthesis prompts. Net is nil whenever TDEE is unknown.
type CalorieSummary struct {
	Consumed float64  `json:"consumed"`
	Burned   float64  `json:"burned"`
	TDEE     *float64 `json:"tdee,omitempty"`
	Net      *float64 `json:"net,omitempty"`
}

// ReasoningResult is the parsed output of the reasoning completion call.
// A malformed or empty completion yields empty insights and a populated
// Error field, never a pipeline abort.
type ReasoningResult struct {
	Insights    []string        `json:"insights"`
	Suggestions []string        `json:"suggestions,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	DerivedData *CalorieSummary `json:"derived_data,omitempty"`
	Intents     []LogIntent     `json:"intents,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// DataSummary is the numeric digest surfaced with the final answer.
type DataSummary struct {
	CaloriesConsumed  float64  `json:"calories_consumed"`
	CaloriesBurned    float64  `json:"calories_burned"`
	RemainingCalories *float64 `json:"remaining_calories,omitempty"`
}

// StructuredAnswer is the user-visible output of a turn.
type StructuredAnswer struct {
	Text        string       `json:"text"`
	Suggestions []string     `json:"suggestions,omitempty"`
	DataSummary *DataSummary `json:"data_summary,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Citation points at a knowledge source backing the factual payload.
type Citation struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// KnowledgeResult carries the factual payload for the reasoning prompt.
// Content is nil when the knowledge service failed or had nothing.
type KnowledgeResult struct {
	Content *string    `json:"content"`
	Sources []Citation `json:"sources,omitempty"`
}

// EnrichedLog is the output of the enrichment contract: exactly one of the
// two entries is set.
type EnrichedLog struct {
	Food     *FoodLogEntry
	Exercise *ExerciseLogEntry
}

// Kind returns the record kind of the enriched entry.
func (e EnrichedLog) Kind() string {
	if e.Food != nil {
		return KindFood
	}
	return KindExercise
}

// Name returns the display name of the enriched entry.
func (e EnrichedLog) Name() string {
	if e.Food != nil {
		return e.Food.Name
	}
	if e.Exercise != nil {
		return e.Exercise.Name
	}
	return ""
}

// Persistence outcomes recorded per enriched log.
const (
	OutcomeSaved   = "saved"
	OutcomeSkipped = "skipped_duplicate"
	OutcomeError   = "error"
)

// PersistOutcome records what happened to one enriched log.
type PersistOutcome struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// VectorHit is one similarity-search result from the vector index.
type VectorHit struct {
	ID       string                 `json:"id"`
	UserID   string                 `json:"user_id"`
	Kind     string                 `json:"kind"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Distance float64                `json:"distance"`
}

// VectorRecord is a record written into the vector index.
type VectorRecord struct {
	ID       string
	UserID   string
	Kind     string
	Text     string
	Vector   []float32
	Metadata map[string]interface{}
}

// VectorFilter scopes a similarity search.
type VectorFilter struct {
	UserID string
	Kind   string
}

// TurnRequest is the external request unit for one conversational turn.
type TurnRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

// TurnResult is the external response unit for one conversational turn.
// Persisted is the outcome snapshot taken when the answer was delivered;
// Report keeps collecting outcomes from saves still in flight.
type TurnResult struct {
	Answer     StructuredAnswer `json:"answer"`
	Sources    []Citation       `json:"sources,omitempty"`
	TargetDate string           `json:"target_date"`
	Persisted  []PersistOutcome `json:"persisted,omitempty"`
	Report     *PersistReport   `json:"-"`
}

// TurnContext is the per-turn, append-only pipeline state. Fields are only
// ever widened across stages; every optional field may be absent and every
// stage must tolerate absence.
type TurnContext struct {
	UserID     string
	SessionID  string
	Query      string
	Now        time.Time
	TargetDate string
	Stage      string

	Messages []Message

	DailyFood         []FoodLogEntry
	DailyExercise     []ExerciseLogEntry
	DailyInteractions []InteractionLogEntry

	Profile *UserProfile

	HistoricalFood         []VectorHit
	HistoricalExercise     []VectorHit
	HistoricalInteractions []VectorHit

	Knowledge KnowledgeResult
	Calories  CalorieSummary
	Reasoning ReasoningResult
	Enriched  []EnrichedLog
	Scheduled []EnrichedLog // non-duplicate enriched logs handed to background saves
	Persisted []PersistOutcome
	Answer    StructuredAnswer
}

// CompletionRequest is one call to the completion service.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	JSONOnly    bool
}

// CompletionClient is the completion service contract. Non-JSON or empty
// content is a terminal error for that call only; callers degrade rather
// than propagate.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// EmbeddingClient turns text into a fixed-length vector. Returns nil on any
// failure, never an error.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) []float32
}

// VectorIndex is the vector similarity store contract: similarity order
// only, no recency guarantee.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, topK int, filter VectorFilter) ([]VectorHit, error)
	Upsert(ctx context.Context, rec VectorRecord) error
}

// LogStore is the relational log store contract consumed by the pipeline.
type LogStore interface {
	DailyFoodLogs(ctx context.Context, userID, date string) ([]FoodLogEntry, error)
	DailyExerciseLogs(ctx context.Context, userID, date string) ([]ExerciseLogEntry, error)
	DailyInteractions(ctx context.Context, userID, date string) ([]InteractionLogEntry, error)
	Profile(ctx context.Context, userID string) (*UserProfile, error)
	SaveFoodLog(ctx context.Context, entry FoodLogEntry) error
	SaveExerciseLog(ctx context.Context, entry ExerciseLogEntry) error
	SaveInteraction(ctx context.Context, entry InteractionLogEntry) error
}

// KnowledgeClient answers a query with factual text plus citations.
type KnowledgeClient interface {
	Lookup(ctx context.Context, query string) (KnowledgeResult, error)
}

// Enricher converts an unquantified intent into a fully quantified log
// entry. A nil result means the intent could not be quantified and is
// dropped.
type Enricher interface {
	Enrich(ctx context.Context, intent LogIntent, userID, date string) (*EnrichedLog, error)
}

// SessionStore keeps the bounded per-session conversation window.
type SessionStore interface {
	Append(ctx context.Context, sessionID string, msg Message) error
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)
}
