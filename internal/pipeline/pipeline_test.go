package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/vital/internal/config"
)

type fakeCompletion struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []CompletionRequest
}

func (f *fakeCompletion) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if err, ok := f.errs[req.Model]; ok {
		return "", err
	}
	if resp, ok := f.responses[req.Model]; ok {
		return resp, nil
	}
	return "", errors.New("no canned response for model " + req.Model)
}

func (f *fakeCompletion) callsFor(model string) []CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []CompletionRequest
	for _, c := range f.calls {
		if c.Model == model {
			out = append(out, c)
		}
	}
	return out
}

type fakeEmbeddings struct {
	vector []float32
}

func (f *fakeEmbeddings) Embed(ctx context.Context, text string) []float32 {
	return f.vector
}

type fakeVectors struct {
	mu       sync.Mutex
	hits     map[string][]VectorHit
	searches []VectorFilter
	upserts  []VectorRecord
	err      error
}

func (f *fakeVectors) Search(ctx context.Context, vector []float32, topK int, filter VectorFilter) ([]VectorHit, error) {
	f.mu.Lock()
	f.searches = append(f.searches, filter)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.hits[filter.Kind], nil
}

func (f *fakeVectors) Upsert(ctx context.Context, rec VectorRecord) error {
	f.mu.Lock()
	f.upserts = append(f.upserts, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeVectors) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

type fakeStore struct {
	mu            sync.Mutex
	food          []FoodLogEntry
	exercise      []ExerciseLogEntry
	interactions  []InteractionLogEntry
	profile       *UserProfile
	foodErr       error
	profileErr    error
	saveFoodErr   error
	savedFood     []FoodLogEntry
	savedExercise []ExerciseLogEntry
	savedTurns    []InteractionLogEntry
	foodReads     int
}

func (f *fakeStore) DailyFoodLogs(ctx context.Context, userID, date string) ([]FoodLogEntry, error) {
	f.mu.Lock()
	f.foodReads++
	f.mu.Unlock()
	if f.foodErr != nil {
		return nil, f.foodErr
	}
	return f.food, nil
}

func (f *fakeStore) DailyExerciseLogs(ctx context.Context, userID, date string) ([]ExerciseLogEntry, error) {
	return f.exercise, nil
}

func (f *fakeStore) DailyInteractions(ctx context.Context, userID, date string) ([]InteractionLogEntry, error) {
	return f.interactions, nil
}

func (f *fakeStore) Profile(ctx context.Context, userID string) (*UserProfile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profile, nil
}

func (f *fakeStore) SaveFoodLog(ctx context.Context, entry FoodLogEntry) error {
	if f.saveFoodErr != nil {
		return f.saveFoodErr
	}
	f.mu.Lock()
	f.savedFood = append(f.savedFood, entry)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) SaveExerciseLog(ctx context.Context, entry ExerciseLogEntry) error {
	f.mu.Lock()
	f.savedExercise = append(f.savedExercise, entry)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) SaveInteraction(ctx context.Context, entry InteractionLogEntry) error {
	f.mu.Lock()
	f.savedTurns = append(f.savedTurns, entry)
	f.mu.Unlock()
	return nil
}

type fakeKnowledge struct {
	result KnowledgeResult
	err    error
}

func (f *fakeKnowledge) Lookup(ctx context.Context, query string) (KnowledgeResult, error) {
	if f.err != nil {
		return KnowledgeResult{}, f.err
	}
	return f.result, nil
}

type fakeEnricher struct {
	logs map[string]*EnrichedLog
	err  error
}

func (f *fakeEnricher) Enrich(ctx context.Context, intent LogIntent, userID, date string) (*EnrichedLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.logs[intent.RawPhrase], nil
}

type fakeSessions struct {
	mu       sync.Mutex
	appended []Message
}

func (f *fakeSessions) Append(ctx context.Context, sessionID string, msg Message) error {
	f.mu.Lock()
	f.appended = append(f.appended, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSessions) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			Routing: config.LLMRoutingConfig{
				Dates:     "dates-model",
				Reasoning: "reasoning-model",
				Synthesis: "synthesis-model",
				Enrich:    "enrich-model",
				Fallback:  "dates-model",
			},
		},
		Pipeline: config.PipelineConfig{
			HistoryTopK:        5,
			SessionWindow:      10,
			PersistTimeout:     5 * time.Second,
			MaxConcurrentTurns: 4,
		},
	}
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestPipeline(t *testing.T, cfg *config.Config, deps Deps) *Pipeline {
	t.Helper()
	p, err := New(cfg, testLogger(), nil, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

const synthesisOK = `{"text":"You are doing well today.","suggestions":["drink some water"]}`

func TestRunTurnFullFlow(t *testing.T) {
	profile := &UserProfile{UserID: "user-1", Age: 30, Sex: "male", HeightCm: 175, WeightKg: 70, ActivityLevel: "moderate"}
	st := &fakeStore{
		food:     []FoodLogEntry{{ID: "f1", Name: "Oatmeal", MealType: "breakfast", Calories: 300}},
		exercise: []ExerciseLogEntry{{ID: "e1", Name: "Running", ExerciseType: "cardio", CaloriesBurned: 200}},
		profile:  profile,
	}
	completion := &fakeCompletion{responses: map[string]string{
		"dates-model":     "2025-06-01",
		"reasoning-model": `{"insights":["solid start"],"intents":[{"kind":"food","raw_phrase":"chicken sandwich for lunch"}]}`,
		"synthesis-model": synthesisOK,
	}}
	enricher := &fakeEnricher{logs: map[string]*EnrichedLog{
		"chicken sandwich for lunch": {Food: &FoodLogEntry{Name: "Chicken Sandwich", MealType: "lunch", Calories: 500}},
	}}
	vectors := &fakeVectors{hits: map[string][]VectorHit{
		KindFood: {{ID: "h1", Kind: KindFood, Text: "Chicken Salad (lunch, 400 kcal) on 2025-05-28"}},
	}}
	content := "Protein needs scale with body weight."
	sessions := &fakeSessions{}

	p := newTestPipeline(t, testConfig(), Deps{
		Completion: completion,
		Embeddings: &fakeEmbeddings{vector: []float32{0.1, 0.2}},
		Vectors:    vectors,
		Store:      st,
		Knowledge:  &fakeKnowledge{result: KnowledgeResult{Content: &content, Sources: []Citation{{URL: "https://example.org/protein"}}}},
		Enricher:   enricher,
		Sessions:   sessions,
	})

	result, err := p.RunTurn(context.Background(), TurnRequest{
		UserID:    "user-1",
		SessionID: "sess-1",
		Query:     "How am I doing today? I had a chicken sandwich for lunch",
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if result.TargetDate != "2025-06-01" {
		t.Fatalf("expected target date 2025-06-01, got %s", result.TargetDate)
	}
	if result.Answer.Text != "You are doing well today." {
		t.Fatalf("unexpected answer text: %q", result.Answer.Text)
	}
	if result.Answer.Error != "" {
		t.Fatalf("expected clean answer, got error %q", result.Answer.Error)
	}
	if len(result.Sources) != 1 || result.Sources[0].URL != "https://example.org/protein" {
		t.Fatalf("expected knowledge source to pass through, got %+v", result.Sources)
	}

	// Energy math: BMR 1648.75, TDEE 2555.5625, consumed 800 after the new
	// sandwich folds in, burned 200.
	ds := result.Answer.DataSummary
	if ds == nil {
		t.Fatal("expected data summary")
	}
	if ds.CaloriesConsumed != 800 {
		t.Fatalf("expected 800 consumed, got %.2f", ds.CaloriesConsumed)
	}
	if ds.CaloriesBurned != 200 {
		t.Fatalf("expected 200 burned, got %.2f", ds.CaloriesBurned)
	}
	if ds.RemainingCalories == nil {
		t.Fatal("expected remaining calories with a complete profile")
	}
	if got := *ds.RemainingCalories; got < 1955 || got > 1956 {
		t.Fatalf("expected remaining around 1955.56, got %.2f", got)
	}

	result.Report.Wait()
	st.mu.Lock()
	saved := append([]FoodLogEntry(nil), st.savedFood...)
	turns := len(st.savedTurns)
	st.mu.Unlock()
	if len(saved) != 1 {
		t.Fatalf("expected 1 background food save, got %d", len(saved))
	}
	entry := saved[0]
	if entry.Source != SourceAgentic {
		t.Fatalf("expected agentic source, got %s", entry.Source)
	}
	if entry.UserID != "user-1" || entry.Date != "2025-06-01" {
		t.Fatalf("entry not stamped with turn identity: %+v", entry)
	}
	if entry.ID == "" {
		t.Fatal("expected generated id on saved entry")
	}
	if turns != 1 {
		t.Fatalf("expected 1 interaction log, got %d", turns)
	}
	if vectors.upsertCount() != 1 {
		t.Fatalf("expected 1 vector index write, got %d", vectors.upsertCount())
	}

	outcomes := result.Report.Outcomes()
	foundSaved := false
	for _, o := range outcomes {
		if o.Outcome == OutcomeSaved && o.Name == "Chicken Sandwich" {
			foundSaved = true
		}
	}
	if !foundSaved {
		t.Fatalf("expected saved outcome for the sandwich, got %+v", outcomes)
	}

	// user message plus assistant reply in the session window
	sessions.mu.Lock()
	appended := len(sessions.appended)
	sessions.mu.Unlock()
	if appended != 2 {
		t.Fatalf("expected 2 session appends, got %d", appended)
	}
}

func TestRunTurnSkipsDuplicateLogs(t *testing.T) {
	st := &fakeStore{
		food: []FoodLogEntry{{ID: "f1", Name: "chicken sandwich", MealType: "Lunch", Calories: 450}},
	}
	completion := &fakeCompletion{responses: map[string]string{
		"dates-model":     "2025-06-01",
		"reasoning-model": `{"insights":["ok"],"intents":[{"kind":"food","raw_phrase":"chicken sandwich for lunch"}]}`,
		"synthesis-model": synthesisOK,
	}}
	enricher := &fakeEnricher{logs: map[string]*EnrichedLog{
		"chicken sandwich for lunch": {Food: &FoodLogEntry{Name: "Chicken Sandwich", MealType: "lunch", Calories: 500}},
	}}

	p := newTestPipeline(t, testConfig(), Deps{Completion: completion, Store: st, Enricher: enricher})

	result, err := p.RunTurn(context.Background(), TurnRequest{UserID: "user-1", Query: "I had a chicken sandwich for lunch"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	result.Report.Wait()
	if len(st.savedFood) != 0 {
		t.Fatalf("duplicate must not be saved, got %d saves", len(st.savedFood))
	}
	if len(result.Persisted) != 1 || result.Persisted[0].Outcome != OutcomeSkipped {
		t.Fatalf("expected one skipped_duplicate outcome, got %+v", result.Persisted)
	}
	// Consumed stays at the snapshot value; the duplicate adds nothing.
	if result.Answer.DataSummary.CaloriesConsumed != 450 {
		t.Fatalf("expected 450 consumed, got %.2f", result.Answer.DataSummary.CaloriesConsumed)
	}
}

func TestRunTurnReasoningFailureStillAnswers(t *testing.T) {
	st := &fakeStore{}
	completion := &fakeCompletion{
		responses: map[string]string{
			"dates-model":     "2025-06-01",
			"synthesis-model": synthesisOK,
		},
		errs: map[string]error{"reasoning-model": errors.New("rate limited")},
	}

	p := newTestPipeline(t, testConfig(), Deps{Completion: completion, Store: st})

	result, err := p.RunTurn(context.Background(), TurnRequest{UserID: "user-1", Query: "what should I eat"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Answer.Text != "You are doing well today." {
		t.Fatalf("expected synthesis to run despite reasoning failure, got %q", result.Answer.Text)
	}
	if len(result.Persisted) != 0 {
		t.Fatalf("no intents should persist after reasoning failure, got %+v", result.Persisted)
	}
}

func TestRunTurnSynthesisFailureYieldsApology(t *testing.T) {
	st := &fakeStore{food: []FoodLogEntry{{ID: "f1", Name: "Toast", MealType: "breakfast", Calories: 250}}}
	completion := &fakeCompletion{
		responses: map[string]string{
			"dates-model":     "2025-06-01",
			"reasoning-model": `{"insights":["light morning"]}`,
		},
		errs: map[string]error{"synthesis-model": errors.New("timeout")},
	}

	p := newTestPipeline(t, testConfig(), Deps{Completion: completion, Store: st})

	result, err := p.RunTurn(context.Background(), TurnRequest{UserID: "user-1", Query: "how is my day"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Answer.Text != apologyText {
		t.Fatalf("expected apology text, got %q", result.Answer.Text)
	}
	if result.Answer.Error == "" {
		t.Fatal("expected error field on degraded answer")
	}
	// Numbers still come from the pipeline even on the apology path.
	if result.Answer.DataSummary == nil || result.Answer.DataSummary.CaloriesConsumed != 250 {
		t.Fatalf("expected data summary on apology, got %+v", result.Answer.DataSummary)
	}
	// The degraded interaction is still recorded.
	st.mu.Lock()
	turns := len(st.savedTurns)
	st.mu.Unlock()
	if turns != 1 {
		t.Fatalf("expected interaction log on apology path, got %d", turns)
	}
}

func TestRunTurnEmbeddingFailureSkipsHistory(t *testing.T) {
	st := &fakeStore{}
	vectors := &fakeVectors{}
	completion := &fakeCompletion{responses: map[string]string{
		"dates-model":     "2025-06-01",
		"reasoning-model": `{"insights":["ok"]}`,
		"synthesis-model": synthesisOK,
	}}

	p := newTestPipeline(t, testConfig(), Deps{
		Completion: completion,
		Embeddings: &fakeEmbeddings{vector: nil},
		Vectors:    vectors,
		Store:      st,
	})

	if _, err := p.RunTurn(context.Background(), TurnRequest{UserID: "user-1", Query: "anything new"}); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	vectors.mu.Lock()
	searches := len(vectors.searches)
	vectors.mu.Unlock()
	if searches != 0 {
		t.Fatalf("no similarity searches expected without an embedding, got %d", searches)
	}
}

func TestRunTurnEmptyQuery(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Deps{Completion: &fakeCompletion{}, Store: &fakeStore{}})
	if _, err := p.RunTurn(context.Background(), TurnRequest{UserID: "user-1", Query: "   "}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestRunTurnSkipsProfileWithoutPersonalCue(t *testing.T) {
	st := &fakeStore{profile: &UserProfile{UserID: "user-1", Age: 30, Sex: "male", HeightCm: 175, WeightKg: 70}}
	completion := &fakeCompletion{responses: map[string]string{
		"dates-model":     "2025-06-01",
		"reasoning-model": `{"insights":["ok"]}`,
		"synthesis-model": synthesisOK,
	}}

	p := newTestPipeline(t, testConfig(), Deps{Completion: completion, Store: st})

	result, err := p.RunTurn(context.Background(), TurnRequest{UserID: "user-1", Query: "is salmon healthy"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	// Without the profile there is no TDEE, so remaining stays absent.
	if result.Answer.DataSummary == nil || result.Answer.DataSummary.RemainingCalories != nil {
		t.Fatalf("expected no remaining calories on ungated turn, got %+v", result.Answer.DataSummary)
	}
}

func TestRunTurnDateFallbackOnMalformedAnswer(t *testing.T) {
	st := &fakeStore{}
	completion := &fakeCompletion{responses: map[string]string{
		"dates-model":     "sometime next week",
		"reasoning-model": `{"insights":["ok"]}`,
		"synthesis-model": synthesisOK,
	}}

	p := newTestPipeline(t, testConfig(), Deps{Completion: completion, Store: st})

	result, err := p.RunTurn(context.Background(), TurnRequest{UserID: "user-1", Query: "what did i eat"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	today := time.Now().Format(dateLayout)
	if result.TargetDate != today {
		t.Fatalf("expected fallback to today %s, got %s", today, result.TargetDate)
	}
}

func TestNewRequiresCompletionAndStore(t *testing.T) {
	if _, err := New(testConfig(), testLogger(), nil, Deps{Store: &fakeStore{}}); err == nil {
		t.Fatal("expected error without completion client")
	}
	if _, err := New(testConfig(), testLogger(), nil, Deps{Completion: &fakeCompletion{}}); err == nil {
		t.Fatal("expected error without log store")
	}
}

func TestRunTurnStoreErrorsDegradeToEmptyContext(t *testing.T) {
	st := &fakeStore{
		foodErr: errors.New("db down"),
		food:    nil,
	}
	completion := &fakeCompletion{responses: map[string]string{
		"dates-model":     "2025-06-01",
		"reasoning-model": `{"insights":["ok"]}`,
		"synthesis-model": synthesisOK,
	}}

	p := newTestPipeline(t, testConfig(), Deps{Completion: completion, Store: st})

	result, err := p.RunTurn(context.Background(), TurnRequest{UserID: "user-1", Query: "how is today going"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Answer.Text == "" {
		t.Fatal("expected an answer despite store failure")
	}
	if result.Answer.DataSummary.CaloriesConsumed != 0 {
		t.Fatalf("expected zero consumed with failing store, got %.2f", result.Answer.DataSummary.CaloriesConsumed)
	}
}

func TestReasoningPromptContainsContext(t *testing.T) {
	content := "Running burns roughly 100 kcal per mile."
	profile := &UserProfile{UserID: "u", Age: 25, Sex: "female", HeightCm: 165, WeightKg: 60, ActivityLevel: "light", Goal: "maintain"}
	DeriveEnergy(profile)

	st := &TurnContext{
		UserID:     "u",
		Query:      "how was my run",
		Now:        time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		TargetDate: "2025-06-01",
		Profile:    profile,
		DailyFood:  []FoodLogEntry{{Name: "Yogurt", MealType: "breakfast", Calories: 150}},
		DailyExercise: []ExerciseLogEntry{
			{Name: "Morning Run", ExerciseType: "cardio", CaloriesBurned: 320},
		},
		HistoricalExercise: []VectorHit{{Text: "Evening Run (cardio, 300 kcal burned) on 2025-05-20"}},
		Knowledge:          KnowledgeResult{Content: &content},
	}
	st.Calories = summarizeCalories(st.DailyFood, st.DailyExercise, st.Profile)

	p := newTestPipeline(t, testConfig(), Deps{Completion: &fakeCompletion{}, Store: &fakeStore{}})
	prompt := p.buildReasoningPrompt(st)

	for _, want := range []string{
		"TIME OF DAY: morning",
		"TARGET DATE: 2025-06-01",
		"Yogurt",
		"Morning Run",
		"Evening Run",
		"Running burns roughly 100 kcal per mile.",
		`USER MESSAGE: "how was my run"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
