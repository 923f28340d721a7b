package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/vital/internal/config"
	"github.com/mohammad-safakhou/vital/internal/pipeline"
)

const foodSystemPrompt = `You quantify a food phrase into a log entry.
Given a short phrase describing something eaten, estimate realistic values.
Respond ONLY with valid JSON:
{"name": "Apple", "meal_type": "breakfast|lunch|dinner|snack", "calories": 0, "protein_g": 0, "carbs_g": 0, "fat_g": 0}
Use a concise canonical name. Pick the most plausible meal type when the
phrase names none. Do not include any other text.`

const exerciseSystemPrompt = `You quantify an exercise phrase into a log entry.
Given a short phrase describing a completed workout, estimate realistic values.
Respond ONLY with valid JSON:
{"name": "Running", "exercise_type": "cardio|strength|flexibility|sport", "duration_minutes": 0, "calories_burned": 0}
Use a concise canonical name. Do not include any other text.`

// LLMEnricher converts raw log intents into fully quantified entries via
// the completion service. It satisfies the pipeline's enrichment contract.
type LLMEnricher struct {
	completion pipeline.CompletionClient
	model      string
}

// New creates the default enricher.
func New(completion pipeline.CompletionClient, cfg config.LLMRoutingConfig) *LLMEnricher {
	model := cfg.Enrich
	if model == "" {
		model = cfg.Fallback
	}
	return &LLMEnricher{completion: completion, model: model}
}

// Enrich quantifies one intent. A nil result (with or without an error)
// means the intent is dropped; the pipeline tolerates both individually.
func (e *LLMEnricher) Enrich(ctx context.Context, intent pipeline.LogIntent, userID, date string) (*pipeline.EnrichedLog, error) {
	switch intent.Kind {
	case pipeline.KindFood:
		return e.enrichFood(ctx, intent, userID, date)
	case pipeline.KindExercise:
		return e.enrichExercise(ctx, intent, userID, date)
	default:
		return nil, fmt.Errorf("unknown intent kind %q", intent.Kind)
	}
}

func (e *LLMEnricher) enrichFood(ctx context.Context, intent pipeline.LogIntent, userID, date string) (*pipeline.EnrichedLog, error) {
	resp, err := e.complete(ctx, foodSystemPrompt, intent.RawPhrase)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Name     string  `json:"name"`
		MealType string  `json:"meal_type"`
		Calories float64 `json:"calories"`
		ProteinG float64 `json:"protein_g"`
		CarbsG   float64 `json:"carbs_g"`
		FatG     float64 `json:"fat_g"`
	}
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		return nil, fmt.Errorf("decode food enrichment: %w", err)
	}
	if strings.TrimSpace(parsed.Name) == "" || parsed.Calories <= 0 {
		return nil, nil
	}

	return &pipeline.EnrichedLog{Food: &pipeline.FoodLogEntry{
		UserID:   userID,
		Date:     date,
		Name:     parsed.Name,
		MealType: normalizeMealType(parsed.MealType),
		Calories: parsed.Calories,
		ProteinG: parsed.ProteinG,
		CarbsG:   parsed.CarbsG,
		FatG:     parsed.FatG,
	}}, nil
}

func (e *LLMEnricher) enrichExercise(ctx context.Context, intent pipeline.LogIntent, userID, date string) (*pipeline.EnrichedLog, error) {
	resp, err := e.complete(ctx, exerciseSystemPrompt, intent.RawPhrase)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Name            string  `json:"name"`
		ExerciseType    string  `json:"exercise_type"`
		DurationMinutes float64 `json:"duration_minutes"`
		CaloriesBurned  float64 `json:"calories_burned"`
	}
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		return nil, fmt.Errorf("decode exercise enrichment: %w", err)
	}
	if strings.TrimSpace(parsed.Name) == "" || parsed.CaloriesBurned <= 0 {
		return nil, nil
	}

	return &pipeline.EnrichedLog{Exercise: &pipeline.ExerciseLogEntry{
		UserID:          userID,
		Date:            date,
		Name:            parsed.Name,
		ExerciseType:    normalizeExerciseType(parsed.ExerciseType),
		DurationMinutes: parsed.DurationMinutes,
		CaloriesBurned:  parsed.CaloriesBurned,
	}}, nil
}

func (e *LLMEnricher) complete(ctx context.Context, system, phrase string) (string, error) {
	resp, err := e.completion.Complete(ctx, pipeline.CompletionRequest{
		Model:       e.model,
		System:      system,
		Messages:    []pipeline.Message{{Role: "user", Content: phrase}},
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return "", err
	}
	return resp, nil
}

func normalizeMealType(mealType string) string {
	switch strings.ToLower(strings.TrimSpace(mealType)) {
	case "breakfast":
		return "breakfast"
	case "lunch":
		return "lunch"
	case "dinner":
		return "dinner"
	default:
		return "snack"
	}
}

func normalizeExerciseType(exerciseType string) string {
	switch strings.ToLower(strings.TrimSpace(exerciseType)) {
	case "strength":
		return "strength"
	case "flexibility":
		return "flexibility"
	case "sport":
		return "sport"
	default:
		return "cardio"
	}
}
