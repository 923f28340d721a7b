package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const reasoningSystemPrompt = `You are the reasoning engine of a personal health-tracking assistant.

You receive the user's message together with their profile, today's logged
meals and exercise, similar past records, and an optional factual knowledge
payload. Work through the following, in order:

1. Scan the message for first-person phrases describing food or exercise the
   user has ALREADY completed ("I ate ...", "I ran ...", "had a ... for lunch").
2. Suppress any phrase that already matches an existing daily log entry,
   comparing name case-insensitively together with the meal type (food) or
   exercise type (exercise).
3. Produce insights, suggestions and warnings tailored to the stated time of
   day and the user's goal. If the knowledge payload is missing, still produce
   at least one insight from the logs alone.
4. Echo the provided calorie summary into derived_data EXACTLY as given.
   Do not recompute or adjust any number.
5. For each genuinely new completed event from step 1, emit an intent object.

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{
  "insights": ["..."],
  "suggestions": ["..."],
  "warnings": ["..."],
  "derived_data": {"consumed": 0, "burned": 0, "tdee": 0, "net": 0},
  "intents": [{"kind": "food|exercise", "raw_phrase": "..."}]
}
Omit tdee and net from derived_data when they were not provided.
Do not include any other text or explanation.`

// reason performs the single insight+intent completion call. Malformed or
// empty output yields a ReasoningResult with empty insights and a populated
// Error field; the pipeline always continues to synthesis.
func (p *Pipeline) reason(ctx context.Context, st *TurnContext) {
	prompt := p.buildReasoningPrompt(st)

	resp, err := p.completion.Complete(ctx, CompletionRequest{
		Model:       p.config.LLM.Routing.Reasoning,
		System:      reasoningSystemPrompt,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		JSONOnly:    true,
	})
	if err != nil {
		p.logger.Printf("reasoning completion failed: %v", err)
		st.Reasoning = ReasoningResult{Error: fmt.Sprintf("reasoning unavailable: %v", err)}
		return
	}

	result, err := parseReasoningResponse(resp)
	if err != nil {
		p.logger.Printf("reasoning response unparseable: %v", err)
		st.Reasoning = ReasoningResult{Error: fmt.Sprintf("reasoning output malformed: %v", err)}
		return
	}
	st.Reasoning = result
}

func (p *Pipeline) buildReasoningPrompt(st *TurnContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "TIME OF DAY: %s\n", timeOfDayLabel(st.Now))
	fmt.Fprintf(&b, "TARGET DATE: %s\n\n", st.TargetDate)

	if st.Profile != nil {
		fmt.Fprintf(&b, "USER PROFILE: age=%d sex=%s height_cm=%.0f weight_kg=%.1f activity=%s goal=%q\n",
			st.Profile.Age, st.Profile.Sex, st.Profile.HeightCm, st.Profile.WeightKg, st.Profile.ActivityLevel, st.Profile.Goal)
	} else {
		b.WriteString("USER PROFILE: not available\n")
	}

	b.WriteString("\nCALORIE SUMMARY (echo verbatim into derived_data):\n")
	fmt.Fprintf(&b, "  consumed: %.0f\n  burned: %.0f\n", st.Calories.Consumed, st.Calories.Burned)
	if st.Calories.TDEE != nil {
		fmt.Fprintf(&b, "  tdee: %.0f\n", *st.Calories.TDEE)
	}
	if st.Calories.Net != nil {
		fmt.Fprintf(&b, "  net: %.0f\n", *st.Calories.Net)
	} else {
		b.WriteString("  net: unavailable (no TDEE)\n")
	}

	b.WriteString("\nTODAY'S FOOD LOGS:\n")
	if len(st.DailyFood) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, entry := range st.DailyFood {
		fmt.Fprintf(&b, "  - %s (%s): %.0f kcal\n", entry.Name, entry.MealType, entry.Calories)
	}

	b.WriteString("\nTODAY'S EXERCISE LOGS:\n")
	if len(st.DailyExercise) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, entry := range st.DailyExercise {
		fmt.Fprintf(&b, "  - %s (%s): %.0f kcal burned\n", entry.Name, entry.ExerciseType, entry.CaloriesBurned)
	}

	writeHits := func(label string, hits []VectorHit) {
		fmt.Fprintf(&b, "\nSIMILAR PAST %s:\n", label)
		if len(hits) == 0 {
			b.WriteString("  (none)\n")
			return
		}
		for _, hit := range hits {
			fmt.Fprintf(&b, "  - %s\n", hit.Text)
		}
	}
	writeHits("MEALS", st.HistoricalFood)
	writeHits("WORKOUTS", st.HistoricalExercise)
	writeHits("CONVERSATIONS", st.HistoricalInteractions)

	b.WriteString("\nKNOWLEDGE:\n")
	if st.Knowledge.Content != nil && *st.Knowledge.Content != "" {
		b.WriteString(*st.Knowledge.Content + "\n")
	} else {
		b.WriteString("  (no factual payload available)\n")
	}

	fmt.Fprintf(&b, "\nUSER MESSAGE: %q\n", st.Query)
	return b.String()
}

// parseReasoningResponse extracts the first balanced JSON object from the
// completion output and decodes it as a ReasoningResult.
func parseReasoningResponse(response string) (ReasoningResult, error) {
	jsonStr := extractJSONObject(response)
	if jsonStr == "" {
		return ReasoningResult{}, fmt.Errorf("no JSON found in response")
	}

	var result ReasoningResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return ReasoningResult{}, fmt.Errorf("decode reasoning result: %w", err)
	}

	// Drop intents missing a kind or phrase rather than letting them reach
	// enrichment half-formed.
	valid := result.Intents[:0]
	for _, intent := range result.Intents {
		kind := strings.ToLower(strings.TrimSpace(intent.Kind))
		phrase := strings.TrimSpace(intent.RawPhrase)
		if (kind == KindFood || kind == KindExercise) && phrase != "" {
			valid = append(valid, LogIntent{Kind: kind, RawPhrase: phrase})
		}
	}
	result.Intents = valid

	return result, nil
}

// extractJSONObject scans for the first balanced brace block.
func extractJSONObject(response string) string {
	start := -1
	depth := 0
	for i, ch := range response {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
