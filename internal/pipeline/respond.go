package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const synthesisSystemPrompt = `You are a personal health-tracking assistant speaking directly to the user.

You receive the reasoning engine's findings, an up-to-date calorie summary
and the recent conversation. Compose the final reply:

1. Answer the user's message naturally, weaving in the insights. Never list
   them mechanically.
2. Acknowledge anything that was just logged for them.
3. Surface at most the two most useful suggestions.
4. Keep the reply under 150 words, warm but not saccharine.

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{
  "text": "the reply",
  "suggestions": ["..."],
  "data_summary": {"calories_consumed": 0, "calories_burned": 0, "remaining_calories": 0}
}
Copy the calorie summary numbers exactly as provided; omit remaining_calories
when it was not provided. Do not include any other text or explanation.`

const apologyText = "I'm sorry, I couldn't put together a proper answer just now. Your logs are safe - please try asking again."

// synthesizeResponse re-reads the day's food logs to fold in anything just
// persisted, recomputes the calorie summary, and makes the final completion
// call. It always appends an assistant message and always records the
// interaction, whatever the completion outcome.
func (p *Pipeline) synthesizeResponse(ctx context.Context, st *TurnContext) {
	summary := p.refreshCalories(ctx, st)
	st.Calories = summary
	if st.Reasoning.DerivedData != nil {
		// The synthesis summary supersedes whatever the reasoning stage
		// echoed; it folds in logs saved this turn.
		st.Reasoning.DerivedData = &summary
	}

	answer := p.completeAnswer(ctx, st, summary)
	st.Answer = answer

	assistantMsg := Message{Role: "assistant", Content: answer.Text, CreatedAt: time.Now()}
	st.Messages = append(st.Messages, assistantMsg)
	p.appendSession(ctx, st.SessionID, assistantMsg)

	interaction := InteractionLogEntry{
		ID:        uuid.New().String(),
		UserID:    st.UserID,
		SessionID: st.SessionID,
		Date:      st.TargetDate,
		Query:     st.Query,
		Answer:    answer,
		CreatedAt: time.Now(),
	}
	if err := p.store.SaveInteraction(ctx, interaction); err != nil {
		p.logger.Printf("interaction log save failed for %s: %v", st.UserID, err)
	}
}

// refreshCalories recomputes consumed calories from a fresh read of the
// day's food logs, folding in scheduled saves that have not landed yet.
// The dedup snapshot from pipeline start is deliberately not reused here.
func (p *Pipeline) refreshCalories(ctx context.Context, st *TurnContext) CalorieSummary {
	food := st.DailyFood
	if st.UserID != "" {
		fresh, err := p.store.DailyFoodLogs(ctx, st.UserID, st.TargetDate)
		if err != nil {
			p.logger.Printf("fresh food re-read failed for %s/%s, using snapshot: %v", st.UserID, st.TargetDate, err)
		} else {
			food = fresh
		}
	}

	seen := make(map[string]struct{}, len(food))
	for _, entry := range food {
		seen[entry.ID] = struct{}{}
	}
	for _, scheduled := range st.Scheduled {
		if scheduled.Food == nil {
			continue
		}
		if _, ok := seen[scheduled.Food.ID]; ok {
			continue
		}
		food = append(food, *scheduled.Food)
	}

	exercise := st.DailyExercise
	for _, scheduled := range st.Scheduled {
		if scheduled.Exercise != nil {
			exercise = append(exercise, *scheduled.Exercise)
		}
	}

	return summarizeCalories(food, exercise, st.Profile)
}

// completeAnswer runs the final completion call, degrading to a fixed
// apology when it fails or returns unusable content.
func (p *Pipeline) completeAnswer(ctx context.Context, st *TurnContext, summary CalorieSummary) StructuredAnswer {
	prompt := buildSynthesisPrompt(st, summary)

	resp, err := p.completion.Complete(ctx, CompletionRequest{
		Model:       p.config.LLM.Routing.Synthesis,
		System:      synthesisSystemPrompt,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: 0.6,
		JSONOnly:    true,
	})
	if err != nil {
		p.logger.Printf("synthesis completion failed: %v", err)
		return apologyAnswer(fmt.Sprintf("synthesis unavailable: %v", err), summary)
	}

	jsonStr := extractJSONObject(resp)
	if jsonStr == "" {
		p.logger.Printf("synthesis returned no JSON")
		return apologyAnswer("synthesis output malformed: no JSON found", summary)
	}
	var answer StructuredAnswer
	if err := json.Unmarshal([]byte(jsonStr), &answer); err != nil {
		p.logger.Printf("synthesis output unparseable: %v", err)
		return apologyAnswer(fmt.Sprintf("synthesis output malformed: %v", err), summary)
	}
	if strings.TrimSpace(answer.Text) == "" {
		return apologyAnswer("synthesis produced empty text", summary)
	}

	// The model copies numbers, but the pipeline owns them.
	answer.DataSummary = dataSummaryFrom(summary)
	return answer
}

func apologyAnswer(reason string, summary CalorieSummary) StructuredAnswer {
	return StructuredAnswer{
		Text:        apologyText,
		DataSummary: dataSummaryFrom(summary),
		Error:       reason,
	}
}

func dataSummaryFrom(summary CalorieSummary) *DataSummary {
	ds := &DataSummary{
		CaloriesConsumed: summary.Consumed,
		CaloriesBurned:   summary.Burned,
	}
	if summary.Net != nil {
		net := *summary.Net
		ds.RemainingCalories = &net
	}
	return ds
}

func buildSynthesisPrompt(st *TurnContext, summary CalorieSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "TIME OF DAY: %s\n\n", timeOfDayLabel(st.Now))

	b.WriteString("REASONING FINDINGS:\n")
	if st.Reasoning.Error != "" {
		fmt.Fprintf(&b, "  (reasoning degraded: %s)\n", st.Reasoning.Error)
	}
	for _, s := range st.Reasoning.Insights {
		fmt.Fprintf(&b, "  insight: %s\n", s)
	}
	for _, s := range st.Reasoning.Suggestions {
		fmt.Fprintf(&b, "  suggestion: %s\n", s)
	}
	for _, s := range st.Reasoning.Warnings {
		fmt.Fprintf(&b, "  warning: %s\n", s)
	}

	b.WriteString("\nJUST LOGGED THIS TURN:\n")
	if len(st.Scheduled) == 0 {
		b.WriteString("  (nothing)\n")
	}
	for _, log := range st.Scheduled {
		if log.Food != nil {
			fmt.Fprintf(&b, "  - food: %s (%s, %.0f kcal)\n", log.Food.Name, log.Food.MealType, log.Food.Calories)
		} else if log.Exercise != nil {
			fmt.Fprintf(&b, "  - exercise: %s (%s, %.0f kcal burned)\n", log.Exercise.Name, log.Exercise.ExerciseType, log.Exercise.CaloriesBurned)
		}
	}
	for _, outcome := range st.Persisted {
		if outcome.Outcome == OutcomeSkipped {
			fmt.Fprintf(&b, "  - already logged earlier: %s %q\n", outcome.Kind, outcome.Name)
		}
	}

	b.WriteString("\nCALORIE SUMMARY (copy exactly):\n")
	fmt.Fprintf(&b, "  calories_consumed: %.0f\n  calories_burned: %.0f\n", summary.Consumed, summary.Burned)
	if summary.Net != nil {
		fmt.Fprintf(&b, "  remaining_calories: %.0f\n", *summary.Net)
	} else {
		b.WriteString("  remaining_calories: unavailable\n")
	}

	b.WriteString("\nRECENT CONVERSATION:\n")
	for _, msg := range st.Messages {
		fmt.Fprintf(&b, "  %s: %s\n", msg.Role, msg.Content)
	}

	return b.String()
}
