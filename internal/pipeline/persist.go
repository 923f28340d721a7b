package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PersistReport collects the outcome of every enriched log for one turn:
// saved, skipped as duplicate, or errored. Saves run in the background, so
// outcomes may keep arriving after the answer is delivered; Wait blocks
// until all of them have landed.
type PersistReport struct {
	mu       sync.Mutex
	outcomes []PersistOutcome
	wg       sync.WaitGroup
}

func (r *PersistReport) add(o PersistOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

// Outcomes returns a snapshot of the outcomes recorded so far.
func (r *PersistReport) Outcomes() []PersistOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PersistOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Wait blocks until every background save launched for this turn finished.
func (r *PersistReport) Wait() {
	r.wg.Wait()
}

// dedupKey builds the duplicate-detection key: case-insensitive name plus
// the type discriminant (meal type for food, exercise type for exercise).
// The match is exact: near-duplicate phrasing is not caught and
// same-named unrelated items are suppressed.
func dedupKey(name, discriminant string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(discriminant))
}

// snapshotKeys indexes the daily-log snapshot fetched at pipeline start.
// The dedup decision is always taken against this snapshot, never a live
// re-query.
func snapshotKeys(food []FoodLogEntry, exercise []ExerciseLogEntry) map[string]struct{} {
	keys := make(map[string]struct{}, len(food)+len(exercise))
	for _, entry := range food {
		keys[KindFood+"|"+dedupKey(entry.Name, entry.MealType)] = struct{}{}
	}
	for _, entry := range exercise {
		keys[KindExercise+"|"+dedupKey(entry.Name, entry.ExerciseType)] = struct{}{}
	}
	return keys
}

func enrichedKey(log EnrichedLog) string {
	if log.Food != nil {
		return KindFood + "|" + dedupKey(log.Food.Name, log.Food.MealType)
	}
	return KindExercise + "|" + dedupKey(log.Exercise.Name, log.Exercise.ExerciseType)
}

// persistEnriched re-applies the dedup check against the daily snapshot
// (the reasoning stage's suppression is advisory only) and launches the
// non-duplicate saves as background tasks. The pipeline does not block on
// save completion; every outcome is recorded into the report and metrics.
func (p *Pipeline) persistEnriched(ctx context.Context, st *TurnContext) *PersistReport {
	st.Stage = StagePersistence
	report := &PersistReport{}

	if len(st.Enriched) == 0 {
		return report
	}

	existing := snapshotKeys(st.DailyFood, st.DailyExercise)
	timeout := p.config.Pipeline.PersistTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	for _, log := range st.Enriched {
		log := p.stampEnriched(log, st)
		if _, dup := existing[enrichedKey(log)]; dup {
			outcome := PersistOutcome{
				Kind:    log.Kind(),
				Name:    log.Name(),
				Outcome: OutcomeSkipped,
				Reason:  "matches existing daily log",
			}
			report.add(outcome)
			st.Persisted = append(st.Persisted, outcome)
			p.telemetry.RecordSave(OutcomeSkipped)
			continue
		}

		st.Scheduled = append(st.Scheduled, log)
		st.Persisted = append(st.Persisted, PersistOutcome{Kind: log.Kind(), Name: log.Name(), Outcome: OutcomeSaved})

		report.wg.Add(1)
		go func(entry EnrichedLog) {
			defer report.wg.Done()
			// Detached from the turn context: the response must not wait
			// on, nor be cancelled with, these saves.
			saveCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := p.saveEnriched(saveCtx, entry); err != nil {
				p.logger.Printf("background save failed for %s %q: %v", entry.Kind(), entry.Name(), err)
				report.add(PersistOutcome{Kind: entry.Kind(), Name: entry.Name(), Outcome: OutcomeError, Reason: err.Error()})
				p.telemetry.RecordSave(OutcomeError)
				return
			}
			report.add(PersistOutcome{Kind: entry.Kind(), Name: entry.Name(), Outcome: OutcomeSaved})
			p.telemetry.RecordSave(OutcomeSaved)

			p.indexEnriched(saveCtx, entry)
		}(log)
	}

	return report
}

// stampEnriched fills ids and pipeline-owned fields: agentic source, the
// resolved target date and the turn's user id.
func (p *Pipeline) stampEnriched(log EnrichedLog, st *TurnContext) EnrichedLog {
	now := time.Now()
	if log.Food != nil {
		entry := *log.Food
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		entry.UserID = st.UserID
		entry.Date = st.TargetDate
		entry.Source = SourceAgentic
		entry.CreatedAt = now
		return EnrichedLog{Food: &entry}
	}
	entry := *log.Exercise
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.UserID = st.UserID
	entry.Date = st.TargetDate
	entry.Source = SourceAgentic
	entry.CreatedAt = now
	return EnrichedLog{Exercise: &entry}
}

func (p *Pipeline) saveEnriched(ctx context.Context, log EnrichedLog) error {
	if log.Food != nil {
		return p.store.SaveFoodLog(ctx, *log.Food)
	}
	if log.Exercise != nil {
		return p.store.SaveExerciseLog(ctx, *log.Exercise)
	}
	return fmt.Errorf("enriched log has no entry")
}

// indexEnriched writes the new entry into the vector index so later turns
// can retrieve it by similarity. Best effort only.
func (p *Pipeline) indexEnriched(ctx context.Context, log EnrichedLog) {
	if p.embeddings == nil || p.vectors == nil {
		return
	}

	var rec VectorRecord
	if log.Food != nil {
		rec = VectorRecord{
			ID:     log.Food.ID,
			UserID: log.Food.UserID,
			Kind:   KindFood,
			Text:   fmt.Sprintf("%s (%s, %.0f kcal) on %s", log.Food.Name, log.Food.MealType, log.Food.Calories, log.Food.Date),
			Metadata: map[string]interface{}{
				"name":      log.Food.Name,
				"meal_type": log.Food.MealType,
				"calories":  log.Food.Calories,
				"date":      log.Food.Date,
			},
		}
	} else {
		rec = VectorRecord{
			ID:     log.Exercise.ID,
			UserID: log.Exercise.UserID,
			Kind:   KindExercise,
			Text:   fmt.Sprintf("%s (%s, %.0f kcal burned) on %s", log.Exercise.Name, log.Exercise.ExerciseType, log.Exercise.CaloriesBurned, log.Exercise.Date),
			Metadata: map[string]interface{}{
				"name":          log.Exercise.Name,
				"exercise_type": log.Exercise.ExerciseType,
				"calories":      log.Exercise.CaloriesBurned,
				"date":          log.Exercise.Date,
			},
		}
	}

	vector := p.embeddings.Embed(ctx, rec.Text)
	if vector == nil {
		return
	}
	rec.Vector = vector
	if err := p.vectors.Upsert(ctx, rec); err != nil {
		p.logger.Printf("vector index write failed for %s %q: %v", rec.Kind, rec.ID, err)
	}
}
