package pipeline

import (
	"context"
	"sync"
)

// fetchDailyContext issues the three independent daily reads concurrently.
// A missing user id short-circuits to empty lists; any individual read
// failure yields an empty list for that category without aborting siblings.
func (p *Pipeline) fetchDailyContext(ctx context.Context, st *TurnContext) {
	if st.UserID == "" {
		st.DailyFood = []FoodLogEntry{}
		st.DailyExercise = []ExerciseLogEntry{}
		st.DailyInteractions = []InteractionLogEntry{}
		return
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		logs, err := p.store.DailyFoodLogs(ctx, st.UserID, st.TargetDate)
		if err != nil {
			p.logger.Printf("daily food fetch failed for %s/%s: %v", st.UserID, st.TargetDate, err)
			logs = nil
		}
		st.DailyFood = logs
	}()
	go func() {
		defer wg.Done()
		logs, err := p.store.DailyExerciseLogs(ctx, st.UserID, st.TargetDate)
		if err != nil {
			p.logger.Printf("daily exercise fetch failed for %s/%s: %v", st.UserID, st.TargetDate, err)
			logs = nil
		}
		st.DailyExercise = logs
	}()
	go func() {
		defer wg.Done()
		logs, err := p.store.DailyInteractions(ctx, st.UserID, st.TargetDate)
		if err != nil {
			p.logger.Printf("daily interaction fetch failed for %s/%s: %v", st.UserID, st.TargetDate, err)
			logs = nil
		}
		st.DailyInteractions = logs
	}()

	wg.Wait()
}

// retrieveHistory embeds the query and issues three similarity searches
// concurrently. An embedding failure returns three empty lists immediately;
// any one search failure empties only its own category. Results are ranked
// by similarity, not recency.
func (p *Pipeline) retrieveHistory(ctx context.Context, st *TurnContext) {
	st.HistoricalFood = []VectorHit{}
	st.HistoricalExercise = []VectorHit{}
	st.HistoricalInteractions = []VectorHit{}

	if p.embeddings == nil || p.vectors == nil || st.UserID == "" {
		return
	}

	vector := p.embeddings.Embed(ctx, st.Query)
	if vector == nil {
		p.logger.Printf("query embedding unavailable, skipping historical retrieval")
		return
	}

	topK := p.config.Pipeline.HistoryTopK
	if topK <= 0 {
		topK = 5
	}

	search := func(kind string, out *[]VectorHit) {
		hits, err := p.vectors.Search(ctx, vector, topK, VectorFilter{UserID: st.UserID, Kind: kind})
		if err != nil {
			p.logger.Printf("historical %s search failed for %s: %v", kind, st.UserID, err)
			return
		}
		*out = hits
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); search(KindFood, &st.HistoricalFood) }()
	go func() { defer wg.Done(); search(KindExercise, &st.HistoricalExercise) }()
	go func() { defer wg.Done(); search(KindInteraction, &st.HistoricalInteractions) }()
	wg.Wait()
}

// retrieveKnowledge fetches the factual payload. A failed or empty response
// is passed through as a nil-content result; the reasoning stage handles
// its absence.
func (p *Pipeline) retrieveKnowledge(ctx context.Context, st *TurnContext) {
	if p.knowledge == nil {
		return
	}
	result, err := p.knowledge.Lookup(ctx, st.Query)
	if err != nil {
		p.logger.Printf("knowledge lookup failed: %v", err)
		return
	}
	st.Knowledge = result
}
