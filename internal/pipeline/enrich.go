package pipeline

import (
	"context"
	"sync"
)

// enrichIntents fans out over the reasoning intents concurrently, invoking
// the enrichment contract for each. Failures and nil results are dropped
// individually; collection order is whatever the goroutines produce.
func (p *Pipeline) enrichIntents(ctx context.Context, st *TurnContext) {
	intents := st.Reasoning.Intents
	if p.enricher == nil || len(intents) == 0 {
		return
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		enriched []EnrichedLog
	)

	for _, intent := range intents {
		wg.Add(1)
		go func(in LogIntent) {
			defer wg.Done()
			log, err := p.enricher.Enrich(ctx, in, st.UserID, st.TargetDate)
			if err != nil {
				p.logger.Printf("enrichment failed for %s intent %q: %v", in.Kind, in.RawPhrase, err)
				return
			}
			if log == nil || (log.Food == nil && log.Exercise == nil) {
				return
			}
			mu.Lock()
			enriched = append(enriched, *log)
			mu.Unlock()
		}(intent)
	}

	wg.Wait()
	st.Enriched = enriched
}
