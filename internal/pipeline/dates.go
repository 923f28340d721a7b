package pipeline

import (
	"context"
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const dateSystemPrompt = `You resolve which calendar date a health-tracking message refers to.
Given the user's message and today's date, reply with exactly one date in YYYY-MM-DD format and nothing else.
"yesterday" means the day before today; weekday names refer to the most recent such day.
If the message does not clearly refer to another day, reply with today's date.`

// extractDate resolves the target date the query refers to. Any completion
// failure or malformed answer falls back to today.
func (p *Pipeline) extractDate(ctx context.Context, st *TurnContext) {
	today := st.Now.Format(dateLayout)
	st.TargetDate = today

	resp, err := p.completion.Complete(ctx, CompletionRequest{
		Model:  p.config.LLM.Routing.Dates,
		System: dateSystemPrompt,
		Messages: []Message{{
			Role:    "user",
			Content: "Today is " + today + ".\nMessage: " + st.Query,
		}},
		Temperature: 0,
	})
	if err != nil {
		p.logger.Printf("date extraction failed, defaulting to today: %v", err)
		return
	}

	candidate := strings.TrimSpace(resp)
	if !datePattern.MatchString(candidate) {
		p.logger.Printf("date extraction returned malformed value %q, defaulting to today", candidate)
		return
	}
	if _, err := time.Parse(dateLayout, candidate); err != nil {
		p.logger.Printf("date extraction returned invalid date %q, defaulting to today", candidate)
		return
	}
	st.TargetDate = candidate
}
