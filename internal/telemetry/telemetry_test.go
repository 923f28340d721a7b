package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/vital/internal/config"
)

func TestSnapshotCounts(t *testing.T) {
	tele := NewTelemetry(config.TelemetryConfig{Enabled: true})

	tele.RecordTurn("ok", 120*time.Millisecond)
	tele.RecordTurn("degraded", 80*time.Millisecond)
	tele.RecordLLMCall("gpt-5", 100, 40, nil)
	tele.RecordLLMCall("gpt-5", 60, 20, nil)
	tele.RecordLLMCall("gpt-5-nano", 10, 5, errors.New("boom"))

	snap := tele.Snapshot()
	if snap["turns_processed"].(int64) != 2 {
		t.Fatalf("turns = %v", snap["turns_processed"])
	}
	tokens := snap["tokens_by_model"].(map[string]int64)
	if tokens["gpt-5"] != 220 {
		t.Fatalf("gpt-5 tokens = %d", tokens["gpt-5"])
	}
	if tokens["gpt-5-nano"] != 15 {
		t.Fatalf("gpt-5-nano tokens = %d", tokens["gpt-5-nano"])
	}
}

func TestDisabledTelemetryIsInert(t *testing.T) {
	tele := NewTelemetry(config.TelemetryConfig{Enabled: false})
	tele.RecordTurn("ok", time.Second)
	tele.RecordStage("reasoning", time.Second)
	tele.RecordSave("saved")
	if tele.Snapshot()["turns_processed"].(int64) != 0 {
		t.Fatal("disabled telemetry must not count")
	}
}

func TestNilReceiverSafe(t *testing.T) {
	var tele *Telemetry
	tele.RecordTurn("ok", time.Second)
	tele.RecordStage("reasoning", time.Second)
	tele.RecordSave("saved")
	tele.RecordLLMCall("gpt-5", 1, 1, nil)
}
